package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

func TestMemoryCacheGetSet(t *testing.T) {
	t.Parallel()

	c := NewMemory(100, observability.NopLogger())
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	val, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	// Overwrite keeps a single entry.
	require.NoError(t, c.Set(ctx, "k1", []byte("v2"), time.Minute))
	val, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()

	c := NewMemory(100, observability.NopLogger())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)

	ok, err := c.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryCacheDelete(t *testing.T) {
	t.Parallel()

	c := NewMemory(100, observability.NopLogger())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	t.Parallel()

	c := NewMemory(3, observability.NopLogger())
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
	}

	// Touch k0 so k1 becomes the oldest.
	_, err := c.Get(ctx, "k0")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k3", []byte("v"), 0))

	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "k0")
	assert.NoError(t, err)
}

func TestMemoryCacheStats(t *testing.T) {
	t.Parallel()

	c := NewMemory(100, observability.NopLogger()).(CacheWithStats)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "nope")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
	assert.InDelta(t, 50.0, stats.HitRate(), 0.01)
}

func TestDisabledCache(t *testing.T) {
	t.Parallel()

	c := NewDisabled()
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrCacheDisabled)
	assert.ErrorIs(t, c.Delete(ctx, "k"), ErrCacheDisabled)

	ok, err := c.Exists(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}

func TestHashKey(t *testing.T) {
	t.Parallel()

	h1 := HashKey("token-a")
	h2 := HashKey("token-b")

	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, HashKey("token-a"))
	assert.NotContains(t, h1, "token")
}
