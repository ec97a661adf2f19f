package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func memoryFactory(t *testing.T) Store {
	t.Helper()

	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func redisFactory(t *testing.T) Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStoreWithClient(client, "rl:")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": memoryFactory,
		"redis":  redisFactory,
	}
}

func TestStoreGetSet(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := factory(t)
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, s.Set(ctx, "k", 7, time.Minute))
			v, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, int64(7), v)

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestStoreIncrementWithExpiry(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := factory(t)
			ctx := context.Background()

			// A fresh key starts at the delta.
			v, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(1), v)

			v, err = s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(2), v)

			v, err = s.IncrementWithExpiry(ctx, "counter", 3, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(5), v)
		})
	}
}

func TestStoreConcurrentIncrements(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := factory(t)
			ctx := context.Background()

			const workers = 20
			var wg sync.WaitGroup
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					_, err := s.IncrementWithExpiry(ctx, "hot", 1, time.Minute)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			v, err := s.Get(ctx, "hot")
			require.NoError(t, err)
			assert.Equal(t, int64(workers), v)
		})
	}
}

func TestMemoryStoreExpiredKeyRestartsAtDelta(t *testing.T) {
	t.Parallel()

	now := time.Now()
	current := now
	s := NewMemoryStore(WithMemoryStoreClock(func() time.Time { return current }))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	v, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	current = now.Add(2 * time.Minute)

	// Expiry lapsed: the counter restarts at the delta, not at old+delta.
	v, err = s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestRedisStoreServerSideExpiry(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStoreWithClient(client, "rl:")
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("rl:counter"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("rl:counter"))

	v, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestRedisStoreUnavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStoreWithClient(client, "rl:")

	_, err := s.IncrementWithExpiry(context.Background(), "counter", 1, time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
