package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/config"
)

// storeFactory builds a store plus a clock the test can advance.
type storeFactory func(t *testing.T, idleTimeout time.Duration) (Store, *fakeClock)

type fakeClock struct {
	mu  chan struct{}
	t   time.Time
	adv func(d time.Duration)
}

func newFakeClock() *fakeClock {
	c := &fakeClock{mu: make(chan struct{}, 1), t: time.Now()}
	c.mu <- struct{}{}
	return c
}

func (c *fakeClock) Now() time.Time {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	<-c.mu
	c.t = c.t.Add(d)
	c.mu <- struct{}{}
}

func memoryFactory(t *testing.T, idleTimeout time.Duration) (Store, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	s := NewMemoryStore(&config.SessionConfig{IdleTimeout: idleTimeout},
		WithMemoryStoreClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func redisFactory(t *testing.T, idleTimeout time.Duration) (Store, *fakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	s := NewRedisStoreWithClient(client,
		&config.SessionConfig{IdleTimeout: idleTimeout, Prefix: "session:"},
		WithRedisStoreClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": memoryFactory,
		"redis":  redisFactory,
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, _ := factory(t, 30*time.Minute)
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, &Record{
				ID:        "sess-1",
				Subject:   "user-1",
				IPAddress: "10.0.0.1",
				Device:    "cli",
			}))

			record, err := s.Get(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, "user-1", record.Subject)
			assert.False(t, record.CreatedAt.IsZero())

			active, err := s.IsActive(ctx, "sess-1")
			require.NoError(t, err)
			assert.True(t, active)

			require.NoError(t, s.Delete(ctx, "sess-1"))
			_, err = s.Get(ctx, "sess-1")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestSessionAbsentIsInactive(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, _ := factory(t, 30*time.Minute)

			active, err := s.IsActive(context.Background(), "never-created")
			require.NoError(t, err)
			assert.False(t, active)
		})
	}
}

func TestSessionRevocation(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, _ := factory(t, 30*time.Minute)
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, &Record{ID: "sess-1", Subject: "user-1"}))
			require.NoError(t, s.Revoke(ctx, "sess-1"))

			active, err := s.IsActive(ctx, "sess-1")
			require.NoError(t, err)
			assert.False(t, active)

			// Revoking an absent session is not an error.
			assert.NoError(t, s.Revoke(ctx, "missing"))
		})
	}
}

func TestSessionIdleTimeout(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, clock := factory(t, 10*time.Minute)
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, &Record{ID: "sess-1", Subject: "user-1"}))

			clock.Advance(11 * time.Minute)

			active, err := s.IsActive(ctx, "sess-1")
			require.NoError(t, err)
			assert.False(t, active)
		})
	}
}

func TestSessionTouchExtendsLife(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, clock := factory(t, 10*time.Minute)
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, &Record{ID: "sess-1", Subject: "user-1"}))

			clock.Advance(8 * time.Minute)
			require.NoError(t, s.Touch(ctx, "sess-1"))

			clock.Advance(8 * time.Minute)

			// 16 minutes since creation but only 8 since the touch.
			active, err := s.IsActive(ctx, "sess-1")
			require.NoError(t, err)
			assert.True(t, active)
		})
	}
}

func TestRedisStoreServerSideTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStoreWithClient(client, &config.SessionConfig{
		IdleTimeout: 10 * time.Minute,
		Prefix:      "session:",
	})
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &Record{ID: "sess-1", Subject: "user-1"}))
	assert.True(t, mr.Exists("session:sess-1"))

	// The store enforces idle expiry even without reads.
	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists("session:sess-1"))

	active, err := s.IsActive(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, active)
}
