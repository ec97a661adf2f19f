package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/ratelimit/store"
)

// captureEmitter records rate limit audit events.
type captureEmitter struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *captureEmitter) Emit(_ context.Context, event *audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEmitter) EmitAuthentication(ctx context.Context, action audit.Action, outcome audit.Outcome, subject *audit.Subject) {
	c.Emit(ctx, audit.AuthenticationEvent(action, outcome, subject))
}

func (c *captureEmitter) EmitAuthorization(ctx context.Context, outcome audit.Outcome, subject *audit.Subject, resource *audit.Resource) {
	c.Emit(ctx, audit.AuthorizationEvent(outcome, subject, resource))
}

func (c *captureEmitter) EmitRateLimit(ctx context.Context, subject *audit.Subject, severity audit.Severity, details map[string]interface{}) {
	c.Emit(ctx, audit.RateLimitEvent(subject, severity, details))
}

func (c *captureEmitter) EmitDataAccess(ctx context.Context, subject *audit.Subject, resource *audit.Resource, masked bool) {
	c.Emit(ctx, audit.DataAccessEvent(subject, resource, masked))
}

func (c *captureEmitter) Close() error { return nil }

func (c *captureEmitter) severities() []audit.Severity {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]audit.Severity, 0, len(c.events))
	for _, e := range c.events {
		result = append(result, e.Severity)
	}
	return result
}

var _ audit.Emitter = (*captureEmitter)(nil)

type limiterFixture struct {
	limiter Limiter
	store   store.Store
	emitter *captureEmitter
	clock   *testClock
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiterFixture(t *testing.T, cfg *config.RateLimitConfig) *limiterFixture {
	t.Helper()

	clock := &testClock{t: time.Unix(1_000_000, 0)}
	s := store.NewMemoryStore(store.WithMemoryStoreClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })

	emitter := &captureEmitter{}
	l := NewFixedWindowLimiter(s, cfg,
		WithLimiterEmitter(emitter),
		WithLimiterClock(clock.Now),
		WithLimiterMetrics(NewMetricsWithRegisterer("avauth", prometheus.NewRegistry())),
	)
	t.Cleanup(func() { _ = l.Close() })

	return &limiterFixture{limiter: l, store: s, emitter: emitter, clock: clock}
}

func TestLimiterEleventhCallRejected(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, &config.RateLimitConfig{Requests: 10, Window: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		outcome, err := f.limiter.Check(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, outcome.Allowed, "call %d", i)
		assert.Equal(t, 10-i, outcome.Remaining)
	}

	outcome, err := f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)
	assert.Zero(t, outcome.Remaining)
	assert.Positive(t, outcome.RetryAfter)
	assert.LessOrEqual(t, outcome.RetryAfter, time.Minute)
}

func TestLimiterWindowRolloverResetsToOne(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, &config.RateLimitConfig{Requests: 10, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := f.limiter.Check(ctx, "user-1")
		require.NoError(t, err)
	}

	f.clock.Advance(time.Minute)

	// First call of the new window succeeds and the counter holds
	// exactly that one request.
	outcome, err := f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
	assert.Equal(t, 9, outcome.Remaining)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, &config.RateLimitConfig{Requests: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.limiter.Check(ctx, "user-1")
		require.NoError(t, err)
	}

	outcome, err := f.limiter.Check(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
}

func TestLimiterFastRejectSkipsCounter(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, &config.RateLimitConfig{Requests: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.limiter.Check(ctx, "user-1")
		require.NoError(t, err)
	}

	windowStart := f.clock.Now().Truncate(time.Minute)
	windowKey := fmt.Sprintf("user-1:%d", windowStart.UnixNano())
	before, err := f.store.Get(ctx, windowKey)
	require.NoError(t, err)

	// Known-exceeded keys are rejected locally; the window counter
	// stays untouched.
	outcome, err := f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, outcome.Allowed)

	after, err := f.store.Get(ctx, windowKey)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The next window clears the shortcut.
	f.clock.Advance(time.Minute)
	outcome, err = f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
}

func TestLimiterCancelledRequestStaysCounted(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, &config.RateLimitConfig{Requests: 10, Window: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, outcome.Allowed)
	assert.Equal(t, 9, outcome.Remaining)
}

func TestLimiterAdaptiveScaling(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, &config.RateLimitConfig{
		Requests: 10,
		Window:   time.Minute,
		Adaptive: config.AdaptiveConfig{
			Enabled:        true,
			HighLoad:       0.8,
			CriticalLoad:   0.95,
			HighFactor:     0.75,
			CriticalFactor: 0.5,
		},
	})
	ctx := context.Background()

	outcome, err := f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10, outcome.Limit)

	f.limiter.SetLoad(0.85)
	outcome, err = f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 7, outcome.Limit)

	f.limiter.SetLoad(0.97)
	outcome, err = f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.Limit)
}

func TestLimiterViolationSeverityEscalates(t *testing.T) {
	t.Parallel()

	f := newLimiterFixture(t, &config.RateLimitConfig{
		Requests: 1,
		Window:   time.Minute,
		ViolationThresholds: config.ViolationThresholds{
			Medium:   2,
			High:     3,
			Critical: 4,
		},
	})
	ctx := context.Background()

	_, err := f.limiter.Check(ctx, "user-1")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		outcome, err := f.limiter.Check(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, outcome.Allowed)
	}

	assert.Equal(t, []audit.Severity{
		audit.SeverityLow,
		audit.SeverityMedium,
		audit.SeverityHigh,
		audit.SeverityCritical,
	}, f.emitter.severities())
}

func TestLimiterStoreErrorPropagates(t *testing.T) {
	t.Parallel()

	s := failingStore{}
	l := NewFixedWindowLimiter(s, &config.RateLimitConfig{Requests: 10, Window: time.Minute},
		WithLimiterMetrics(NewMetricsWithRegisterer("avauth", prometheus.NewRegistry())))
	t.Cleanup(func() { _ = l.Close() })

	_, err := l.Check(context.Background(), "user-1")
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (int64, error) {
	return 0, store.ErrStoreUnavailable
}

func (failingStore) Set(context.Context, string, int64, time.Duration) error {
	return store.ErrStoreUnavailable
}

func (failingStore) Increment(context.Context, string, int64) (int64, error) {
	return 0, store.ErrStoreUnavailable
}

func (failingStore) IncrementWithExpiry(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, store.ErrStoreUnavailable
}

func (failingStore) Delete(context.Context, string) error { return nil }

func (failingStore) Close() error { return nil }
