package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/ratelimit/store"
)

// violationTTL bounds how long a key's violation history escalates
// severity.
const violationTTL = time.Hour

// Outcome is the result of one rate limit check.
type Outcome struct {
	// Allowed indicates if the request may proceed.
	Allowed bool

	// Limit is the effective limit applied to this check.
	Limit int

	// Remaining is the quota left in the current window.
	Remaining int

	// ResetAfter is the time until the window rolls over.
	ResetAfter time.Duration

	// RetryAfter is the suggested backoff; set only on rejection and
	// never longer than the window.
	RetryAfter time.Duration
}

// Limiter bounds operations per key within a fixed window.
type Limiter interface {
	// Check counts one operation for the key and reports whether it
	// may proceed. The operation is counted even when the caller's
	// context is cancelled mid-check.
	Check(ctx context.Context, key string) (*Outcome, error)

	// SetLoad updates the system load signal in [0, 1] used by
	// adaptive scaling.
	SetLoad(load float64)

	// Close releases limiter resources. The counter store is owned by
	// the caller and stays open.
	Close() error
}

// fixedWindowLimiter implements Limiter with a fixed window counter.
type fixedWindowLimiter struct {
	store      store.Store
	requests   int
	window     time.Duration
	adaptive   config.AdaptiveConfig
	thresholds config.ViolationThresholds
	emitter    audit.Emitter
	logger     observability.Logger
	metrics    *Metrics
	now        func() time.Time

	loadMu sync.RWMutex
	load   float64

	// exceeded maps keys already over the limit to their window start,
	// a fast-reject shortcut only; the store stays authoritative.
	exceeded sync.Map
}

// LimiterOption is a functional option for the limiter.
type LimiterOption func(*fixedWindowLimiter)

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger observability.Logger) LimiterOption {
	return func(l *fixedWindowLimiter) {
		l.logger = logger
	}
}

// WithLimiterMetrics sets the metrics.
func WithLimiterMetrics(metrics *Metrics) LimiterOption {
	return func(l *fixedWindowLimiter) {
		l.metrics = metrics
	}
}

// WithLimiterEmitter sets the audit emitter.
func WithLimiterEmitter(emitter audit.Emitter) LimiterOption {
	return func(l *fixedWindowLimiter) {
		l.emitter = emitter
	}
}

// WithLimiterClock overrides the time source.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *fixedWindowLimiter) {
		l.now = now
	}
}

// NewFixedWindowLimiter creates a fixed window limiter over a counter
// store.
func NewFixedWindowLimiter(s store.Store, cfg *config.RateLimitConfig, opts ...LimiterOption) Limiter {
	if cfg == nil {
		defaults := config.DefaultConfig().RateLimit
		cfg = &defaults
	}

	l := &fixedWindowLimiter{
		store:      s,
		requests:   cfg.GetEffectiveRequests(),
		window:     cfg.GetEffectiveWindow(),
		adaptive:   cfg.Adaptive,
		thresholds: cfg.ViolationThresholds,
		emitter:    audit.NewNoopEmitter(),
		logger:     observability.NopLogger(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.metrics == nil {
		l.metrics = NewMetrics("avauth")
	}

	return l
}

// SetLoad updates the load signal used by adaptive scaling.
func (l *fixedWindowLimiter) SetLoad(load float64) {
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	l.loadMu.Lock()
	l.load = load
	l.loadMu.Unlock()
}

// Check counts one operation for the key and reports whether it may
// proceed.
func (l *fixedWindowLimiter) Check(ctx context.Context, key string) (*Outcome, error) {
	now := l.now()
	windowStart := l.windowStart(now)
	limit := l.effectiveLimit()
	resetAfter := windowStart.Add(l.window).Sub(now)

	// Fast path: a key already over the limit in this window is
	// rejected without a counter round-trip.
	if start, ok := l.exceeded.Load(key); ok {
		if start.(int64) == windowStart.UnixNano() {
			return l.reject(ctx, key, limit, resetAfter)
		}
		l.exceeded.Delete(key)
	}

	// One atomic increment per check. The mutation runs on a context
	// that survives caller cancellation: a request that was counted
	// stays counted.
	windowKey := fmt.Sprintf("%s:%d", key, windowStart.UnixNano())
	count, err := l.store.IncrementWithExpiry(
		context.WithoutCancel(ctx), windowKey, 1, l.window+time.Second)
	if err != nil {
		l.metrics.RecordCheck("error")
		return nil, err
	}

	if count > int64(limit) {
		l.exceeded.Store(key, windowStart.UnixNano())
		return l.reject(ctx, key, limit, resetAfter)
	}

	l.metrics.RecordCheck("allowed")
	return &Outcome{
		Allowed:    true,
		Limit:      limit,
		Remaining:  limit - int(count),
		ResetAfter: resetAfter,
	}, nil
}

// reject builds a rejection outcome, tracks the violation and audits
// it with the escalated severity.
func (l *fixedWindowLimiter) reject(ctx context.Context, key string, limit int, resetAfter time.Duration) (*Outcome, error) {
	retryAfter := resetAfter
	if retryAfter > l.window {
		retryAfter = l.window
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	violations, err := l.store.IncrementWithExpiry(
		context.WithoutCancel(ctx), "violations:"+key, 1, violationTTL)
	if err != nil {
		l.logger.Warn("failed to track rate limit violation",
			observability.String("key", key),
			observability.Error(err),
		)
		violations = 1
	}

	severity := l.classify(violations)
	l.metrics.RecordCheck("rejected")
	l.metrics.RecordViolation(string(severity))

	l.emitter.EmitRateLimit(ctx,
		&audit.Subject{ID: key},
		severity,
		map[string]interface{}{
			"limit":       limit,
			"window":      l.window.String(),
			"retry_after": retryAfter.String(),
			"violations":  violations,
		},
	)

	return &Outcome{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// windowStart returns the start of the fixed window containing t.
func (l *fixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// effectiveLimit scales the nominal limit down under load.
func (l *fixedWindowLimiter) effectiveLimit() int {
	if !l.adaptive.Enabled {
		return l.requests
	}

	l.loadMu.RLock()
	load := l.load
	l.loadMu.RUnlock()

	factor := 1.0
	switch {
	case load >= l.adaptive.CriticalLoad:
		factor = l.adaptive.CriticalFactor
	case load >= l.adaptive.HighLoad:
		factor = l.adaptive.HighFactor
	}

	limit := int(math.Floor(float64(l.requests) * factor))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// classify maps a violation count to a severity.
func (l *fixedWindowLimiter) classify(violations int64) audit.Severity {
	switch {
	case l.thresholds.Critical > 0 && violations >= int64(l.thresholds.Critical):
		return audit.SeverityCritical
	case l.thresholds.High > 0 && violations >= int64(l.thresholds.High):
		return audit.SeverityHigh
	case l.thresholds.Medium > 0 && violations >= int64(l.thresholds.Medium):
		return audit.SeverityMedium
	default:
		return audit.SeverityLow
	}
}

// Close releases limiter resources.
func (l *fixedWindowLimiter) Close() error {
	return nil
}

// Ensure fixedWindowLimiter implements Limiter.
var _ Limiter = (*fixedWindowLimiter)(nil)
