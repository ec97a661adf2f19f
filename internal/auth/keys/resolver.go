package keys

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Resolver resolves token signing keys by key ID.
type Resolver interface {
	// Resolve returns the verification key for the given key ID. An
	// empty kid selects the only key of a single-key set.
	Resolve(ctx context.Context, kid string) (any, error)
}

// jwksResolver caches a remote JWKS and resolves keys from it.
type jwksResolver struct {
	url           string
	ttl           time.Duration
	fetchTimeout  time.Duration
	retries       int
	rotationGrace time.Duration
	httpClient    *http.Client
	logger        observability.Logger
	breaker       *gobreaker.CircuitBreaker
	group         singleflight.Group

	mu         sync.RWMutex
	keys       *JSONWebKeySet
	lastFetch  time.Time
	lastForced time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// ResolverOption is a functional option for the JWKS resolver.
type ResolverOption func(*jwksResolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *jwksResolver) {
		r.logger = logger
	}
}

// WithResolverHTTPClient sets a custom HTTP client.
func WithResolverHTTPClient(client *http.Client) ResolverOption {
	return func(r *jwksResolver) {
		r.httpClient = client
	}
}

// WithResolverFetchTimeout bounds a single upstream fetch.
func WithResolverFetchTimeout(timeout time.Duration) ResolverOption {
	return func(r *jwksResolver) {
		r.fetchTimeout = timeout
	}
}

// WithResolverRetries sets the number of fetch attempts.
func WithResolverRetries(retries int) ResolverOption {
	return func(r *jwksResolver) {
		r.retries = retries
	}
}

// WithResolverRotationGrace sets the minimum interval between forced
// refreshes triggered by unknown key IDs.
func WithResolverRotationGrace(grace time.Duration) ResolverOption {
	return func(r *jwksResolver) {
		r.rotationGrace = grace
	}
}

// NewJWKSResolver creates a resolver backed by a remote JWKS endpoint.
// ttl is the key freshness window; keys older than twice the window are
// discarded when the source stays unreachable.
func NewJWKSResolver(url string, ttl time.Duration, opts ...ResolverOption) *jwksResolver {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	r := &jwksResolver{
		url:           url,
		ttl:           ttl,
		fetchTimeout:  10 * time.Second,
		retries:       3,
		rotationGrace: 10 * time.Second,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: r.fetchTimeout}
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "jwks-fetch",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("key source breaker state changed",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})

	return r
}

// Resolve returns the verification key for the given key ID.
func (r *jwksResolver) Resolve(ctx context.Context, kid string) (any, error) {
	keys, err := r.currentKeys(ctx)
	if err != nil {
		return nil, NewKeyError(kid, err)
	}

	jwk := findKey(keys, kid)
	if jwk == nil && r.allowRotationRefresh() {
		// The set may have rotated since the last fetch. One forced
		// refresh per grace window before giving up.
		if keys, err = r.refreshShared(ctx); err == nil {
			jwk = findKey(keys, kid)
		}
	}
	if jwk == nil {
		return nil, NewKeyError(kid, ErrKeyNotFound)
	}

	key, err := jwk.VerificationKey()
	if err != nil {
		return nil, NewKeyError(kid, err)
	}
	return key, nil
}

// findKey locates a key by ID; an empty kid selects the only key of a
// single-key set.
func findKey(set *JSONWebKeySet, kid string) *JSONWebKey {
	if set == nil {
		return nil
	}
	for i := range set.Keys {
		if set.Keys[i].Kid == kid {
			return &set.Keys[i]
		}
	}
	if kid == "" && len(set.Keys) == 1 {
		return &set.Keys[0]
	}
	return nil
}

// currentKeys returns the cached key set, refreshing it when the
// freshness window lapsed. A failed refresh keeps serving stale keys
// until the window has lapsed twice.
func (r *jwksResolver) currentKeys(ctx context.Context) (*JSONWebKeySet, error) {
	r.mu.RLock()
	keys := r.keys
	lastFetch := r.lastFetch
	r.mu.RUnlock()

	age := time.Since(lastFetch)
	if keys != nil && age <= r.ttl {
		return keys, nil
	}

	refreshed, err := r.refreshShared(ctx)
	if err == nil {
		return refreshed, nil
	}

	if keys != nil && age <= 2*r.ttl {
		r.logger.Warn("key refresh failed, serving stale keys",
			observability.Error(err),
			observability.Duration("age", age))
		return keys, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}

// allowRotationRefresh limits forced refreshes triggered by unknown
// key IDs so a flood of bogus kids cannot hammer the source.
func (r *jwksResolver) allowRotationRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastForced) < r.rotationGrace {
		return false
	}
	r.lastForced = time.Now()
	return true
}

// refreshShared de-duplicates concurrent refreshes. The fetch runs
// detached from the caller's cancellation: it is shared with other
// waiters and must commit the fetched set even when the triggering
// request hangs up. The per-attempt fetch timeout still bounds it.
func (r *jwksResolver) refreshShared(ctx context.Context) (*JSONWebKeySet, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		if err := r.Refresh(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*JSONWebKeySet), nil
}

// Refresh fetches the key set from the remote endpoint with bounded
// retries behind the circuit breaker.
func (r *jwksResolver) Refresh(ctx context.Context) error {
	result, err := r.breaker.Execute(func() (any, error) {
		return r.fetchWithRetry(ctx)
	})
	if err != nil {
		return err
	}

	jwks := result.(*JSONWebKeySet)

	r.mu.Lock()
	r.keys = jwks
	r.lastFetch = time.Now()
	r.mu.Unlock()

	r.logger.Debug("key set refreshed",
		observability.String("url", r.url),
		observability.Int("keyCount", len(jwks.Keys)))

	return nil
}

// fetchWithRetry fetches the key set with exponential backoff.
func (r *jwksResolver) fetchWithRetry(ctx context.Context) (*JSONWebKeySet, error) {
	attempts := r.retries
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		jwks, err := r.fetch(ctx)
		if err == nil {
			return jwks, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// fetch performs a single key set fetch.
func (r *jwksResolver) fetch(ctx context.Context) (*JSONWebKeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("key set endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("failed to read key set response: %w", err)
	}

	return ParseJWKSFromBytes(body)
}

// StartAutoRefresh starts a background refresh loop. interval <= 0
// defaults to half the freshness window.
func (r *jwksResolver) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 2
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := r.Refresh(ctx); err != nil {
			r.logger.Error("initial key set fetch failed", observability.Error(err))
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.logger.Error("key set refresh failed", observability.Error(err))
				}
			}
		}
	}()
}

// Stop stops the auto-refresh loop.
func (r *jwksResolver) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// LastFetch returns the time of the last successful fetch.
func (r *jwksResolver) LastFetch() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastFetch
}

var _ Resolver = (*jwksResolver)(nil)
