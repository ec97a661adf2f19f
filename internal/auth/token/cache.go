package token

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vyrodovalexey/avauth/internal/cache"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// TokenCache memoizes successful validations. Entries are keyed by the
// token's SHA-256 digest so raw credentials never appear as store keys,
// and they never outlive the token's own expiry.
type TokenCache struct {
	store   cache.Cache
	ceiling time.Duration
	logger  observability.Logger
	now     func() time.Time
}

// TokenCacheOption is a functional option for the token cache.
type TokenCacheOption func(*TokenCache)

// WithTokenCacheLogger sets the logger.
func WithTokenCacheLogger(logger observability.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// WithTokenCacheClock overrides the time source.
func WithTokenCacheClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// NewTokenCache creates a validation cache over the given store.
// ceiling bounds how long a result may be reused regardless of token
// lifetime; ceiling <= 0 selects 5 minutes.
func NewTokenCache(store cache.Cache, ceiling time.Duration, opts ...TokenCacheOption) *TokenCache {
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}

	c := &TokenCache{
		store:   store,
		ceiling: ceiling,
		logger:  observability.NopLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the cached claim set for a raw token, or nil on a miss.
// Store failures degrade to a miss.
func (c *TokenCache) Get(ctx context.Context, raw string) *ClaimSet {
	if c.store == nil || raw == "" {
		return nil
	}

	data, err := c.store.Get(ctx, cache.HashKey(raw))
	if err != nil {
		return nil
	}

	var claims ClaimSet
	if err := json.Unmarshal(data, &claims); err != nil {
		c.logger.Warn("dropping undecodable cached validation", observability.Error(err))
		return nil
	}

	// The TTL already bounds staleness, but an entry written just
	// before expiry must not outlive the token.
	if claims.ExpiresAt != nil && !c.now().Before(claims.ExpiresAt.Time) {
		return nil
	}

	return &claims
}

// Set stores a validated claim set. Entries are bounded by both the
// ceiling and the token's remaining lifetime; already-expired claim
// sets are not stored. Store failures are logged and ignored.
func (c *TokenCache) Set(ctx context.Context, raw string, claims *ClaimSet) {
	if c.store == nil || raw == "" || claims == nil {
		return
	}

	ttl := c.ceiling
	if claims.ExpiresAt != nil {
		remaining := claims.Remaining(c.now())
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}

	data, err := json.Marshal(claims)
	if err != nil {
		c.logger.Warn("failed to encode validation result", observability.Error(err))
		return
	}

	if err := c.store.Set(ctx, cache.HashKey(raw), data, ttl); err != nil {
		c.logger.Warn("failed to cache validation result", observability.Error(err))
	}
}

// Invalidate drops the cached result for a raw token.
func (c *TokenCache) Invalidate(ctx context.Context, raw string) {
	if c.store == nil || raw == "" {
		return
	}
	if err := c.store.Delete(ctx, cache.HashKey(raw)); err != nil {
		c.logger.Warn("failed to invalidate cached validation", observability.Error(err))
	}
}
