package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// redisCache implements a Redis-backed cache.
type redisCache struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration

	hits   int64
	misses int64
}

// NewRedis creates a Redis cache from the shared store configuration.
// keyPrefix namespaces the entries so several components can share one
// database.
func NewRedis(cfg *config.RedisConfig, keyPrefix string, logger observability.Logger) (Cache, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.GetEffectiveTimeout()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logger.Debug("redis cache initialized",
		observability.String("address", cfg.Address),
		observability.String("keyPrefix", keyPrefix))

	return &redisCache{
		logger:    logger,
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   timeout,
	}, nil
}

// NewRedisWithClient wraps an existing client. The caller keeps
// ownership of the client; Close is a no-op on it.
func NewRedisWithClient(client *redis.Client, keyPrefix string, logger observability.Logger) Cache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &redisCache{
		logger:    logger,
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   config.DefaultStoreTimeout,
	}
}

func (c *redisCache) resolveKey(key string) string {
	return c.keyPrefix + key
}

func (c *redisCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Get retrieves a value from the cache.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	val, err := c.client.Get(ctx, c.resolveKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("redis").Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	atomic.AddInt64(&c.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues("redis").Inc()

	return val, nil
}

// Set stores a value in the cache.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.client.Set(ctx, c.resolveKey(key), value, ttl).Err(); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value from the cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.client.Del(ctx, c.resolveKey(key)).Err(); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Exists checks if a key exists in the cache.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.client.Exists(ctx, c.resolveKey(key)).Result()
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "exists").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (c *redisCache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics. Size is not tracked for Redis.
func (c *redisCache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}

var _ CacheWithStats = (*redisCache)(nil)
