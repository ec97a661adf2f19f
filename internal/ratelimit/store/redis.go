package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// incrementWithExpiryScript atomically increments a counter and sets
// its expiration when the increment created the key.
// KEYS[1] = key, ARGV[1] = delta, ARGV[2] = expiration in seconds.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// redisStore implements Store over the shared Redis counter store.
type redisStore struct {
	client     *redis.Client
	prefix     string
	timeout    time.Duration
	logger     observability.Logger
	ownsClient bool
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*redisStore)

// WithRedisStoreLogger sets the logger.
func WithRedisStoreLogger(logger observability.Logger) RedisStoreOption {
	return func(s *redisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a counter store on a dedicated Redis client.
func NewRedisStore(cfg *config.RedisConfig, prefix string, opts ...RedisStoreOption) (Store, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, errors.New("redis configuration is required")
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
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s := newRedisStore(client, prefix, timeout, opts...)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, opts ...RedisStoreOption) Store {
	return newRedisStore(client, prefix, config.DefaultStoreTimeout, opts...)
}

func newRedisStore(client *redis.Client, prefix string, timeout time.Duration, opts ...RedisStoreOption) *redisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}

	s := &redisStore{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *redisStore) key(key string) string {
	return s.prefix + key
}

func (s *redisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get retrieves the value for the given key.
func (s *redisStore) Get(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrKeyNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse counter value: %w", err)
	}
	return n, nil
}

// Set sets the value for the given key with an expiration.
func (s *redisStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), value, expiration).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Increment atomically increments the value for the given key.
func (s *redisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	val, err := s.client.IncrBy(ctx, s.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return val, nil
}

// IncrementWithExpiry atomically increments the value, setting the
// expiration when the increment created the key. The script keeps
// increment and expire in one atomic step.
func (s *redisStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	expirationSecs := int64(expiration.Seconds())
	if expirationSecs < 1 {
		expirationSecs = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.key(key)}, delta, expirationSecs).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	val, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("counter script returned unexpected type %T", result)
	}
	return val, nil
}

// Delete removes the key from the store.
func (s *redisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the client when this store owns it.
func (s *redisStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

var _ Store = (*redisStore)(nil)
