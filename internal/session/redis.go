package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// redisStore keeps session records in Redis as JSON values. The value
// TTL equals the idle timeout, so idle expiry is also enforced by the
// store itself.
type redisStore struct {
	client      *redis.Client
	prefix      string
	idleTimeout time.Duration
	timeout     time.Duration
	logger      observability.Logger
	ownsClient  bool
	now         func() time.Time
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*redisStore)

// WithRedisStoreLogger sets the logger.
func WithRedisStoreLogger(logger observability.Logger) RedisStoreOption {
	return func(s *redisStore) {
		s.logger = logger
	}
}

// WithRedisStoreClock overrides the time source.
func WithRedisStoreClock(now func() time.Time) RedisStoreOption {
	return func(s *redisStore) {
		s.now = now
	}
}

// NewRedisStore creates a session store on a dedicated Redis client.
func NewRedisStore(redisCfg *config.RedisConfig, sessionCfg *config.SessionConfig, opts ...RedisStoreOption) (Store, error) {
	if redisCfg == nil || redisCfg.Address == "" {
		return nil, errors.New("redis configuration is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Address,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	timeout := redisCfg.GetEffectiveTimeout()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s := newRedisStore(client, sessionCfg, timeout, opts...)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisStoreWithClient(client *redis.Client, sessionCfg *config.SessionConfig, opts ...RedisStoreOption) Store {
	return newRedisStore(client, sessionCfg, config.DefaultStoreTimeout, opts...)
}

func newRedisStore(client *redis.Client, sessionCfg *config.SessionConfig, timeout time.Duration, opts ...RedisStoreOption) *redisStore {
	if sessionCfg == nil {
		defaults := config.DefaultConfig().Session
		sessionCfg = &defaults
	}

	prefix := sessionCfg.Prefix
	if prefix == "" {
		prefix = "session:"
	}

	s := &redisStore{
		client:      client,
		prefix:      prefix,
		idleTimeout: sessionCfg.GetEffectiveIdleTimeout(),
		timeout:     timeout,
		logger:      observability.NopLogger(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

func (s *redisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Create persists a new session record.
func (s *redisStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return errors.New("session record requires an ID")
	}

	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.LastActivity.IsZero() {
		record.LastActivity = now
	}

	return s.write(ctx, record)
}

// Get returns the record for a session ID.
func (s *redisStore) Get(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &record, nil
}

// IsActive reports whether the session is usable.
func (s *redisStore) IsActive(ctx context.Context, id string) (bool, error) {
	record, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.ActiveAt(s.now(), s.idleTimeout), nil
}

// Touch updates the session's last-activity time and renews the store
// TTL.
func (s *redisStore) Touch(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	record.LastActivity = s.now()
	return s.write(ctx, record)
}

// Revoke marks the session as terminated. The record stays until its
// TTL lapses so repeat lookups keep reading revoked, not absent.
func (s *redisStore) Revoke(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	record.Revoked = true
	return s.write(ctx, record)
}

// Delete removes the session record entirely.
func (s *redisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
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

func (s *redisStore) write(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Set(ctx, s.key(record.ID), data, s.idleTimeout).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

var _ Store = (*redisStore)(nil)
