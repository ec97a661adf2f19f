package gdpr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avauth/internal/config"
)

// ErrConsentStoreUnavailable indicates the consent store could not be
// reached. Callers fail closed and mask.
var ErrConsentStoreUnavailable = errors.New("consent store unavailable")

// ScopeForField returns the consent scope guarding a field.
func ScopeForField(field string) string {
	return "access:" + field
}

// ConsentStore records which subjects an owner has granted access to.
// Grants are scoped, one scope per field.
type ConsentStore interface {
	// Grant records the owner's consent for a subject and scope.
	Grant(ctx context.Context, ownerID, subjectID, scope string) error

	// Revoke withdraws a previously recorded consent.
	Revoke(ctx context.Context, ownerID, subjectID, scope string) error

	// Has reports whether the owner granted the subject the scope.
	Has(ctx context.Context, ownerID, subjectID, scope string) (bool, error)

	// Close releases store resources.
	Close() error
}

// memoryConsentStore keeps grants in process memory.
type memoryConsentStore struct {
	mu     sync.RWMutex
	grants map[string]map[string]struct{}
}

// NewMemoryConsentStore creates an in-memory consent store.
func NewMemoryConsentStore() ConsentStore {
	return &memoryConsentStore{
		grants: make(map[string]map[string]struct{}),
	}
}

func consentKey(ownerID, subjectID string) string {
	return ownerID + "\x00" + subjectID
}

func (s *memoryConsentStore) Grant(_ context.Context, ownerID, subjectID, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consentKey(ownerID, subjectID)
	scopes, ok := s.grants[key]
	if !ok {
		scopes = make(map[string]struct{})
		s.grants[key] = scopes
	}
	scopes[scope] = struct{}{}
	return nil
}

func (s *memoryConsentStore) Revoke(_ context.Context, ownerID, subjectID, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consentKey(ownerID, subjectID)
	if scopes, ok := s.grants[key]; ok {
		delete(scopes, scope)
		if len(scopes) == 0 {
			delete(s.grants, key)
		}
	}
	return nil
}

func (s *memoryConsentStore) Has(_ context.Context, ownerID, subjectID, scope string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes, ok := s.grants[consentKey(ownerID, subjectID)]
	if !ok {
		return false, nil
	}
	_, granted := scopes[scope]
	return granted, nil
}

func (s *memoryConsentStore) Close() error {
	return nil
}

// redisConsentStore keeps grants as Redis sets, one set per
// owner/subject pair.
type redisConsentStore struct {
	client     *redis.Client
	prefix     string
	timeout    time.Duration
	ownsClient bool
}

// NewRedisConsentStore creates a consent store on a dedicated Redis
// client.
func NewRedisConsentStore(redisCfg *config.RedisConfig) (ConsentStore, error) {
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
		return nil, fmt.Errorf("%w: %v", ErrConsentStoreUnavailable, err)
	}

	return &redisConsentStore{
		client:     client,
		prefix:     "consent:",
		timeout:    timeout,
		ownsClient: true,
	}, nil
}

// NewRedisConsentStoreWithClient wraps an existing client. The caller
// keeps ownership of the client.
func NewRedisConsentStoreWithClient(client *redis.Client, prefix string) ConsentStore {
	if prefix == "" {
		prefix = "consent:"
	}
	return &redisConsentStore{
		client:  client,
		prefix:  prefix,
		timeout: config.DefaultStoreTimeout,
	}
}

func (s *redisConsentStore) key(ownerID, subjectID string) string {
	return s.prefix + ownerID + ":" + subjectID
}

func (s *redisConsentStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *redisConsentStore) Grant(ctx context.Context, ownerID, subjectID, scope string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.SAdd(ctx, s.key(ownerID, subjectID), scope).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConsentStoreUnavailable, err)
	}
	return nil
}

func (s *redisConsentStore) Revoke(ctx context.Context, ownerID, subjectID, scope string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.SRem(ctx, s.key(ownerID, subjectID), scope).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConsentStoreUnavailable, err)
	}
	return nil
}

func (s *redisConsentStore) Has(ctx context.Context, ownerID, subjectID, scope string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	granted, err := s.client.SIsMember(ctx, s.key(ownerID, subjectID), scope).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConsentStoreUnavailable, err)
	}
	return granted, nil
}

func (s *redisConsentStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

var (
	_ ConsentStore = (*memoryConsentStore)(nil)
	_ ConsentStore = (*redisConsentStore)(nil)
)
