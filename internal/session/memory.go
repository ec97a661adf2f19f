package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vyrodovalexey/avauth/internal/config"
)

// memoryStore is an in-process session store for tests and single-node
// setups.
type memoryStore struct {
	idleTimeout time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	records map[string]*Record
}

// MemoryStoreOption is a functional option for the memory store.
type MemoryStoreOption func(*memoryStore)

// WithMemoryStoreClock overrides the time source.
func WithMemoryStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *memoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(sessionCfg *config.SessionConfig, opts ...MemoryStoreOption) Store {
	if sessionCfg == nil {
		defaults := config.DefaultConfig().Session
		sessionCfg = &defaults
	}

	s := &memoryStore{
		idleTimeout: sessionCfg.GetEffectiveIdleTimeout(),
		now:         time.Now,
		records:     make(map[string]*Record),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create persists a new session record.
func (s *memoryStore) Create(_ context.Context, record *Record) error {
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

	cp := *record

	s.mu.Lock()
	s.records[record.ID] = &cp
	s.mu.Unlock()

	return nil
}

// Get returns the record for a session ID. Records past the idle
// timeout read as absent, matching the Redis TTL behavior.
func (s *memoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.now().Sub(record.LastActivity) > s.idleTimeout {
		s.mu.Lock()
		delete(s.records, id)
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	cp := *record
	return &cp, nil
}

// IsActive reports whether the session is usable.
func (s *memoryStore) IsActive(ctx context.Context, id string) (bool, error) {
	record, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.ActiveAt(s.now(), s.idleTimeout), nil
}

// Touch updates the session's last-activity time.
func (s *memoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrSessionNotFound
	}
	record.LastActivity = s.now()
	return nil
}

// Revoke marks the session as terminated.
func (s *memoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok {
		record.Revoked = true
	}
	return nil
}

// Delete removes the session record entirely.
func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Close releases store resources.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.records = make(map[string]*Record)
	s.mu.Unlock()
	return nil
}

var _ Store = (*memoryStore)(nil)
