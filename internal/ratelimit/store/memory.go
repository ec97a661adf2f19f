package store

import (
	"context"
	"sync"
	"time"
)

// entry is a stored counter with its expiration.
type entry struct {
	value     int64
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryStore is an in-process counter store for tests and single-node
// setups.
type memoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stopChan chan struct{}
}

// MemoryStoreOption is a functional option for the memory store.
type MemoryStoreOption func(*memoryStore)

// WithMemoryStoreClock overrides the time source.
func WithMemoryStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *memoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-memory counter store.
func NewMemoryStore(opts ...MemoryStoreOption) Store {
	s := &memoryStore{
		now:      time.Now,
		entries:  make(map[string]*entry),
		stopChan: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Get retrieves the value for the given key.
func (s *memoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		delete(s.entries, key)
		return 0, ErrKeyNotFound
	}
	return e.value, nil
}

// Set sets the value for the given key with an expiration.
func (s *memoryStore) Set(_ context.Context, key string, value int64, expiration time.Duration) error {
	var expiresAt time.Time
	if expiration > 0 {
		expiresAt = s.now().Add(expiration)
	}

	s.mu.Lock()
	s.entries[key] = &entry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Increment atomically increments the value for the given key.
func (s *memoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.IncrementWithExpiry(ctx, key, delta, 0)
}

// IncrementWithExpiry atomically increments the value, setting the
// expiration when the increment created the key. An expired entry
// counts as absent, so the counter restarts at delta.
func (s *memoryStore) IncrementWithExpiry(_ context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		var expiresAt time.Time
		if expiration > 0 {
			expiresAt = now.Add(expiration)
		}
		s.entries[key] = &entry{value: delta, expiresAt: expiresAt}
		return delta, nil
	}

	e.value += delta
	return e.value, nil
}

// Delete removes the key from the store.
func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the cleanup loop.
func (s *memoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	return nil
}

// cleanupLoop periodically removes expired entries.
func (s *memoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

func (s *memoryStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

var _ Store = (*memoryStore)(nil)
