// Package store provides counter storage backends for rate limiting.
//
// The store is the source of truth for rate-limit counters: all
// mutation happens through atomic increments here, never in process
// memory, so counts stay exact across instances.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not present in the store.
var ErrKeyNotFound = errors.New("rate limit key not found")

// ErrStoreUnavailable indicates the backing store cannot be reached.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Store is a keyed atomic counter store.
type Store interface {
	// Get retrieves the value for the given key.
	// Returns ErrKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)

	// Set sets the value for the given key with an expiration.
	Set(ctx context.Context, key string, value int64, expiration time.Duration) error

	// Increment atomically increments the value for the given key.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// IncrementWithExpiry atomically increments the value, setting the
	// expiration when the increment created the key.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}
