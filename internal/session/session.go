package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound indicates no record exists for the session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable indicates the backing store cannot be
	// reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Record is a server-side session record.
type Record struct {
	// ID is the session identifier carried in token sid claims.
	ID string `json:"id"`

	// Subject is the authenticated subject owning the session.
	Subject string `json:"subject"`

	// CreatedAt is when the session was established.
	CreatedAt time.Time `json:"created_at"`

	// LastActivity is the time of the most recent touch.
	LastActivity time.Time `json:"last_activity"`

	// Revoked marks the session as explicitly terminated.
	Revoked bool `json:"revoked"`

	// IPAddress is the client address at login.
	IPAddress string `json:"ip_address,omitempty"`

	// Device is the client device tag at login.
	Device string `json:"device,omitempty"`
}

// ActiveAt reports whether the record counts as active at the given
// instant under the given idle timeout.
func (r *Record) ActiveAt(now time.Time, idleTimeout time.Duration) bool {
	if r == nil || r.Revoked {
		return false
	}
	return now.Sub(r.LastActivity) <= idleTimeout
}

// Store manages session records.
type Store interface {
	// Create persists a new session record.
	Create(ctx context.Context, record *Record) error

	// Get returns the record for a session ID.
	// Returns ErrSessionNotFound when no record exists.
	Get(ctx context.Context, id string) (*Record, error)

	// IsActive reports whether the session exists, is not revoked and
	// is within the idle timeout. Absence reads as inactive.
	IsActive(ctx context.Context, id string) (bool, error)

	// Touch updates the session's last-activity time.
	Touch(ctx context.Context, id string) error

	// Revoke marks the session as terminated. Revoking an absent
	// session is not an error.
	Revoke(ctx context.Context, id string) error

	// Delete removes the session record entirely.
	Delete(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}
