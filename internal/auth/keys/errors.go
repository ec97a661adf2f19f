package keys

import (
	"errors"
	"fmt"
)

// Sentinel errors for key resolution.
var (
	// ErrKeyNotFound indicates the key set has no key with the
	// requested ID.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrSourceUnavailable indicates the key source cannot be reached
	// and no usable cached keys remain.
	ErrSourceUnavailable = errors.New("key source unavailable")

	// ErrUnsupportedKeyType indicates the key cannot be converted to a
	// verification key.
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

// KeyError wraps a key resolution failure with its key ID.
type KeyError struct {
	Kid string
	Err error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	if e.Kid == "" {
		return fmt.Sprintf("key resolution failed: %v", e.Err)
	}
	return fmt.Sprintf("key resolution failed for kid %q: %v", e.Kid, e.Err)
}

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// NewKeyError creates a new KeyError.
func NewKeyError(kid string, err error) *KeyError {
	return &KeyError{Kid: kid, Err: err}
}
