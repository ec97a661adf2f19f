package authz

import "errors"

// Sentinel errors for authorization.
var (
	// ErrNoIdentity indicates an authorization request without an
	// identity.
	ErrNoIdentity = errors.New("no identity in authorization request")
)
