package auth

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth/token"
)

// AnonymousSubject is the sentinel subject for unauthenticated callers.
const AnonymousSubject = "anonymous"

// Identity is the per-request view of the authenticated caller. It is
// derived from a verified claim set plus a live session record and is
// valid for a single request.
type Identity struct {
	// Subject is the unique identifier of the caller.
	Subject string `json:"sub"`

	// SessionID is the server-side session backing this identity.
	SessionID string `json:"sid,omitempty"`

	// Roles assigned to the caller.
	Roles []string `json:"roles,omitempty"`

	// Permissions assigned to the caller.
	Permissions []string `json:"permissions,omitempty"`

	// IPAddress is the caller's network address.
	IPAddress string `json:"ip,omitempty"`

	// Device is the caller's device tag.
	Device string `json:"device,omitempty"`

	// AuthMethod is the authentication method tag ("jwt", "anonymous").
	AuthMethod string `json:"auth_method"`

	// MFAVerified indicates the caller completed a second factor.
	MFAVerified bool `json:"mfa_verified,omitempty"`

	// RiskScore is the issuer-assigned risk estimate, if any.
	RiskScore float64 `json:"risk_score,omitempty"`

	// ExpiresAt is when the backing credential expires.
	ExpiresAt time.Time `json:"exp,omitempty"`
}

// Anonymous returns the sentinel identity for unauthenticated callers.
func Anonymous(ip string) *Identity {
	return &Identity{
		Subject:    AnonymousSubject,
		Roles:      []string{AnonymousSubject},
		IPAddress:  ip,
		AuthMethod: "anonymous",
	}
}

// IsAnonymous reports whether this is the anonymous sentinel identity.
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.Subject == AnonymousSubject
}

// HasRole checks if the identity has a specific role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the identity has any of the specified roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// HasAllRoles checks if the identity has all of the specified roles.
func (i *Identity) HasAllRoles(roles ...string) bool {
	for _, role := range roles {
		if !i.HasRole(role) {
			return false
		}
	}
	return true
}

// HasPermission checks if the identity has a specific permission.
func (i *Identity) HasPermission(permission string) bool {
	for _, p := range i.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// IdentityFromClaims builds an identity from a verified claim set. The
// claim set's own IP wins over the transport address when present.
func IdentityFromClaims(claims *token.ClaimSet, transportIP string) *Identity {
	identity := &Identity{
		Subject:     claims.Subject,
		SessionID:   claims.SessionID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		IPAddress:   transportIP,
		Device:      claims.Device,
		AuthMethod:  "jwt",
		MFAVerified: claims.MFAVerified,
		RiskScore:   claims.RiskScore,
	}
	if claims.IPAddress != "" {
		identity.IPAddress = claims.IPAddress
	}
	if claims.AuthMethod != "" {
		identity.AuthMethod = claims.AuthMethod
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity
}

// Context key type for identity.
type identityContextKey struct{}

// ContextWithIdentity adds an identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}

// ErrIdentityNotFound is returned when identity is not found in context.
var ErrIdentityNotFound = errors.New("identity not found in context")
