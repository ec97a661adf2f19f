package auth

import (
	"net/http"
	"time"
)

// FailureKind is the public classification of an assembly failure.
type FailureKind string

// Failure kinds exposed to the transport layer.
const (
	// FailureUnauthenticated covers malformed, invalid, expired and
	// revoked credentials.
	FailureUnauthenticated FailureKind = "unauthenticated"

	// FailureForbidden covers authorization denials.
	FailureForbidden FailureKind = "forbidden"

	// FailureRateLimited covers rate limit rejections.
	FailureRateLimited FailureKind = "rate_limited"

	// FailureUnavailable covers infrastructure failures where the
	// system could not decide.
	FailureUnavailable FailureKind = "unavailable"
)

// Failure is a typed negative outcome. Reason is the precise internal
// cause and belongs in logs and audit events only; clients see the
// generic Message.
type Failure struct {
	Kind       FailureKind
	Reason     string
	RetryAfter time.Duration

	cause error
}

// NewFailure creates a failure of the given kind.
func NewFailure(kind FailureKind, reason string) *Failure {
	return &Failure{Kind: kind, Reason: reason}
}

// Error implements the error interface with the generic message.
func (f *Failure) Error() string {
	return f.Message()
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.cause
}

// Message is the generic, non-leaking text for the caller.
func (f *Failure) Message() string {
	switch f.Kind {
	case FailureForbidden:
		return "access denied"
	case FailureRateLimited:
		return "rate limit exceeded"
	case FailureUnavailable:
		return "service unavailable"
	default:
		return "authentication required"
	}
}

// StatusCode maps the failure kind to an HTTP status.
func (f *Failure) StatusCode() int {
	switch f.Kind {
	case FailureForbidden:
		return http.StatusForbidden
	case FailureRateLimited:
		return http.StatusTooManyRequests
	case FailureUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}
