package token

import (
	"errors"
	"fmt"
)

// Signing algorithm constants.
const (
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgPS256 = "PS256"
	AlgPS384 = "PS384"
	AlgPS512 = "PS512"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgEdDSA = "EdDSA"
)

// Sentinel errors for token validation.
var (
	// ErrEmptyToken indicates that the token is empty.
	ErrEmptyToken = errors.New("token is empty")

	// ErrTokenMalformed indicates that the token is malformed.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrUnsupportedAlgorithm indicates that the signing algorithm is
	// not allowed.
	ErrUnsupportedAlgorithm = errors.New("signing algorithm is not supported")

	// ErrTokenInvalidSignature indicates that the token signature is
	// invalid.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates that the token is not yet valid.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrTokenInvalidIssuer indicates that the token issuer is invalid.
	ErrTokenInvalidIssuer = errors.New("token issuer is invalid")

	// ErrTokenInvalidAudience indicates that the token audience is
	// invalid.
	ErrTokenInvalidAudience = errors.New("token audience is invalid")

	// ErrInvalidKey indicates that the verification key does not match
	// the algorithm.
	ErrInvalidKey = errors.New("verification key is invalid")
)

// ValidationError represents a token validation error with details.
type ValidationError struct {
	Message string
	Cause   error
	Claims  *ClaimSet
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("token validation error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok || errors.Is(e.Cause, target)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}

// NewValidationErrorWithClaims creates a new ValidationError carrying
// the parsed claims for auditing.
func NewValidationErrorWithClaims(message string, cause error, claims *ClaimSet) *ValidationError {
	return &ValidationError{Message: message, Cause: cause, Claims: claims}
}

// SigningError represents a token signing error.
type SigningError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SigningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token signing error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("token signing error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *SigningError) Unwrap() error {
	return e.Cause
}

// NewSigningError creates a new SigningError.
func NewSigningError(message string, cause error) *SigningError {
	return &SigningError{Message: message, Cause: cause}
}
