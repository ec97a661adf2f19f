package token

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"math/big"
	"strings"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth/keys"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Validator validates bearer tokens.
type Validator interface {
	// Validate verifies a raw token and returns its claim set.
	Validate(ctx context.Context, raw string) (*ClaimSet, error)
}

// validator implements the Validator interface.
type validator struct {
	cfg      *config.AuthConfig
	resolver keys.Resolver
	logger   observability.Logger
	metrics  *Metrics
	now      func() time.Time
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*validator)

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *validator) {
		v.logger = logger
	}
}

// WithValidatorMetrics sets the metrics for the validator.
func WithValidatorMetrics(metrics *Metrics) ValidatorOption {
	return func(v *validator) {
		v.metrics = metrics
	}
}

// WithValidatorClock overrides the time source. Tests use it to pin
// temporal checks.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *validator) {
		v.now = now
	}
}

// NewValidator creates a new token validator over the given key
// resolver.
func NewValidator(cfg *config.AuthConfig, resolver keys.Resolver, opts ...ValidatorOption) (Validator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("key resolver is required")
	}

	v := &validator{
		cfg:      cfg,
		resolver: resolver,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.metrics == nil {
		v.metrics = NewMetrics("avauth")
	}

	return v, nil
}

// tokenHeader represents the token header.
type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	KeyID     string `json:"kid"`
}

// Validate verifies a raw token and returns its claim set.
func (v *validator) Validate(ctx context.Context, raw string) (*ClaimSet, error) {
	start := time.Now()

	if raw == "" {
		v.metrics.RecordValidation("error", "empty_token", time.Since(start))
		return nil, ErrEmptyToken
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		v.metrics.RecordValidation("error", "malformed", time.Since(start))
		return nil, ErrTokenMalformed
	}

	header, err := decodeHeader(parts[0])
	if err != nil {
		v.metrics.RecordValidation("error", "malformed", time.Since(start))
		return nil, NewValidationError("failed to decode header", ErrTokenMalformed)
	}

	if err := v.validateAlgorithm(header.Algorithm); err != nil {
		v.metrics.RecordValidation("error", "invalid_algorithm", time.Since(start))
		return nil, err
	}

	claims, err := decodePayload(parts[1])
	if err != nil {
		v.metrics.RecordValidation("error", "malformed", time.Since(start))
		return nil, NewValidationError("failed to decode payload", ErrTokenMalformed)
	}

	if err := v.verifySignature(ctx, header, parts[0]+"."+parts[1], parts[2]); err != nil {
		v.metrics.RecordValidation("error", "invalid_signature", time.Since(start))
		return nil, err
	}

	if err := v.validateClaims(claims); err != nil {
		v.metrics.RecordValidation("error", "invalid_claims", time.Since(start))
		return nil, err
	}

	v.metrics.RecordValidation("success", header.Algorithm, time.Since(start))
	v.logger.Debug("token validated",
		observability.String("subject", claims.Subject),
		observability.String("issuer", claims.Issuer))

	return claims, nil
}

// decodeHeader decodes the token header.
func decodeHeader(encoded string) (*tokenHeader, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}

	var header tokenHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	return &header, nil
}

// decodePayload decodes the token payload into a claim set.
func decodePayload(encoded string) (*ClaimSet, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	var claimsMap map[string]interface{}
	if err := json.Unmarshal(data, &claimsMap); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	return ParseClaimSet(claimsMap), nil
}

// validateAlgorithm enforces the algorithm allow-list.
func (v *validator) validateAlgorithm(alg string) error {
	if len(v.cfg.Algorithms) == 0 {
		return nil
	}
	for _, allowed := range v.cfg.Algorithms {
		if alg == allowed {
			return nil
		}
	}
	return NewValidationError(fmt.Sprintf("algorithm %s is not allowed", alg), ErrUnsupportedAlgorithm)
}

// verifySignature verifies the token signature against the resolved
// key.
func (v *validator) verifySignature(ctx context.Context, header *tokenHeader, signingInput, signature string) error {
	sigBytes, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return NewValidationError("failed to decode signature", ErrTokenMalformed)
	}

	key, err := v.resolver.Resolve(ctx, header.KeyID)
	if err != nil {
		return NewValidationError("failed to resolve signing key", err)
	}

	switch header.Algorithm {
	case AlgRS256:
		return verifyRSA(key, signingInput, sigBytes, crypto.SHA256)
	case AlgRS384:
		return verifyRSA(key, signingInput, sigBytes, crypto.SHA384)
	case AlgRS512:
		return verifyRSA(key, signingInput, sigBytes, crypto.SHA512)
	case AlgPS256:
		return verifyRSAPSS(key, signingInput, sigBytes, crypto.SHA256)
	case AlgPS384:
		return verifyRSAPSS(key, signingInput, sigBytes, crypto.SHA384)
	case AlgPS512:
		return verifyRSAPSS(key, signingInput, sigBytes, crypto.SHA512)
	case AlgES256:
		return verifyECDSA(key, signingInput, sigBytes, crypto.SHA256)
	case AlgES384:
		return verifyECDSA(key, signingInput, sigBytes, crypto.SHA384)
	case AlgES512:
		return verifyECDSA(key, signingInput, sigBytes, crypto.SHA512)
	case AlgHS256:
		return verifyHMAC(key, signingInput, sigBytes, sha256.New)
	case AlgHS384:
		return verifyHMAC(key, signingInput, sigBytes, sha512.New384)
	case AlgHS512:
		return verifyHMAC(key, signingInput, sigBytes, sha512.New)
	case AlgEdDSA:
		return verifyEdDSA(key, signingInput, sigBytes)
	default:
		return NewValidationError(fmt.Sprintf("unsupported algorithm: %s", header.Algorithm), ErrUnsupportedAlgorithm)
	}
}

// verifyRSA verifies an RSA PKCS#1 v1.5 signature.
func verifyRSA(key any, signingInput string, signature []byte, hashAlg crypto.Hash) error {
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return NewValidationError("key is not an RSA public key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	if err := rsa.VerifyPKCS1v15(rsaKey, hashAlg, h.Sum(nil), signature); err != nil {
		return NewValidationError("RSA signature verification failed", ErrTokenInvalidSignature)
	}
	return nil
}

// verifyRSAPSS verifies an RSA-PSS signature.
func verifyRSAPSS(key any, signingInput string, signature []byte, hashAlg crypto.Hash) error {
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return NewValidationError("key is not an RSA public key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	opts := &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       hashAlg,
	}

	if err := rsa.VerifyPSS(rsaKey, hashAlg, h.Sum(nil), signature, opts); err != nil {
		return NewValidationError("RSA-PSS signature verification failed", ErrTokenInvalidSignature)
	}
	return nil
}

// verifyECDSA verifies an ECDSA signature in the raw r||s wire format.
func verifyECDSA(key any, signingInput string, signature []byte, hashAlg crypto.Hash) error {
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return NewValidationError("key is not an ECDSA public key", ErrInvalidKey)
	}

	keySize := (ecdsaKey.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*keySize {
		return NewValidationError("invalid ECDSA signature length", ErrTokenInvalidSignature)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	r := new(big.Int).SetBytes(signature[:keySize])
	s := new(big.Int).SetBytes(signature[keySize:])

	if !ecdsa.Verify(ecdsaKey, h.Sum(nil), r, s) {
		return NewValidationError("ECDSA signature verification failed", ErrTokenInvalidSignature)
	}
	return nil
}

// verifyHMAC verifies an HMAC signature.
func verifyHMAC(key any, signingInput string, signature []byte, hashFunc func() hash.Hash) error {
	keyBytes, ok := key.([]byte)
	if !ok {
		return NewValidationError("key is not suitable for HMAC", ErrInvalidKey)
	}

	mac := hmac.New(hashFunc, keyBytes)
	mac.Write([]byte(signingInput))

	if !hmac.Equal(signature, mac.Sum(nil)) {
		return NewValidationError("HMAC signature verification failed", ErrTokenInvalidSignature)
	}
	return nil
}

// verifyEdDSA verifies an Ed25519 signature.
func verifyEdDSA(key any, signingInput string, signature []byte) error {
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return NewValidationError("key is not an Ed25519 public key", ErrInvalidKey)
	}

	if !ed25519.Verify(edKey, []byte(signingInput), signature) {
		return NewValidationError("Ed25519 signature verification failed", ErrTokenInvalidSignature)
	}
	return nil
}

// validateClaims runs the temporal, issuer and audience checks. Expiry
// gets no grace period; not-before and issued-at tolerate clock skew.
func (v *validator) validateClaims(claims *ClaimSet) error {
	now := v.now()
	skew := v.cfg.GetEffectiveClockSkew()

	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return NewValidationErrorWithClaims("token has expired", ErrTokenExpired, claims)
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time.Add(-skew)) {
		return NewValidationErrorWithClaims("token is not yet valid", ErrTokenNotYetValid, claims)
	}
	if claims.IssuedAt != nil && now.Before(claims.IssuedAt.Time.Add(-skew)) {
		return NewValidationErrorWithClaims("token issued in the future", ErrTokenNotYetValid, claims)
	}

	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return NewValidationErrorWithClaims(
			fmt.Sprintf("issuer %s is not allowed", claims.Issuer),
			ErrTokenInvalidIssuer,
			claims,
		)
	}

	if len(v.cfg.Audience) > 0 && !claims.Audience.ContainsAny(v.cfg.Audience...) {
		return NewValidationErrorWithClaims(
			"token audience does not match",
			ErrTokenInvalidAudience,
			claims,
		)
	}

	return nil
}

var _ Validator = (*validator)(nil)
