package token

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"github.com/google/uuid"
)

// Signer creates signed tokens. Used by the demo binary and tests; the
// gateway itself only validates.
type Signer interface {
	// Sign creates a signed token from the claim set.
	Sign(ctx context.Context, claims *ClaimSet) (string, error)
}

// signer implements the Signer interface with a local private key.
type signer struct {
	privateKey crypto.PrivateKey
	keyID      string
	algorithm  string
	issuer     string
	audience   Audience
	expiresIn  time.Duration
}

// SignerOption is a functional option for the signer.
type SignerOption func(*signer)

// WithSignerIssuer sets the default issuer claim.
func WithSignerIssuer(issuer string) SignerOption {
	return func(s *signer) {
		s.issuer = issuer
	}
}

// WithSignerAudience sets the default audience claim.
func WithSignerAudience(audience ...string) SignerOption {
	return func(s *signer) {
		s.audience = audience
	}
}

// WithSignerExpiry sets the default token lifetime.
func WithSignerExpiry(expiresIn time.Duration) SignerOption {
	return func(s *signer) {
		s.expiresIn = expiresIn
	}
}

// NewSigner creates a signer for the given private key. Symmetric
// algorithms take a []byte key.
func NewSigner(key crypto.PrivateKey, keyID, algorithm string, opts ...SignerOption) (Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if algorithm == "" {
		algorithm = AlgRS256
	}

	s := &signer{
		privateKey: key,
		keyID:      keyID,
		algorithm:  algorithm,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Sign creates a signed token from the claim set.
func (s *signer) Sign(_ context.Context, claims *ClaimSet) (string, error) {
	now := time.Now()

	if claims.IssuedAt == nil {
		claims.IssuedAt = NewTime(now)
	}
	if claims.ExpiresAt == nil && s.expiresIn > 0 {
		claims.ExpiresAt = NewTime(now.Add(s.expiresIn))
	}
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	if len(claims.Audience) == 0 {
		claims.Audience = s.audience
	}
	if claims.TokenID == "" {
		claims.TokenID = uuid.New().String()
	}

	header := map[string]interface{}{
		"alg": s.algorithm,
		"typ": "JWT",
	}
	if s.keyID != "" {
		header["kid"] = s.keyID
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", NewSigningError("failed to encode header", err)
	}
	payloadJSON, err := json.Marshal(claims.ToMap())
	if err != nil {
		return "", NewSigningError("failed to encode payload", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	signature, err := s.sign(signingInput)
	if err != nil {
		return "", err
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// sign dispatches on the configured algorithm.
func (s *signer) sign(signingInput string) ([]byte, error) {
	switch s.algorithm {
	case AlgRS256:
		return s.signRSA(signingInput, crypto.SHA256)
	case AlgRS384:
		return s.signRSA(signingInput, crypto.SHA384)
	case AlgRS512:
		return s.signRSA(signingInput, crypto.SHA512)
	case AlgPS256:
		return s.signRSAPSS(signingInput, crypto.SHA256)
	case AlgPS384:
		return s.signRSAPSS(signingInput, crypto.SHA384)
	case AlgPS512:
		return s.signRSAPSS(signingInput, crypto.SHA512)
	case AlgES256:
		return s.signECDSA(signingInput, crypto.SHA256)
	case AlgES384:
		return s.signECDSA(signingInput, crypto.SHA384)
	case AlgES512:
		return s.signECDSA(signingInput, crypto.SHA512)
	case AlgHS256:
		return s.signHMAC(signingInput, sha256.New)
	case AlgHS384:
		return s.signHMAC(signingInput, sha512.New384)
	case AlgHS512:
		return s.signHMAC(signingInput, sha512.New)
	case AlgEdDSA:
		return s.signEdDSA(signingInput)
	default:
		return nil, NewSigningError(fmt.Sprintf("unsupported algorithm: %s", s.algorithm), ErrUnsupportedAlgorithm)
	}
}

// signRSA signs using RSA PKCS#1 v1.5.
func (s *signer) signRSA(signingInput string, hashAlg crypto.Hash) ([]byte, error) {
	rsaKey, ok := s.privateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, NewSigningError("key is not an RSA private key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	signature, err := rsa.SignPKCS1v15(rand.Reader, rsaKey, hashAlg, h.Sum(nil))
	if err != nil {
		return nil, NewSigningError("RSA signing failed", err)
	}
	return signature, nil
}

// signRSAPSS signs using RSA-PSS.
func (s *signer) signRSAPSS(signingInput string, hashAlg crypto.Hash) ([]byte, error) {
	rsaKey, ok := s.privateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, NewSigningError("key is not an RSA private key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	opts := &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       hashAlg,
	}

	signature, err := rsa.SignPSS(rand.Reader, rsaKey, hashAlg, h.Sum(nil), opts)
	if err != nil {
		return nil, NewSigningError("RSA-PSS signing failed", err)
	}
	return signature, nil
}

// signECDSA signs using ECDSA, producing the raw r||s wire format.
func (s *signer) signECDSA(signingInput string, hashAlg crypto.Hash) ([]byte, error) {
	ecdsaKey, ok := s.privateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, NewSigningError("key is not an ECDSA private key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	r, sig, err := ecdsa.Sign(rand.Reader, ecdsaKey, h.Sum(nil))
	if err != nil {
		return nil, NewSigningError("ECDSA signing failed", err)
	}

	keySize := (ecdsaKey.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*keySize)
	r.FillBytes(out[:keySize])
	sig.FillBytes(out[keySize:])

	return out, nil
}

// signHMAC signs using HMAC.
func (s *signer) signHMAC(signingInput string, hashFunc func() hash.Hash) ([]byte, error) {
	keyBytes, ok := s.privateKey.([]byte)
	if !ok {
		return nil, NewSigningError("key is not suitable for HMAC", ErrInvalidKey)
	}

	mac := hmac.New(hashFunc, keyBytes)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil), nil
}

// signEdDSA signs using Ed25519.
func (s *signer) signEdDSA(signingInput string) ([]byte, error) {
	edKey, ok := s.privateKey.(ed25519.PrivateKey)
	if !ok {
		return nil, NewSigningError("key is not an Ed25519 private key", ErrInvalidKey)
	}
	return ed25519.Sign(edKey, []byte(signingInput)), nil
}

var _ Signer = (*signer)(nil)
