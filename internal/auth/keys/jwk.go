package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// JSONWebKeySet represents a JSON Web Key Set.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JSONWebKey represents a JSON Web Key.
type JSONWebKey struct {
	// Key type (e.g., "RSA", "EC", "OKP", "oct")
	Kty string `json:"kty"`
	// Key ID
	Kid string `json:"kid,omitempty"`
	// Algorithm
	Alg string `json:"alg,omitempty"`
	// Use (e.g., "sig", "enc")
	Use string `json:"use,omitempty"`

	// RSA public key components
	N string `json:"n,omitempty"` // Modulus
	E string `json:"e,omitempty"` // Exponent

	// EC and OKP public key components
	Crv string `json:"crv,omitempty"` // Curve
	X   string `json:"x,omitempty"`   // X coordinate
	Y   string `json:"y,omitempty"`   // Y coordinate

	// Symmetric key
	K string `json:"k,omitempty"`
}

// ParseJWKSFromBytes parses a JWKS from bytes.
func ParseJWKSFromBytes(data []byte) (*JSONWebKeySet, error) {
	var jwks JSONWebKeySet
	if err := json.Unmarshal(data, &jwks); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return &jwks, nil
}

// VerificationKey converts the JWK into a key usable for signature
// verification: *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey or
// []byte for symmetric keys.
func (jwk *JSONWebKey) VerificationKey() (any, error) {
	switch jwk.Kty {
	case "RSA":
		return jwk.toRSAPublicKey()
	case "EC":
		return jwk.toECDSAPublicKey()
	case "OKP":
		return jwk.toEd25519PublicKey()
	case "oct":
		return jwk.toSymmetricKey()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, jwk.Kty)
	}
}

// toRSAPublicKey converts the JWK to an RSA public key.
func (jwk *JSONWebKey) toRSAPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}

// toECDSAPublicKey converts the JWK to an ECDSA public key.
func (jwk *JSONWebKey) toECDSAPublicKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch jwk.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKeyType, jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// toEd25519PublicKey converts the JWK to an Ed25519 public key.
func (jwk *JSONWebKey) toEd25519PublicKey() (ed25519.PublicKey, error) {
	if jwk.Crv != "Ed25519" {
		return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKeyType, jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(xBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: invalid Ed25519 key size %d", ErrUnsupportedKeyType, len(xBytes))
	}

	return ed25519.PublicKey(xBytes), nil
}

// toSymmetricKey decodes the symmetric key bytes.
func (jwk *JSONWebKey) toSymmetricKey() ([]byte, error) {
	kBytes, err := base64.RawURLEncoding.DecodeString(jwk.K)
	if err != nil {
		return nil, fmt.Errorf("failed to decode symmetric key: %w", err)
	}
	return kBytes, nil
}
