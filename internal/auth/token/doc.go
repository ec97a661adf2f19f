// Package token validates and signs bearer tokens.
//
// Validation runs a fixed pipeline: syntactic parse, algorithm
// allow-list, signature verification against the key resolver, then
// temporal, issuer and audience checks. Expiry has zero grace; only
// not-before and issued-at tolerate clock skew. Each failure mode has
// its own sentinel so callers can branch with errors.Is.
//
// The TokenCache memoizes successful validations keyed by token digest,
// never beyond the token's own expiry.
package token
