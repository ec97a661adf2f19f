// Package keys resolves token signing keys.
//
// The JWKS resolver caches a remote key set for a configurable
// freshness window, de-duplicates concurrent refreshes and wraps the
// upstream fetch in retries plus a circuit breaker. Stale keys remain
// usable while the source is down until the window has lapsed twice.
// A static resolver serves fixed keys for tests and symmetric setups.
package keys
