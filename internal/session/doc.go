// Package session tracks server-side session liveness.
//
// A session is active only while its record exists, is not revoked and
// saw activity within the idle timeout. Absent records and timed-out
// records are indistinguishable to callers: both read as inactive, so
// the check fails closed.
package session
