// Package audit emits structured security audit events.
//
// Every authentication outcome, authorization decision, rate-limit
// rejection and sensitive-field access produces an Event. Emission is
// best-effort: a failing emitter logs the problem and never blocks or
// fails the request path.
package audit
