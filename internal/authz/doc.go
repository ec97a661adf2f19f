// Package authz composes role, permission and attribute checks into a
// single authorization decision.
//
// The final decision is the logical AND of the three checks. Role
// checks are the primary gate; attribute policies refine them and only
// run when a resource is supplied. Every decision, allowed or denied,
// is reported to the audit emitter together with the required and the
// actual sets and the rule that settled the outcome. Decisions are
// cached for a short TTL keyed by a stable hash of the subject, the
// requirement and the resource; the cache is a pure accelerant and can
// be invalidated per subject when assignments change.
package authz
