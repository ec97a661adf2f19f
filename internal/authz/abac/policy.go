package abac

import "strings"

// Effect is the outcome of evaluating one policy.
type Effect string

// Policy effects.
const (
	EffectPermit        Effect = "permit"
	EffectDeny          Effect = "deny"
	EffectNotApplicable Effect = "not_applicable"
)

// Decision is the combined result of evaluating the policy chain.
type Decision struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Effect is the effect that settled the decision.
	Effect Effect

	// Policy names the policy that produced the effect; "default" when
	// no policy applied.
	Policy string

	// Reason is a human-readable explanation of the outcome.
	Reason string
}

// Request carries the attributes evaluated against the policy chain.
type Request struct {
	// SubjectID is the caller's subject identifier.
	SubjectID string

	// Subject holds the caller's attributes for CEL conditions.
	Subject map[string]interface{}

	// Resource is the resource being accessed.
	Resource string

	// Action is the action being performed.
	Action string

	// OwnerID is the subject owning the resource, when known.
	OwnerID string

	// Attributes holds per-request attributes for CEL conditions.
	Attributes map[string]interface{}

	// Environment holds deployment attributes for CEL conditions.
	Environment map[string]interface{}
}

// scopeMatches reports whether a scope pattern covers a value. A
// trailing "*" matches a prefix; "*" alone matches everything.
func scopeMatches(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, pattern[:len(pattern)-1])
	}
	return false
}

// anyScopeMatches reports whether any pattern covers the value; an
// empty pattern list covers everything.
func anyScopeMatches(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if scopeMatches(p, value) {
			return true
		}
	}
	return false
}
