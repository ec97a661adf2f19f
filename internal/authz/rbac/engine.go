package rbac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Mode selects the role-matching semantics.
type Mode string

// Role-matching modes.
const (
	// ModeAny allows when at least one required role is held.
	ModeAny Mode = "any"

	// ModeAll allows only when every required role is held.
	ModeAll Mode = "all"

	// ModeHierarchical expands the caller's roles through the
	// inheritance graph before matching with ModeAny semantics.
	ModeHierarchical Mode = "hierarchical"
)

// Decision is the result of a role or permission check.
type Decision struct {
	// Allowed indicates if the check passed.
	Allowed bool

	// Reason is a human-readable explanation of the outcome.
	Reason string

	// Rule names the check that produced the decision, for audit.
	Rule string
}

// Engine evaluates role and permission requirements.
type Engine interface {
	// CheckRoles evaluates a role requirement against an identity.
	CheckRoles(identity *auth.Identity, required []string, mode Mode) *Decision

	// CheckPermissions evaluates a permission requirement. Every
	// required permission must be held.
	CheckPermissions(identity *auth.Identity, required []string) *Decision

	// ExpandRoles returns the roles implied by the given roles through
	// the inheritance graph, including the inputs themselves.
	ExpandRoles(roles []string) []string
}

// engine implements the Engine interface.
type engine struct {
	hierarchy map[string][]string
	logger    observability.Logger
}

// EngineOption is a functional option for the engine.
type EngineOption func(*engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *engine) {
		e.logger = logger
	}
}

// NewEngine creates a role engine from the configured hierarchy.
func NewEngine(cfg *config.AuthzConfig, opts ...EngineOption) Engine {
	e := &engine{
		logger: observability.NopLogger(),
	}
	if cfg != nil {
		e.hierarchy = cfg.RoleHierarchy
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CheckRoles evaluates a role requirement against an identity.
func (e *engine) CheckRoles(identity *auth.Identity, required []string, mode Mode) *Decision {
	if len(required) == 0 {
		return &Decision{Allowed: true, Reason: "no roles required", Rule: "roles:none"}
	}
	if identity == nil {
		return &Decision{Allowed: false, Reason: "no identity", Rule: "roles:" + string(mode)}
	}

	held := identity.Roles
	effective := mode
	if effective == "" {
		effective = ModeAny
	}
	if effective == ModeHierarchical {
		held = e.ExpandRoles(held)
	}

	var allowed bool
	switch effective {
	case ModeAll:
		allowed = containsAll(held, required)
	case ModeAny, ModeHierarchical:
		allowed = containsAny(held, required)
	default:
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("unknown role mode %q", mode),
			Rule:    "roles:invalid",
		}
	}

	rule := "roles:" + string(effective)
	if allowed {
		return &Decision{Allowed: true, Reason: "role requirement satisfied", Rule: rule}
	}
	return &Decision{
		Allowed: false,
		Reason: fmt.Sprintf("required roles [%s] not satisfied by [%s]",
			strings.Join(required, " "), strings.Join(identity.Roles, " ")),
		Rule: rule,
	}
}

// CheckPermissions evaluates a permission requirement.
func (e *engine) CheckPermissions(identity *auth.Identity, required []string) *Decision {
	if len(required) == 0 {
		return &Decision{Allowed: true, Reason: "no permissions required", Rule: "permissions:none"}
	}
	if identity == nil {
		return &Decision{Allowed: false, Reason: "no identity", Rule: "permissions:all"}
	}

	for _, p := range required {
		if !identity.HasPermission(p) {
			return &Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("missing permission %q", p),
				Rule:    "permissions:all",
			}
		}
	}
	return &Decision{Allowed: true, Reason: "permission requirement satisfied", Rule: "permissions:all"}
}

// ExpandRoles returns the transitive closure of the given roles over
// the inheritance graph. The result is sorted for stable cache keys.
func (e *engine) ExpandRoles(roles []string) []string {
	visited := make(map[string]bool, len(roles))
	for _, role := range roles {
		e.expand(role, visited)
	}

	expanded := make([]string, 0, len(visited))
	for role := range visited {
		expanded = append(expanded, role)
	}
	sort.Strings(expanded)
	return expanded
}

// expand walks the hierarchy depth-first. The visited map doubles as
// cycle protection.
func (e *engine) expand(role string, visited map[string]bool) {
	if visited[role] {
		return
	}
	visited[role] = true

	for _, implied := range e.hierarchy[role] {
		e.expand(implied, visited)
	}
}

func containsAny(held, required []string) bool {
	for _, r := range required {
		for _, h := range held {
			if h == r {
				return true
			}
		}
	}
	return false
}

func containsAll(held, required []string) bool {
	for _, r := range required {
		found := false
		for _, h := range held {
			if h == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Ensure engine implements Engine.
var _ Engine = (*engine)(nil)
