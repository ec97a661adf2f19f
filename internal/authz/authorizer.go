package authz

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/authz/abac"
	"github.com/vyrodovalexey/avauth/internal/authz/directory"
	"github.com/vyrodovalexey/avauth/internal/authz/rbac"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// authzTracer is the OTEL tracer used for authorization operations.
var authzTracer = otel.Tracer("avauth/authz")

// Requirement states what a caller must hold for an operation.
type Requirement struct {
	// Roles the caller must hold, matched per RoleMode.
	Roles []string

	// RoleMode selects the role-matching semantics; empty means any.
	RoleMode rbac.Mode

	// Permissions the caller must all hold.
	Permissions []string
}

// Request is one authorization request.
type Request struct {
	// Identity is the authenticated caller.
	Identity *auth.Identity

	// Requirement is what the operation demands.
	Requirement Requirement

	// Resource is the resource being accessed. Empty skips attribute
	// policies.
	Resource string

	// Action is the action being performed.
	Action string

	// OwnerID is the subject owning the resource, when known.
	OwnerID string

	// Attributes are per-request attributes for attribute policies.
	Attributes map[string]interface{}
}

// Decision is the settled authorization outcome.
type Decision struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Reason is a human-readable explanation of the outcome.
	Reason string

	// Rule names the rule that settled the decision, for audit.
	Rule string

	// Cached indicates the decision came from the decision cache.
	Cached bool
}

// Authorizer evaluates authorization requests.
type Authorizer interface {
	// Authorize evaluates a request and returns the settled decision.
	Authorize(ctx context.Context, req *Request) (*Decision, error)

	// InvalidateSubject drops cached decisions for a subject, used
	// when its roles or permissions change.
	InvalidateSubject(ctx context.Context, subject string)

	// Close closes the authorizer.
	Close() error
}

// authorizer implements the Authorizer interface.
type authorizer struct {
	cfg        *config.AuthzConfig
	roleEngine rbac.Engine
	attrEngine abac.Engine
	dir        directory.Directory
	cache      DecisionCache
	emitter    audit.Emitter
	logger     observability.Logger
	metrics    *Metrics
}

// AuthorizerOption is a functional option for the authorizer.
type AuthorizerOption func(*authorizer)

// WithAuthorizerLogger sets the logger.
func WithAuthorizerLogger(logger observability.Logger) AuthorizerOption {
	return func(a *authorizer) {
		a.logger = logger
	}
}

// WithAuthorizerMetrics sets the metrics.
func WithAuthorizerMetrics(metrics *Metrics) AuthorizerOption {
	return func(a *authorizer) {
		a.metrics = metrics
	}
}

// WithAuditEmitter sets the audit emitter.
func WithAuditEmitter(emitter audit.Emitter) AuthorizerOption {
	return func(a *authorizer) {
		a.emitter = emitter
	}
}

// WithDirectory sets the subject directory consulted when a token
// carries no role claims.
func WithDirectory(dir directory.Directory) AuthorizerOption {
	return func(a *authorizer) {
		a.dir = dir
	}
}

// WithDecisionCache sets the decision cache.
func WithDecisionCache(cache DecisionCache) AuthorizerOption {
	return func(a *authorizer) {
		a.cache = cache
	}
}

// New creates an authorizer from the configuration.
func New(cfg *config.AuthzConfig, opts ...AuthorizerOption) (Authorizer, error) {
	if cfg == nil {
		defaults := config.DefaultConfig().Authz
		cfg = &defaults
	}

	a := &authorizer{
		cfg:     cfg,
		emitter: audit.NewNoopEmitter(),
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.metrics == nil {
		a.metrics = NewMetrics("avauth")
	}

	a.roleEngine = rbac.NewEngine(cfg, rbac.WithEngineLogger(a.logger))

	attrEngine, err := abac.NewEngine(cfg, abac.WithEngineLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.attrEngine = attrEngine
	a.metrics.SetPolicyCount(len(cfg.Policies))

	if a.cache == nil {
		a.cache = NewMemoryDecisionCache(
			cfg.GetEffectiveDecisionCacheTTL(),
			cfg.DecisionCacheSize,
			WithMemoryCacheLogger(a.logger),
			WithMemoryCacheMetrics(a.metrics),
		)
	}

	return a, nil
}

// Authorize evaluates a request and returns the settled decision.
func (a *authorizer) Authorize(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()

	ctx, span := authzTracer.Start(ctx, "authz.authorize",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("authz.resource", req.Resource),
			attribute.String("authz.action", req.Action),
		),
	)
	defer span.End()

	if req.Identity == nil {
		span.SetAttributes(attribute.String("authz.result", "no_identity"))
		return nil, ErrNoIdentity
	}

	identity, err := a.enrichIdentity(ctx, req.Identity)
	if err != nil {
		a.metrics.RecordEvaluation("combined", "error", time.Since(start))
		return nil, err
	}
	span.SetAttributes(attribute.String("authz.subject", identity.Subject))

	cacheKey := buildCacheKey(identity, req)
	if cached, ok := a.cache.Get(ctx, cacheKey); ok {
		decision := &Decision{
			Allowed: cached.Allowed,
			Reason:  cached.Reason,
			Rule:    cached.Rule,
			Cached:  true,
		}
		span.SetAttributes(
			attribute.Bool("authz.cached", true),
			attribute.Bool("authz.allowed", decision.Allowed),
		)
		a.auditDecision(ctx, identity, req, decision)
		return decision, nil
	}

	decision := a.evaluate(ctx, identity, req)

	a.cache.Set(ctx, cacheKey, &CachedDecision{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
		Rule:    decision.Rule,
	})

	result := "denied"
	if decision.Allowed {
		result = "allowed"
	}
	a.metrics.RecordEvaluation("combined", result, time.Since(start))

	span.SetAttributes(
		attribute.Bool("authz.cached", false),
		attribute.Bool("authz.allowed", decision.Allowed),
		attribute.String("authz.rule", decision.Rule),
	)

	a.logger.Debug("authorization decision",
		observability.String("subject", identity.Subject),
		observability.String("resource", req.Resource),
		observability.String("action", req.Action),
		observability.Bool("allowed", decision.Allowed),
		observability.String("rule", decision.Rule),
	)

	a.auditDecision(ctx, identity, req, decision)

	return decision, nil
}

// enrichIdentity consults the subject directory when a token carried
// no role claims. The enriched copy is request-scoped; nothing is
// written back.
func (a *authorizer) enrichIdentity(ctx context.Context, identity *auth.Identity) (*auth.Identity, error) {
	if a.dir == nil || len(identity.Roles) > 0 || identity.IsAnonymous() {
		return identity, nil
	}

	roles, err := a.dir.GetRoles(ctx, identity.Subject)
	if err != nil {
		return nil, err
	}
	permissions, err := a.dir.GetPermissions(ctx, identity.Subject)
	if err != nil {
		return nil, err
	}

	enriched := *identity
	enriched.Roles = roles
	if len(enriched.Permissions) == 0 {
		enriched.Permissions = permissions
	}
	return &enriched, nil
}

// evaluate runs the three checks and ANDs them. The first failing
// check settles the decision.
func (a *authorizer) evaluate(ctx context.Context, identity *auth.Identity, req *Request) *Decision {
	roleStart := time.Now()
	roleDecision := a.roleEngine.CheckRoles(identity, req.Requirement.Roles, req.Requirement.RoleMode)
	a.metrics.RecordEvaluation("roles", resultLabel(roleDecision.Allowed), time.Since(roleStart))
	if !roleDecision.Allowed {
		return &Decision{Reason: roleDecision.Reason, Rule: roleDecision.Rule}
	}

	permStart := time.Now()
	permDecision := a.roleEngine.CheckPermissions(identity, req.Requirement.Permissions)
	a.metrics.RecordEvaluation("permissions", resultLabel(permDecision.Allowed), time.Since(permStart))
	if !permDecision.Allowed {
		return &Decision{Reason: permDecision.Reason, Rule: permDecision.Rule}
	}

	rule := permDecision.Rule
	reason := permDecision.Reason
	if len(req.Requirement.Permissions) == 0 {
		rule = roleDecision.Rule
		reason = roleDecision.Reason
	}

	// Attribute policies refine the role gate only when a resource is
	// in play.
	if req.Resource != "" {
		attrStart := time.Now()
		attrDecision := a.attrEngine.Evaluate(ctx, &abac.Request{
			SubjectID:  identity.Subject,
			Subject:    subjectAttributes(identity),
			Resource:   req.Resource,
			Action:     req.Action,
			OwnerID:    req.OwnerID,
			Attributes: req.Attributes,
		})
		a.metrics.RecordEvaluation("attributes", resultLabel(attrDecision.Allowed), time.Since(attrStart))
		if !attrDecision.Allowed {
			return &Decision{Reason: attrDecision.Reason, Rule: "policy:" + attrDecision.Policy}
		}
		rule = "policy:" + attrDecision.Policy
		reason = attrDecision.Reason
	}

	return &Decision{Allowed: true, Reason: reason, Rule: rule}
}

// auditDecision reports a decision with the required and actual sets.
func (a *authorizer) auditDecision(ctx context.Context, identity *auth.Identity, req *Request, decision *Decision) {
	outcome := audit.OutcomeDenied
	if decision.Allowed {
		outcome = audit.OutcomeSuccess
	}

	event := audit.AuthorizationEvent(outcome,
		&audit.Subject{
			ID:         identity.Subject,
			SessionID:  identity.SessionID,
			Roles:      identity.Roles,
			IPAddress:  identity.IPAddress,
			AuthMethod: identity.AuthMethod,
		},
		&audit.Resource{ID: req.Resource, Path: req.Action},
	).
		WithMetadata("rule", decision.Rule).
		WithMetadata("reason", decision.Reason).
		WithMetadata("cached", decision.Cached).
		WithMetadata("required_roles", req.Requirement.Roles).
		WithMetadata("role_mode", string(req.Requirement.RoleMode)).
		WithMetadata("required_permissions", req.Requirement.Permissions).
		WithMetadata("actual_roles", identity.Roles).
		WithMetadata("actual_permissions", identity.Permissions)

	a.emitter.Emit(ctx, event)
}

// InvalidateSubject drops cached decisions for a subject.
func (a *authorizer) InvalidateSubject(ctx context.Context, subject string) {
	a.cache.InvalidateSubject(ctx, subject)
}

// Close closes the authorizer.
func (a *authorizer) Close() error {
	return a.cache.Close()
}

// buildCacheKey derives the decision cache key for a request.
func buildCacheKey(identity *auth.Identity, req *Request) *CacheKey {
	return &CacheKey{
		Subject:             identity.Subject,
		Resource:            req.Resource,
		Action:              req.Action,
		RequiredRoles:       req.Requirement.Roles,
		RoleMode:            string(req.Requirement.RoleMode),
		RequiredPermissions: req.Requirement.Permissions,
		Roles:               identity.Roles,
	}
}

// subjectAttributes exposes the identity to attribute policies.
func subjectAttributes(identity *auth.Identity) map[string]interface{} {
	return map[string]interface{}{
		"id":          identity.Subject,
		"session_id":  identity.SessionID,
		"roles":       identity.Roles,
		"permissions": identity.Permissions,
		"ip":          identity.IPAddress,
		"device":      identity.Device,
		"auth_method": identity.AuthMethod,
		"mfa":         identity.MFAVerified,
		"risk_score":  identity.RiskScore,
	}
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// Ensure authorizer implements Authorizer.
var _ Authorizer = (*authorizer)(nil)
