package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/auth/keys"
	"github.com/vyrodovalexey/avauth/internal/auth/token"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/ratelimit"
	"github.com/vyrodovalexey/avauth/internal/session"
)

// Request carries the per-request inputs to the assembler.
type Request struct {
	// Credential is the raw bearer token. Empty means anonymous.
	Credential string

	// IP is the caller's transport address.
	IP string

	// Public marks endpoints that accept anonymous callers. Public
	// endpoints degrade to the anonymous identity on authentication
	// failure instead of rejecting.
	Public bool
}

// Assembler composes credential extraction, validation caching, token
// verification, session liveness and rate limiting into a single pass.
type Assembler struct {
	cookieName string
	validator  token.Validator
	tokenCache *token.TokenCache
	sessions   session.Store
	limiter    ratelimit.Limiter
	emitter    audit.Emitter
	logger     observability.Logger
	metrics    *Metrics
	now        func() time.Time
}

// AssemblerOption is a functional option for the assembler.
type AssemblerOption func(*Assembler)

// WithAssemblerLogger sets the logger.
func WithAssemblerLogger(logger observability.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithAssemblerMetrics sets the metrics.
func WithAssemblerMetrics(metrics *Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = metrics
	}
}

// WithAssemblerEmitter sets the audit emitter.
func WithAssemblerEmitter(emitter audit.Emitter) AssemblerOption {
	return func(a *Assembler) {
		a.emitter = emitter
	}
}

// WithAssemblerClock overrides the time source.
func WithAssemblerClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithTokenCache enables the validation cache. A nil cache disables
// memoization without changing outcomes.
func WithTokenCache(cache *token.TokenCache) AssemblerOption {
	return func(a *Assembler) {
		a.tokenCache = cache
	}
}

// WithSessionStore enables session liveness checks for tokens carrying
// a session ID.
func WithSessionStore(store session.Store) AssemblerOption {
	return func(a *Assembler) {
		a.sessions = store
	}
}

// WithRateLimiter enables per-subject rate limiting, keyed by IP for
// anonymous callers.
func WithRateLimiter(limiter ratelimit.Limiter) AssemblerOption {
	return func(a *Assembler) {
		a.limiter = limiter
	}
}

// NewAssembler creates a request context assembler.
func NewAssembler(cfg *config.AuthConfig, validator token.Validator, opts ...AssemblerOption) *Assembler {
	if cfg == nil {
		defaults := config.DefaultConfig().Auth
		cfg = &defaults
	}

	a := &Assembler{
		cookieName: cfg.CookieName,
		validator:  validator,
		emitter:    audit.NewNoopEmitter(),
		logger:     observability.NopLogger(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.metrics == nil {
		a.metrics = NewMetrics("avauth")
	}

	return a
}

// Assemble resolves the caller's identity for one request. On failure
// the returned error is a *Failure carrying the public kind; the
// precise reason was already audited.
func (a *Assembler) Assemble(ctx context.Context, req *Request) (*Identity, error) {
	start := a.now()

	identity, failure := a.authenticate(ctx, req)
	if failure != nil {
		if req.Public && failure.Kind == FailureUnauthenticated {
			identity = Anonymous(req.IP)
		} else {
			a.metrics.RecordAssembly(string(failure.Kind), a.now().Sub(start))
			return nil, failure
		}
	}

	if failure := a.checkRateLimit(ctx, req, identity); failure != nil {
		a.metrics.RecordAssembly(string(failure.Kind), a.now().Sub(start))
		return nil, failure
	}

	a.metrics.RecordAssembly("success", a.now().Sub(start))
	return identity, nil
}

// authenticate resolves a credential to an identity: validation cache,
// then cryptographic verification, then session liveness.
func (a *Assembler) authenticate(ctx context.Context, req *Request) (*Identity, *Failure) {
	cred := strings.TrimSpace(req.Credential)
	if cred == "" {
		if req.Public {
			return Anonymous(req.IP), nil
		}
		return nil, a.authFailure(ctx, req, nil,
			&Failure{Kind: FailureUnauthenticated, Reason: "credential_missing"})
	}

	var claims *token.ClaimSet
	cached := false
	if a.tokenCache != nil {
		if claims = a.tokenCache.Get(ctx, cred); claims != nil {
			cached = true
		}
	}

	if claims == nil {
		validated, err := a.validator.Validate(ctx, cred)
		if err != nil {
			return nil, a.authFailure(ctx, req, nil, classifyValidationError(err))
		}
		claims = validated
		if a.tokenCache != nil {
			a.tokenCache.Set(ctx, cred, claims)
		}
	}

	if claims.SessionID != "" && a.sessions != nil {
		subject := &audit.Subject{ID: claims.Subject, SessionID: claims.SessionID, IPAddress: req.IP}

		active, err := a.sessions.IsActive(ctx, claims.SessionID)
		if err != nil {
			failure := &Failure{Kind: FailureUnavailable, Reason: "session_store_unavailable", cause: err}
			return nil, a.authFailure(ctx, req, subject, failure)
		}
		if !active {
			return nil, a.authFailure(ctx, req, subject,
				&Failure{Kind: FailureUnauthenticated, Reason: "session_inactive"})
		}

		// Activity tracking is best effort.
		if err := a.sessions.Touch(ctx, claims.SessionID); err != nil {
			a.logger.Warn("failed to touch session",
				observability.String("session_id", claims.SessionID),
				observability.Error(err),
			)
		}
	}

	identity := IdentityFromClaims(claims, req.IP)

	a.emitter.Emit(ctx, audit.AuthenticationEvent(
		audit.ActionTokenValidate,
		audit.OutcomeSuccess,
		auditSubject(identity),
	).WithMetadata("cached", cached))

	return identity, nil
}

// checkRateLimit applies the limiter keyed by subject, or by IP for
// anonymous callers. The limiter audits its own rejections.
func (a *Assembler) checkRateLimit(ctx context.Context, req *Request, identity *Identity) *Failure {
	if a.limiter == nil {
		return nil
	}

	key := identity.Subject
	if identity.IsAnonymous() {
		key = "ip:" + req.IP
	}

	outcome, err := a.limiter.Check(ctx, key)
	if err != nil {
		a.logger.Error("rate limiter unavailable",
			observability.String("key", key),
			observability.Error(err),
		)
		return &Failure{Kind: FailureUnavailable, Reason: "rate_limiter_unavailable", cause: err}
	}
	if !outcome.Allowed {
		return &Failure{
			Kind:       FailureRateLimited,
			Reason:     "rate_limit_exceeded",
			RetryAfter: outcome.RetryAfter,
		}
	}
	return nil
}

// authFailure audits a failed authentication with its precise reason
// and returns the failure.
func (a *Assembler) authFailure(ctx context.Context, req *Request, subject *audit.Subject, failure *Failure) *Failure {
	if subject == nil {
		subject = &audit.Subject{ID: AnonymousSubject, IPAddress: req.IP}
	}

	outcome := audit.OutcomeFailure
	if failure.Kind == FailureUnavailable {
		outcome = audit.OutcomeError
	}

	event := audit.AuthenticationEvent(audit.ActionTokenValidate, outcome, subject).
		WithError(&audit.ErrorDetails{Code: failure.Reason, Message: failure.Error()})
	if failure.cause != nil {
		event.Error.Message = failure.cause.Error()
	}
	a.emitter.Emit(ctx, event)

	return failure
}

// classifyValidationError maps validator errors to failure kinds and
// audit reason codes.
func classifyValidationError(err error) *Failure {
	kind := FailureUnauthenticated
	var reason string

	switch {
	case errors.Is(err, token.ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, token.ErrTokenNotYetValid):
		reason = "not_yet_valid"
	case errors.Is(err, keys.ErrSourceUnavailable):
		kind = FailureUnavailable
		reason = "key_source_unavailable"
	case errors.Is(err, keys.ErrKeyNotFound):
		reason = "unknown_key"
	case errors.Is(err, token.ErrTokenInvalidSignature):
		reason = "invalid_signature"
	case errors.Is(err, token.ErrTokenInvalidIssuer):
		reason = "invalid_issuer"
	case errors.Is(err, token.ErrTokenInvalidAudience):
		reason = "invalid_audience"
	case errors.Is(err, token.ErrEmptyToken),
		errors.Is(err, token.ErrTokenMalformed),
		errors.Is(err, token.ErrUnsupportedAlgorithm):
		reason = "malformed"
	default:
		reason = "invalid_token"
	}

	return &Failure{Kind: kind, Reason: reason, cause: err}
}

func auditSubject(identity *Identity) *audit.Subject {
	return &audit.Subject{
		ID:         identity.Subject,
		SessionID:  identity.SessionID,
		Roles:      identity.Roles,
		IPAddress:  identity.IPAddress,
		AuthMethod: identity.AuthMethod,
	}
}
