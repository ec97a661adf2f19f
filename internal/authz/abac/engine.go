package abac

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Engine evaluates the attribute policy chain.
type Engine interface {
	// Evaluate runs the policy chain and returns the settled decision.
	Evaluate(ctx context.Context, req *Request) *Decision
}

// celEngine implements the Engine interface using CEL conditions.
type celEngine struct {
	policies      []config.AuthzPolicy
	programs      map[string]cel.Program
	defaultEffect Effect
	logger        observability.Logger
	now           func() time.Time
}

// EngineOption is a functional option for the engine.
type EngineOption func(*celEngine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *celEngine) {
		e.logger = logger
	}
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *celEngine) {
		e.now = now
	}
}

// NewEngine compiles the configured policies into an engine. A policy
// with a condition that fails to compile is a construction error, not
// a runtime one.
func NewEngine(cfg *config.AuthzConfig, opts ...EngineOption) (Engine, error) {
	e := &celEngine{
		programs:      make(map[string]cel.Program),
		defaultEffect: EffectPermit,
		logger:        observability.NopLogger(),
		now:           time.Now,
	}
	if cfg != nil {
		e.policies = cfg.Policies
		if cfg.DefaultEffect == "deny" {
			e.defaultEffect = EffectDeny
		}
	}

	for _, opt := range opts {
		opt(e)
	}

	env, err := newCELEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	for _, policy := range e.policies {
		if policy.Condition == "" {
			continue
		}
		ast, issues := env.Compile(policy.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy %q: failed to compile condition: %w", policy.Name, issues.Err())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy %q: failed to create program: %w", policy.Name, err)
		}
		e.programs[policy.Name] = program
	}

	return e, nil
}

// newCELEnvironment declares the variables and functions available to
// policy conditions.
func newCELEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("environment", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("owner", cel.StringType),
		cel.Variable("now", cel.TimestampType),

		cel.Function("ip_in_range",
			cel.Overload("ip_in_range_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(ipInRangeBinding),
			),
		),
	)
}

// ipInRangeBinding checks if an IP is in a CIDR range (CEL binding).
func ipInRangeBinding(ip, cidr ref.Val) ref.Val {
	ipStr, ok := ip.Value().(string)
	if !ok {
		return types.False
	}
	cidrStr, ok := cidr.Value().(string)
	if !ok {
		return types.False
	}

	parsedIP := net.ParseIP(ipStr)
	if parsedIP == nil {
		return types.False
	}

	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return types.False
	}

	if network.Contains(parsedIP) {
		return types.True
	}
	return types.False
}

// Evaluate runs the policy chain in declaration order.
func (e *celEngine) Evaluate(_ context.Context, req *Request) *Decision {
	now := e.now()

	for i := range e.policies {
		policy := &e.policies[i]

		effect := e.evaluatePolicy(policy, req, now)
		if effect == EffectNotApplicable {
			continue
		}

		e.logger.Debug("attribute policy matched",
			observability.String("policy", policy.Name),
			observability.String("effect", string(effect)),
			observability.String("resource", req.Resource),
			observability.String("action", req.Action),
		)

		return &Decision{
			Allowed: effect == EffectPermit,
			Effect:  effect,
			Policy:  policy.Name,
			Reason:  "matched policy " + policy.Name,
		}
	}

	return &Decision{
		Allowed: e.defaultEffect == EffectPermit,
		Effect:  e.defaultEffect,
		Policy:  "default",
		Reason:  "no applicable policy, default effect " + string(e.defaultEffect),
	}
}

// evaluatePolicy returns the policy's effect when its scope and
// matchers pass, NotApplicable otherwise.
func (e *celEngine) evaluatePolicy(policy *config.AuthzPolicy, req *Request, now time.Time) Effect {
	if !anyScopeMatches(policy.Resources, req.Resource) {
		return EffectNotApplicable
	}
	if !anyScopeMatches(policy.Actions, req.Action) {
		return EffectNotApplicable
	}

	if policy.OwnerOnly && (req.OwnerID == "" || req.SubjectID != req.OwnerID) {
		return EffectNotApplicable
	}

	if h := policy.Hours; h != nil {
		hour := now.UTC().Hour()
		if hour < h.Start || hour >= h.End {
			return EffectNotApplicable
		}
	}

	if policy.Condition != "" {
		program, ok := e.programs[policy.Name]
		if !ok {
			return EffectNotApplicable
		}

		result, _, err := program.Eval(map[string]interface{}{
			"subject":     nonNilMap(req.Subject),
			"request":     nonNilMap(req.Attributes),
			"environment": nonNilMap(req.Environment),
			"resource":    req.Resource,
			"action":      req.Action,
			"owner":       req.OwnerID,
			"now":         now,
		})
		if err != nil {
			e.logger.Warn("condition evaluation failed",
				observability.String("policy", policy.Name),
				observability.Error(err),
			)
			return EffectNotApplicable
		}

		matched, ok := result.Value().(bool)
		if !ok || !matched {
			return EffectNotApplicable
		}
	}

	if policy.Effect == "deny" {
		return EffectDeny
	}
	return EffectPermit
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// Ensure celEngine implements Engine.
var _ Engine = (*celEngine)(nil)
