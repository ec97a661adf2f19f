// Package config loads and validates the auth core configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when a section omits a setting.
const (
	DefaultKeyRefreshTTL      = 30 * time.Minute
	DefaultClockSkew          = 300 * time.Second
	DefaultValidationCacheTTL = 300 * time.Second
	DefaultDecisionCacheTTL   = 300 * time.Second
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultStoreTimeout       = 2 * time.Second
	DefaultRateLimitRequests  = 100
	DefaultRateLimitWindow    = time.Minute
)

// Config is the root configuration for the auth core.
type Config struct {
	Auth      AuthConfig      `yaml:"auth"`
	Keys      KeysConfig      `yaml:"keys"`
	Session   SessionConfig   `yaml:"session"`
	Authz     AuthzConfig     `yaml:"authz"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	GDPR      GDPRConfig      `yaml:"gdpr"`
	Audit     AuditConfig     `yaml:"audit"`
	Redis     RedisConfig     `yaml:"redis"`
	Directory DirectoryConfig `yaml:"directory"`
	Log       LogConfig       `yaml:"log"`
}

// AuthConfig configures token validation and the assembler.
type AuthConfig struct {
	// Issuer is the expected token issuer.
	Issuer string `yaml:"issuer"`

	// Audience is the set of accepted audiences.
	Audience []string `yaml:"audience"`

	// Algorithms is the allow-list of signing algorithms.
	Algorithms []string `yaml:"algorithms"`

	// ClockSkew is the tolerance applied to nbf/iat checks.
	ClockSkew time.Duration `yaml:"clockSkew"`

	// ValidationCacheTTL is the ceiling for cached validation results.
	ValidationCacheTTL time.Duration `yaml:"validationCacheTTL"`

	// CookieName is the fallback credential cookie. Empty disables it.
	CookieName string `yaml:"cookieName"`
}

// GetEffectiveClockSkew returns the clock skew or its default.
func (c *AuthConfig) GetEffectiveClockSkew() time.Duration {
	if c.ClockSkew > 0 {
		return c.ClockSkew
	}
	return DefaultClockSkew
}

// GetEffectiveValidationCacheTTL returns the cache ceiling or its default.
func (c *AuthConfig) GetEffectiveValidationCacheTTL() time.Duration {
	if c.ValidationCacheTTL > 0 {
		return c.ValidationCacheTTL
	}
	return DefaultValidationCacheTTL
}

// KeysConfig configures the key resolver.
type KeysConfig struct {
	// JWKSURL is the key-set endpoint polled for signing keys.
	JWKSURL string `yaml:"jwksURL"`

	// RefreshTTL is the key freshness window.
	RefreshTTL time.Duration `yaml:"refreshTTL"`

	// FetchTimeout bounds a single upstream fetch.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// FetchRetries is the number of retry attempts on fetch failure.
	FetchRetries int `yaml:"fetchRetries"`
}

// GetEffectiveRefreshTTL returns the refresh TTL or its default.
func (c *KeysConfig) GetEffectiveRefreshTTL() time.Duration {
	if c.RefreshTTL > 0 {
		return c.RefreshTTL
	}
	return DefaultKeyRefreshTTL
}

// SessionConfig configures the session store.
type SessionConfig struct {
	// IdleTimeout is the inactivity window after which a session is dead.
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// Prefix namespaces session keys in the shared store.
	Prefix string `yaml:"prefix"`
}

// GetEffectiveIdleTimeout returns the idle timeout or its default.
func (c *SessionConfig) GetEffectiveIdleTimeout() time.Duration {
	if c.IdleTimeout > 0 {
		return c.IdleTimeout
	}
	return DefaultSessionIdleTimeout
}

// AuthzConfig configures the permission engine.
type AuthzConfig struct {
	// RoleHierarchy maps a role to the roles it implies.
	RoleHierarchy map[string][]string `yaml:"roleHierarchy"`

	// Policies are the ordered attribute policies. Order matters: the
	// first policy producing an explicit effect wins.
	Policies []AuthzPolicy `yaml:"policies"`

	// DefaultEffect is the ABAC outcome when no policy applies:
	// "permit" (default) or "deny".
	DefaultEffect string `yaml:"defaultEffect"`

	// DecisionCacheTTL bounds cached decisions.
	DecisionCacheTTL time.Duration `yaml:"decisionCacheTTL"`

	// DecisionCacheSize caps the number of cached decisions.
	DecisionCacheSize int `yaml:"decisionCacheSize"`
}

// AuthzPolicy is one ordered attribute policy. A policy applies when
// its resource and action scopes match; it then yields its effect when
// its matchers pass, otherwise it is not applicable.
type AuthzPolicy struct {
	// Name identifies the policy in decisions and audit events.
	Name string `yaml:"name"`

	// Resources scope the policy. A trailing "*" matches a prefix;
	// empty matches every resource.
	Resources []string `yaml:"resources"`

	// Actions scope the policy. Empty matches every action.
	Actions []string `yaml:"actions"`

	// Effect is "permit" or "deny".
	Effect string `yaml:"effect"`

	// Condition is an optional CEL expression over subject, resource,
	// action, request, environment and now.
	Condition string `yaml:"condition"`

	// OwnerOnly restricts the policy to the resource owner.
	OwnerOnly bool `yaml:"ownerOnly"`

	// Hours restricts the policy to a UTC hour window.
	Hours *HourWindow `yaml:"hours"`
}

// HourWindow is a [Start, End) window in UTC hours.
type HourWindow struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// GetEffectiveDecisionCacheTTL returns the decision cache TTL or its default.
func (c *AuthzConfig) GetEffectiveDecisionCacheTTL() time.Duration {
	if c.DecisionCacheTTL > 0 {
		return c.DecisionCacheTTL
	}
	return DefaultDecisionCacheTTL
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// Requests is the nominal limit per window.
	Requests int `yaml:"requests"`

	// Window is the fixed window size.
	Window time.Duration `yaml:"window"`

	// Adaptive scales the effective limit under load.
	Adaptive AdaptiveConfig `yaml:"adaptive"`

	// ViolationThresholds set the low/medium/high/critical boundaries.
	ViolationThresholds ViolationThresholds `yaml:"violationThresholds"`
}

// GetEffectiveRequests returns the nominal limit or its default.
func (c *RateLimitConfig) GetEffectiveRequests() int {
	if c.Requests > 0 {
		return c.Requests
	}
	return DefaultRateLimitRequests
}

// GetEffectiveWindow returns the window size or its default.
func (c *RateLimitConfig) GetEffectiveWindow() time.Duration {
	if c.Window > 0 {
		return c.Window
	}
	return DefaultRateLimitWindow
}

// AdaptiveConfig configures load-based limit scaling.
type AdaptiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// HighLoad is the load signal at which the limit scales to HighFactor.
	HighLoad float64 `yaml:"highLoad"`

	// CriticalLoad is the load signal at which the limit scales to
	// CriticalFactor.
	CriticalLoad float64 `yaml:"criticalLoad"`

	HighFactor     float64 `yaml:"highFactor"`
	CriticalFactor float64 `yaml:"criticalFactor"`
}

// ViolationThresholds classify repeat offenders by violation count.
type ViolationThresholds struct {
	Medium   int `yaml:"medium"`
	High     int `yaml:"high"`
	Critical int `yaml:"critical"`
}

// GDPRConfig configures the data filter.
type GDPRConfig struct {
	// AdminRoles see sensitive values unmasked (always audited).
	AdminRoles []string `yaml:"adminRoles"`

	// Fields maps field names to their sensitivity class
	// (public, sensitive, restricted).
	Fields map[string]string `yaml:"fields"`
}

// AuditConfig configures the audit emitter.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr" or a file path.
	Output string `yaml:"output"`

	// RedactFields are scrubbed from event metadata before writing.
	RedactFields []string `yaml:"redactFields"`
}

// GetEffectiveOutput returns the output target or its default.
func (c *AuditConfig) GetEffectiveOutput() string {
	if c.Output != "" {
		return c.Output
	}
	return "stdout"
}

// RedisConfig configures the shared keyed store.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Timeout bounds every store round-trip.
	Timeout time.Duration `yaml:"timeout"`
}

// GetEffectiveTimeout returns the store timeout or its default.
func (c *RedisConfig) GetEffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultStoreTimeout
}

// DirectoryConfig configures the subject directory lookup.
type DirectoryConfig struct {
	// DSN is the Postgres connection string. Empty disables the directory.
	DSN string `yaml:"dsn"`

	// QueryTimeout bounds a single lookup.
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			Algorithms:         []string{"RS256", "ES256", "EdDSA"},
			ClockSkew:          DefaultClockSkew,
			ValidationCacheTTL: DefaultValidationCacheTTL,
		},
		Keys: KeysConfig{
			RefreshTTL:   DefaultKeyRefreshTTL,
			FetchTimeout: 10 * time.Second,
			FetchRetries: 3,
		},
		Session: SessionConfig{
			IdleTimeout: DefaultSessionIdleTimeout,
			Prefix:      "session:",
		},
		Authz: AuthzConfig{
			DefaultEffect:     "permit",
			DecisionCacheTTL:  DefaultDecisionCacheTTL,
			DecisionCacheSize: 10000,
		},
		RateLimit: RateLimitConfig{
			Requests: DefaultRateLimitRequests,
			Window:   DefaultRateLimitWindow,
			Adaptive: AdaptiveConfig{
				HighLoad:       0.8,
				CriticalLoad:   0.95,
				HighFactor:     0.75,
				CriticalFactor: 0.5,
			},
			ViolationThresholds: ViolationThresholds{
				Medium:   5,
				High:     20,
				Critical: 50,
			},
		},
		GDPR: GDPRConfig{
			AdminRoles: []string{"admin"},
		},
		Audit: AuditConfig{
			Enabled:      true,
			Output:       "stdout",
			RedactFields: []string{"password", "authorization", "token"},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Timeout: DefaultStoreTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads a YAML configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from trusted caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.ClockSkew < 0 {
		errs = append(errs, errors.New("auth.clockSkew must not be negative"))
	}
	if c.Auth.ValidationCacheTTL < 0 {
		errs = append(errs, errors.New("auth.validationCacheTTL must not be negative"))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, errors.New("rateLimit.requests must not be negative"))
	}
	if c.RateLimit.Window < 0 {
		errs = append(errs, errors.New("rateLimit.window must not be negative"))
	}
	if e := c.Authz.DefaultEffect; e != "" && e != "permit" && e != "deny" {
		errs = append(errs, fmt.Errorf("authz.defaultEffect must be permit or deny, got %q", e))
	}
	for i, p := range c.Authz.Policies {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("authz.policies[%d]: name is required", i))
		}
		if p.Effect != "permit" && p.Effect != "deny" {
			errs = append(errs, fmt.Errorf("authz.policies[%d]: effect must be permit or deny, got %q", i, p.Effect))
		}
		if h := p.Hours; h != nil && (h.Start < 0 || h.End > 24 || h.Start >= h.End) {
			errs = append(errs, fmt.Errorf("authz.policies[%d]: hours must satisfy 0 <= start < end <= 24", i))
		}
	}
	if a := c.RateLimit.Adaptive; a.Enabled {
		if a.HighLoad <= 0 || a.HighLoad > 1 {
			errs = append(errs, errors.New("rateLimit.adaptive.highLoad must be in (0,1]"))
		}
		if a.CriticalLoad < a.HighLoad {
			errs = append(errs, errors.New("rateLimit.adaptive.criticalLoad must be >= highLoad"))
		}
	}
	for field, class := range c.GDPR.Fields {
		switch class {
		case "public", "sensitive", "restricted":
		default:
			errs = append(errs, fmt.Errorf("gdpr.fields[%s]: unknown class %q", field, class))
		}
	}

	return errors.Join(errs...)
}
