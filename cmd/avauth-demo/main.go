// Package main runs a demonstration server around the authentication
// and authorization core: token issuance, validation, session liveness,
// role and attribute checks, rate limiting and field filtering, with
// audit events on stdout and Prometheus metrics on /metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/auth/keys"
	"github.com/vyrodovalexey/avauth/internal/auth/token"
	"github.com/vyrodovalexey/avauth/internal/authz"
	"github.com/vyrodovalexey/avauth/internal/authz/directory"
	"github.com/vyrodovalexey/avauth/internal/authz/rbac"
	"github.com/vyrodovalexey/avauth/internal/cache"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/gdpr"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/ratelimit"
	ratelimitstore "github.com/vyrodovalexey/avauth/internal/ratelimit/store"
	"github.com/vyrodovalexey/avauth/internal/session"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

// demoSecret signs demo tokens when no JWKS endpoint is configured.
var demoSecret = []byte("avauth-demo-secret-0123456789abcdef")

const demoKeyID = "demo-key"

type cliFlags struct {
	configPath  string
	listenAddr  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("avauth-demo version %s (commit %s)\n", version, gitCommit)
		return
	}

	cfg := loadConfig(flags.configPath)

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	app, err := buildApplication(cfg, logger)
	if err != nil {
		logger.Error("failed to build application", observability.Error(err))
		os.Exit(1)
	}
	defer app.close()

	run(flags.listenAddr, app, logger)
}

func parseFlags() cliFlags {
	configPath := flag.String("config", os.Getenv("AVAUTH_CONFIG_PATH"), "Path to configuration file")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		listenAddr:  *listenAddr,
		showVersion: *showVersion,
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		cfg := config.DefaultConfig()
		applyDemoDefaults(cfg)
		return cfg
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyDemoDefaults fills in a self-contained configuration so the demo
// runs without a config file, an IdP or external stores.
func applyDemoDefaults(cfg *config.Config) {
	// In-memory stores; a config file is required to opt into Redis.
	cfg.Redis.Address = ""

	cfg.Auth.Issuer = "avauth-demo"
	cfg.Auth.Audience = []string{"avauth-demo"}
	cfg.Auth.Algorithms = []string{token.AlgHS256}
	cfg.Auth.CookieName = "auth_token"

	cfg.Authz.RoleHierarchy = map[string][]string{
		"admin":     {"moderator"},
		"moderator": {"user"},
	}
	cfg.Authz.Policies = []config.AuthzPolicy{
		{
			Name:      "deny-archived-reviews",
			Resources: []string{"reviews/*"},
			Actions:   []string{"write"},
			Effect:    "deny",
			Condition: `request.archived == true`,
		},
	}

	cfg.RateLimit.Requests = 10
	cfg.RateLimit.Window = time.Minute

	cfg.GDPR.Fields = map[string]string{
		"email":    "sensitive",
		"phone":    "sensitive",
		"passport": "restricted",
	}
}

// application holds the wired core components.
type application struct {
	cfg        *config.Config
	signer     token.Signer
	sessions   session.Store
	assembler  *auth.Assembler
	authorizer authz.Authorizer
	filter     *gdpr.Filter
	emitter    audit.Emitter
	logger     observability.Logger

	closers []func() error
}

func buildApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	emitter, err := audit.NewEmitter(&cfg.Audit, audit.WithEmitterLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("audit emitter: %w", err)
	}
	app.emitter = emitter
	app.closers = append(app.closers, emitter.Close)

	var resolver keys.Resolver
	if cfg.Keys.JWKSURL != "" {
		resolver = keys.NewJWKSResolver(cfg.Keys.JWKSURL, cfg.Keys.GetEffectiveRefreshTTL(),
			keys.WithResolverLogger(logger),
			keys.WithResolverFetchTimeout(cfg.Keys.FetchTimeout),
			keys.WithResolverRetries(cfg.Keys.FetchRetries),
		)
	} else {
		resolver = keys.NewStaticResolver(map[string]any{demoKeyID: demoSecret})

		signer, err := token.NewSigner(demoSecret, demoKeyID, token.AlgHS256,
			token.WithSignerIssuer(cfg.Auth.Issuer),
			token.WithSignerAudience(cfg.Auth.Audience...),
			token.WithSignerExpiry(time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("demo signer: %w", err)
		}
		app.signer = signer
	}

	validator, err := token.NewValidator(&cfg.Auth, resolver, token.WithValidatorLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("token validator: %w", err)
	}

	var (
		validationStore cache.Cache
		sessions        session.Store
		counterStore    ratelimitstore.Store
		consent         gdpr.ConsentStore
	)
	if cfg.Redis.Address != "" {
		validationStore, err = cache.NewRedis(&cfg.Redis, "validation:", logger)
		if err != nil {
			return nil, fmt.Errorf("validation cache: %w", err)
		}
		sessions, err = session.NewRedisStore(&cfg.Redis, &cfg.Session, session.WithRedisStoreLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		counterStore, err = ratelimitstore.NewRedisStore(&cfg.Redis, "ratelimit:")
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
		consent, err = gdpr.NewRedisConsentStore(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("consent store: %w", err)
		}
	} else {
		validationStore = cache.NewMemory(4096, logger)
		sessions = session.NewMemoryStore(&cfg.Session)
		counterStore = ratelimitstore.NewMemoryStore()
		consent = gdpr.NewMemoryConsentStore()
	}
	app.sessions = sessions
	app.closers = append(app.closers, validationStore.Close, sessions.Close, counterStore.Close)

	limiter := ratelimit.NewFixedWindowLimiter(counterStore, &cfg.RateLimit,
		ratelimit.WithLimiterLogger(logger),
		ratelimit.WithLimiterEmitter(emitter),
	)
	app.closers = append(app.closers, limiter.Close)

	app.assembler = auth.NewAssembler(&cfg.Auth, validator,
		auth.WithAssemblerLogger(logger),
		auth.WithAssemblerEmitter(emitter),
		auth.WithTokenCache(token.NewTokenCache(validationStore, cfg.Auth.GetEffectiveValidationCacheTTL(),
			token.WithTokenCacheLogger(logger))),
		auth.WithSessionStore(sessions),
		auth.WithRateLimiter(limiter),
	)

	authzOpts := []authz.AuthorizerOption{
		authz.WithAuthorizerLogger(logger),
		authz.WithAuditEmitter(emitter),
	}
	if cfg.Directory.DSN != "" {
		dir, err := directory.NewPostgres(context.Background(), &cfg.Directory)
		if err != nil {
			return nil, fmt.Errorf("subject directory: %w", err)
		}
		app.closers = append(app.closers, dir.Close)
		authzOpts = append(authzOpts, authz.WithDirectory(dir))
	}

	authorizer, err := authz.New(&cfg.Authz, authzOpts...)
	if err != nil {
		return nil, fmt.Errorf("authorizer: %w", err)
	}
	app.authorizer = authorizer
	app.closers = append(app.closers, authorizer.Close)

	app.filter = gdpr.NewFilter(&cfg.GDPR, consent,
		gdpr.WithFilterLogger(logger),
		gdpr.WithFilterEmitter(emitter),
	)
	app.closers = append(app.closers, app.filter.Close)

	return app, nil
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn("close failed", observability.Error(err))
		}
	}
}

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	if app.signer != nil {
		mux.HandleFunc("POST /login", app.handleLogin)
	}

	public := app.assembler.Middleware(true)
	protected := app.assembler.Middleware(false)
	moderatorOnly := authz.Require(app.authorizer,
		authz.Requirement{Roles: []string{"moderator"}, RoleMode: rbac.ModeHierarchical},
		"reviews/inbox", "read")

	mux.Handle("GET /profile", public(http.HandlerFunc(app.handleProfile)))
	mux.Handle("GET /reviews", protected(moderatorOnly(http.HandlerFunc(app.handleReviews))))

	return mux
}

// handleLogin mints a demo token and session for the requested user.
// Demo only; a real deployment issues tokens from its IdP.
func (app *application) handleLogin(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("user")
	if subject == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}
	roles := r.URL.Query()["role"]
	if len(roles) == 0 {
		roles = []string{"user"}
	}

	sessionID := uuid.New().String()
	if err := app.sessions.Create(r.Context(), &session.Record{
		ID:        sessionID,
		Subject:   subject,
		IPAddress: auth.ClientIP(r),
	}); err != nil {
		app.logger.Error("failed to create session", observability.Error(err))
		http.Error(w, "login failed", http.StatusServiceUnavailable)
		return
	}

	raw, err := app.signer.Sign(r.Context(), &token.ClaimSet{
		Subject:   subject,
		SessionID: sessionID,
		Roles:     roles,
	})
	if err != nil {
		app.logger.Error("failed to sign token", observability.Error(err))
		http.Error(w, "login failed", http.StatusServiceUnavailable)
		return
	}

	app.emitter.EmitAuthentication(r.Context(), audit.ActionLogin, audit.OutcomeSuccess,
		&audit.Subject{ID: subject, SessionID: sessionID, Roles: roles, IPAddress: auth.ClientIP(r)})

	writeJSON(w, map[string]string{"token": raw, "session_id": sessionID})
}

// handleProfile shows the resolved identity and a filtered contact
// card. Anonymous callers see the masked variants.
func (app *application) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	const owner = "alice"
	writeJSON(w, map[string]interface{}{
		"subject": identity.Subject,
		"roles":   identity.Roles,
		"contact": map[string]string{
			"email": app.filter.Field(r.Context(), identity, "email", "alice@example.com", owner),
			"phone": app.filter.Field(r.Context(), identity, "phone", "+15550001234", owner),
		},
	})
}

func (app *application) handleReviews(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, map[string]interface{}{
		"reviewer": identity.Subject,
		"queue":    []string{"review-1", "review-2"},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func run(addr string, app *application, logger observability.Logger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", observability.Error(err))
	case sig := <-stop:
		logger.Info("shutting down", observability.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("shutdown incomplete", observability.Error(err))
		}
	}
}
