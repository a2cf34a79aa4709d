package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tasks-auth/internal/audit"
	"tasks-auth/internal/auth"
	"tasks-auth/internal/config"
	"tasks-auth/internal/maintenance"
	"tasks-auth/internal/observability"
	"tasks-auth/internal/password"
	"tasks-auth/internal/ratelimit"
	"tasks-auth/internal/store/memory"
	"tasks-auth/internal/store/postgres"
	"tasks-auth/internal/token"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  config.Config
	Logger  *observability.Logger
	Handler http.Handler
	Close   func() error
}

type persistence struct {
	store   auth.Store
	cleaner maintenance.Cleaner
	repo    *postgres.Repository
	close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Env)

	if err := observability.InitSentry(cfg); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := openPersistence(ctx, cfg, options.RunMigrations || cfg.Database.RunMigrations)
	if err != nil {
		return nil, err
	}

	auditLog := audit.New(logger.Zap(), cfg.AuditBufferSize)
	closeAll := func() error {
		auditLog.Close()
		observability.FlushSentry()
		logger.Sync()
		return db.close()
	}

	hasher := password.NewHasher(password.Params{
		MemoryKiB:   cfg.Argon2.MemoryKiB,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
	})
	codec := token.NewCodec(cfg.JWTSecret)

	manager, err := auth.NewManager(cfg, hasher, codec, auditLog)
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("init session manager: %w", err)
	}

	if err := seedAdmin(ctx, db.store, manager, cfg, logger); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	loginLimiter, registerLimiter, closeLimiters, err := buildLimiters(ctx, cfg, db.repo)
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	authHandler := auth.NewHandler(db.store, manager, cfg, auditLog, logger)
	resolver := auth.NewIdentityResolver(codec, cfg.TokenSources)
	cleanupHandler := maintenance.NewCleanupHandler(db.cleaner, logger, cfg.Cleanup)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", ratelimit.Middleware(loginLimiter, "/auth/login", auditLog, logger, http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /auth/register", ratelimit.Middleware(registerLimiter, "/auth/register", auditLog, logger, http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /auth/refresh", auth.RequireCSRF(auditLog, http.HandlerFunc(authHandler.Refresh)))
	mux.Handle("POST /auth/logout", auth.RequireAuth(resolver, auditLog, auth.RequireCSRF(auditLog, http.HandlerFunc(authHandler.Logout))))
	mux.Handle("GET /auth/me", auth.RequireAuth(resolver, auditLog, http.HandlerFunc(authHandler.Me)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(db.store, auditLog))

	handler := observability.ClientIPMiddleware(cfg.TrustedProxyHops,
		observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux)))

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Handler: handler,
		Close: func() error {
			return errors.Join(closeLimiters(), closeAll())
		},
	}, nil
}

func openPersistence(ctx context.Context, cfg config.Config, runMigrations bool) (persistence, error) {
	if cfg.UsesMemoryStore() {
		store := memory.New()
		return persistence{
			store:   store,
			cleaner: store,
			close:   func() error { return nil },
		}, nil
	}

	database, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return persistence{}, err
	}

	if runMigrations {
		if err := postgres.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return persistence{}, fmt.Errorf("run migrations: %w", err)
		}
	}

	repo := postgres.NewRepository(database)
	return persistence{
		store:   repo,
		cleaner: repo,
		repo:    repo,
		close:   database.Close,
	}, nil
}

func buildLimiters(ctx context.Context, cfg config.Config, repo *postgres.Repository) (ratelimit.Limiter, ratelimit.Limiter, func() error, error) {
	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return ratelimit.NewRedisLimiter(rdb, "login", cfg.LoginRateLimit.Max, cfg.LoginRateLimit.Window),
			ratelimit.NewRedisLimiter(rdb, "register", cfg.RegisterRateLimit.Max, cfg.RegisterRateLimit.Window),
			rdb.Close,
			nil
	case config.BackendPostgres:
		if repo == nil {
			return nil, nil, nil, fmt.Errorf("rate limit backend postgres needs a postgres store")
		}
		return repo.NewRateLimiter("login", cfg.LoginRateLimit.Max, cfg.LoginRateLimit.Window),
			repo.NewRateLimiter("register", cfg.RegisterRateLimit.Max, cfg.RegisterRateLimit.Window),
			func() error { return nil },
			nil
	default:
		return ratelimit.NewMemoryLimiter(cfg.LoginRateLimit.Max, cfg.LoginRateLimit.Window),
			ratelimit.NewMemoryLimiter(cfg.RegisterRateLimit.Max, cfg.RegisterRateLimit.Window),
			func() error { return nil },
			nil
	}
}

func seedAdmin(ctx context.Context, store auth.Store, manager *auth.Manager, cfg config.Config, logger *observability.Logger) error {
	if cfg.AdminUsername == "" {
		return nil
	}

	var created bool
	err := auth.Transact(ctx, store, func(tx auth.Tx) error {
		var err error
		created, err = manager.EnsureAdmin(ctx, tx, cfg.AdminUsername, cfg.AdminPassword)
		return err
	})
	if err != nil {
		return err
	}

	if created {
		logger.Info("admin_account_created", map[string]any{"username": cfg.AdminUsername})
	}
	return nil
}

func healthHandler(store auth.Store, auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		state := "ok"
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":               state,
			"time":                 time.Now().UTC().Format(time.RFC3339),
			"audit_events_dropped": auditLog.Dropped(),
		})
	}
}
