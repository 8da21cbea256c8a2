// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and the logger, then Server.New creates:
//
//	profile store (sqlite | postgres) ─┬→ ProfileService → ProfileSyncer
//	                                   ├→ LedgerService ─→ billing.Service
//	GoTrue client + verifier + Google ─┴→ auth.Adapter ──→ handlers, guard
//
// This is the "composition root" pattern. Every long-lived client (GoTrue,
// Google, Stripe, Redis, the store) is built exactly once here and injected.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/reroom-bff/internal/auth"
	"github.com/sakif/reroom-bff/internal/billing"
	"github.com/sakif/reroom-bff/internal/config"
	"github.com/sakif/reroom-bff/internal/handler"
	"github.com/sakif/reroom-bff/internal/metrics"
	"github.com/sakif/reroom-bff/internal/middleware"
	"github.com/sakif/reroom-bff/internal/repository"
	pgRepo "github.com/sakif/reroom-bff/internal/repository/postgres"
	sqliteRepo "github.com/sakif/reroom-bff/internal/repository/sqlite"
	"github.com/sakif/reroom-bff/internal/service"
)

// store is what both database backends provide.
type store interface {
	repository.ProfileRepository
	repository.LedgerRepository
	repository.PaymentEventRepository
	Ping(ctx context.Context) error
	Close() error
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the Redis client. Start
// closes both after the HTTP server has drained.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	logger  *slog.Logger
	db      store
	redis   *redis.Client // nil when the seen-set is in memory
	adapter *auth.Adapter
	syncer  *service.ProfileSyncer
}

// New creates a Server from cfg: it opens the store, builds every client
// and service, and registers the routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// openStore opens the configured backend. Postgres migrations run first;
// SQLite creates its schema itself.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, error) {
	switch cfg.DBDriver {
	case "postgres":
		if err := pgRepo.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		db, err := pgRepo.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		logger.Info("profile store ready", slog.String("driver", "postgres"))
		return db, nil

	default:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		logger.Info("profile store ready", slog.String("driver", "sqlite"), slog.String("path", cfg.DBPath))
		return db, nil
	}
}

// seenStore returns the Redis-backed seen-set when REDIS_URL is set and
// reachable, and the in-memory one otherwise. The seen-set only saves
// work, so an unreachable Redis is a warning, not a startup failure.
func (s *Server) seenStore(ctx context.Context) service.SeenStore {
	if s.cfg.RedisURL == "" {
		return service.NewMemorySeenStore(s.cfg.SeenTTL)
	}

	opt, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		s.logger.Warn("invalid REDIS_URL, using in-memory seen store", slog.String("error", err.Error()))
		return service.NewMemorySeenStore(s.cfg.SeenTTL)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("redis unreachable, using in-memory seen store", slog.String("error", err.Error()))
		client.Close()
		return service.NewMemorySeenStore(s.cfg.SeenTTL)
	}
	s.redis = client
	return service.NewRedisSeenStore(client, s.cfg.SeenTTL)
}

// setupRoutes builds the services and configures all middleware and routes.
//
// ROUTE STRUCTURE:
//
//	GET  /health                    → store health
//	GET  /metrics                   → Prometheus scrape
//	POST /api/auth/signin           → password sign-in        (rate limited)
//	POST /api/auth/signup           → registration            (rate limited)
//	GET  /api/auth/google           → start Google OAuth
//	GET  /api/auth/google/callback  → finish Google OAuth
//	POST /api/auth/signout          → sign out
//	GET  /api/auth/session          → current identity
//	POST /api/webhooks/stripe       → Stripe events (signature checked)
//	     /api/profile, /api/credits, /api/subscription, /api/checkout
//	                                → require a caller (internal key or session)
//	GET  /*                         → pages, behind the route guard
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers (rate limiting keys on it)
// 3. Logger: logs each request with timing info and records metrics
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(ctx context.Context) error {
	cfg := s.cfg
	debug := !cfg.IsProduction()

	// === Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// === Identity ===
	gotrue := auth.NewGoTrueClient(auth.GoTrueConfig{
		URL:     cfg.SupabaseURL,
		AnonKey: cfg.SupabaseAnonKey,
		Timeout: cfg.GoTrueTimeout,
	}, s.logger)

	var verifier *auth.TokenVerifier
	if cfg.SupabaseJWTSecret != "" {
		v, err := auth.NewTokenVerifier(cfg.SupabaseJWTSecret, gotrue.Issuer())
		if err != nil {
			return fmt.Errorf("creating token verifier: %w", err)
		}
		verifier = v
	} else {
		s.logger.Warn("SUPABASE_JWT_SECRET not set, access tokens are checked against the provider on every request")
	}

	var google auth.OAuthProvider
	if cfg.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	s.adapter = auth.NewAdapter(gotrue, verifier, google, auth.NewNotifier(s.logger), s.logger)
	cookies := auth.Cookies{
		Secure: cfg.IsProduction() || strings.HasPrefix(cfg.PublicURL, "https://"),
		MaxAge: cfg.SessionMaxAge,
	}

	// === Services ===
	profiles := service.NewProfileService(s.db, s.logger)
	s.syncer = service.NewProfileSyncer(profiles, s.seenStore(ctx), collector, s.logger)
	ledger := service.NewLedgerService(s.db, s.db, collector, s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(s.adapter, profiles, s.syncer, cookies, debug, s.logger)
	profileHandler := handler.NewProfileHandler(profiles, debug, s.logger)
	ledgerHandler := handler.NewLedgerHandler(ledger, profiles, debug, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, cfg.AppEnv, s.logger)
	pageHandler, err := handler.NewPageHandler(cfg.FrontendURL, cfg.TemplateDir, s.logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}

	var billingHandler *handler.BillingHandler
	if cfg.StripeEnabled() {
		payments := billing.NewService(billing.NewStripeCheckout(cfg.StripeSecretKey), ledger, s.db, collector,
			billing.Config{WebhookSecret: cfg.StripeWebhookSecret, PublicURL: cfg.PublicURL}, s.logger)
		billingHandler = handler.NewBillingHandler(payments, debug, s.logger)
	}

	requireCaller := auth.RequireCaller(s.adapter, cookies, auth.NewKeyHasher(), cfg.InternalAPIKeyHash, s.logger)
	guard := middleware.NewGuard(s.adapter, cookies, collector, s.logger)

	authLimiter := httprate.Limit(cfg.AuthRateLimit, cfg.AuthRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimited),
	)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, collector))
	s.router.Use(chimiddleware.Recoverer)

	// === Operational ===
	s.router.Get("/health", healthHandler.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	// === API ===
	s.router.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.GetCORSAllowedOrigins(),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.InternalKeyHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(middleware.SecurityHeaders)

		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/signin", authHandler.HandleSignIn)
			r.With(authLimiter).Post("/signup", authHandler.HandleSignUp)
			if google != nil {
				r.Get("/google", authHandler.HandleGoogleLogin)
				r.Get("/google/callback", authHandler.HandleGoogleCallback)
			}
			r.Post("/signout", authHandler.HandleSignOut)
			r.Get("/session", authHandler.HandleSession)
		})

		if billingHandler != nil {
			r.Post("/webhooks/stripe", billingHandler.HandleWebhook)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireCaller)
			r.Post("/profile/reconcile", profileHandler.HandleReconcile)
			r.Get("/profile", profileHandler.HandleGet)
			r.Get("/credits", ledgerHandler.HandleGetCredits)
			r.Post("/credits", ledgerHandler.HandleMutateCredits)
			r.Get("/credits/history", ledgerHandler.HandleHistory)
			r.Get("/subscription", ledgerHandler.HandleGetSubscription)
			r.Post("/subscription", ledgerHandler.HandleUpdateSubscription)
			if billingHandler != nil {
				r.Post("/checkout", billingHandler.HandleCheckout)
			}
		})
	})

	// === Pages ===
	// Everything else is a page navigation; the guard decides who sees it.
	s.router.Handle("/*", guard.Middleware(pageHandler))

	return nil
}

// rateLimited answers 429 in the API's error format.
func rateLimited(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(handler.ErrorResponse{
		Error:   "rate_limited",
		Message: "Too many attempts, please try again later",
	})
}

// Handler returns the root HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

// close releases the store and the Redis client.
func (s *Server) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing redis", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (SHUTDOWN_TIMEOUT)
// 3. Stop the profile syncer's event loop
// 4. Close Redis and the database
func (s *Server) Start() error {
	defer s.close()

	// The syncer reconciles profiles on every SignedIn event.
	syncCtx, stopSync := context.WithCancel(context.Background())
	events, unsubscribe := s.adapter.Subscribe(64)
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		s.syncer.Run(syncCtx, events)
	}()
	defer func() {
		stopSync()
		unsubscribe()
		<-syncDone
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("env", s.cfg.AppEnv),
			slog.String("db_driver", s.cfg.DBDriver),
			slog.Bool("google", s.cfg.GoogleEnabled()),
			slog.Bool("stripe", s.cfg.StripeEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
