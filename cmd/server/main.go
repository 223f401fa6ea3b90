// fincoach - adaptive financial-literacy learning server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/fincoach/internal/api"
	"github.com/ashureev/fincoach/internal/assistant"
	"github.com/ashureev/fincoach/internal/audit"
	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/chat"
	"github.com/ashureev/fincoach/internal/config"
	"github.com/ashureev/fincoach/internal/course"
	"github.com/ashureev/fincoach/internal/diagnostic"
	"github.com/ashureev/fincoach/internal/identity"
	"github.com/ashureev/fincoach/internal/middleware"
	"github.com/ashureev/fincoach/internal/quizinject"
	"github.com/ashureev/fincoach/internal/reconcile"
	"github.com/ashureev/fincoach/internal/session"
	"github.com/ashureev/fincoach/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	opts := []catalog.Option{
		catalog.WithDefaultThresholds(cfg.Learning.DiagnosticPassThreshold, cfg.Learning.CoursePassThreshold),
	}
	if cfg.CatalogDir != "" {
		return catalog.LoadDir(cfg.CatalogDir, opts...)
	}
	return catalog.LoadEmbedded(opts...)
}

func newResponder(cfg *config.Config, logger *slog.Logger) assistant.Responder {
	if cfg.Assistant.Addr == "" {
		slog.Info("ASSISTANT_ADDR not set, using offline assistant")
		return assistant.NewOfflineResponder()
	}
	grpcCfg := assistant.DefaultGrpcConfig(cfg.Assistant.Addr)
	grpcCfg.RequestTimeout = cfg.Assistant.RequestTimeout
	r, err := assistant.NewGrpcResponder(grpcCfg, logger)
	if err != nil {
		slog.Warn("Failed to connect to assistant service, falling back to offline assistant", "error", err)
		return assistant.NewOfflineResponder()
	}
	return r
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, cfg.Store, cfg.Session.TTL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	slog.Info("Catalogue loaded",
		"courses", len(cat.Courses.All()),
		"topics", len(cat.Quizzes.Topics()),
		"source", cfg.CatalogDir)

	auditLog, err := audit.New(audit.Config{
		Enabled:   cfg.AuditLog.Enabled,
		Dir:       cfg.AuditLog.Dir,
		QueueSize: cfg.AuditLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := auditLog.Close(); closeErr != nil {
			slog.Warn("Failed to close audit log", "error", closeErr)
		}
	}()

	responder := newResponder(cfg, logger)
	defer responder.Close()

	// Initialize services.
	sessions := session.NewService(repo,
		session.WithResetOnReuse(cfg.Session.ResetOnReuse),
		session.WithLogger(logger))
	hub := reconcile.NewHub()
	scheduler := quizinject.NewScheduler(sessions, cat.Quizzes, cfg.Learning.QuizInterval,
		quizinject.WithAudit(auditLog), quizinject.WithLogger(logger))
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	deps := api.Deps{
		Repo:     repo,
		Sessions: sessions,
		Quizzes:  cat.Quizzes,
		Diagnostic: diagnostic.NewEngine(sessions, cat.Quizzes, cat.Courses,
			diagnostic.WithAudit(auditLog), diagnostic.WithLogger(logger)),
		Courses: course.NewTracker(sessions, cat.Courses, repo,
			course.WithAudit(auditLog), course.WithLogger(logger)),
		Scheduler: scheduler,
		Chat: chat.NewService(sessions, scheduler, responder, repo, hub,
			chat.WithAudit(auditLog), chat.WithLogger(logger)),
		Hub:         hub,
		Audit:       auditLog,
		RateLimiter: rateLimiter,
		MaxBodySize: cfg.MaxBodySize,
		Logger:      logger,
	}
	if hc, ok := responder.(api.HealthChecker); ok {
		deps.Assistant = hc
	}
	handler := api.NewHandler(deps)
	wsHandler := reconcile.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	handler.RegisterRoutes(r)
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// SSE chat turns stream for as long as the assistant replies, so there
	// is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return session.RunEvictor(gctx, repo, cfg.Session.TTL, cfg.Session.EvictInterval, func(evicted int64) {
			pruned := hub.Prune(cfg.Session.TTL)
			if evicted > 0 || pruned > 0 {
				slog.Info("Idle sessions evicted", "sessions", evicted, "windows", pruned)
			}
		})
	})

	g.Go(func() error {
		return rateLimiter.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
