package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classboard/sentinel/internal/auth"
	"github.com/classboard/sentinel/internal/background"
	"github.com/classboard/sentinel/internal/config"
	"github.com/classboard/sentinel/internal/database"
	"github.com/classboard/sentinel/internal/handlers"
	middlewareCustom "github.com/classboard/sentinel/internal/middleware"
	"github.com/classboard/sentinel/internal/repositories"
	"github.com/classboard/sentinel/internal/routes"
	"github.com/classboard/sentinel/internal/services"
	pkglogger "github.com/classboard/sentinel/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		pkglogger.RedactedAttr("database_dsn", cfg.Database.DSN(), cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Apply pending migrations
	if err := runMigrations(&cfg.Database); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	ledgerRepo := repositories.NewLockoutRecordRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)
	policyRepo := repositories.NewPolicyRepository(db)

	// Initialize policy store and seed the default policy if none is stored
	policyStore := services.NewPolicyStore(policyRepo, auditRepo, logger)

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = policyStore.Bootstrap(bootstrapCtx)
	bootstrapCancel()
	if err != nil {
		logger.Error("failed to bootstrap security policy", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize notifier
	var notifier services.Notifier = services.NoopNotifier{}
	var asyncNotifier *services.AsyncNotifier
	if cfg.Email.Enabled {
		sender, err := services.NewSESAlertSender(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.AdminAddress,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize alert sender", slog.Any("error", err))
			os.Exit(1)
		}
		asyncNotifier = services.NewAsyncNotifier(sender, logger, cfg.Lockout.NotifyQueueSize, cfg.Lockout.NotifyTimeout)
		notifier = asyncNotifier
	}

	// Initialize services
	lockoutEngine := services.NewLockoutEngine(ledgerRepo, auditRepo, policyStore, notifier, logger, cfg.Lockout.BulkWorkers)
	statsService := services.NewStatsService(auditRepo, ledgerRepo, policyStore, logger, cfg.Lockout.StatsCacheTTL)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// Initialize handlers
	securityLogger := pkglogger.NewSecurityLogger(logger)
	lockoutHandler := handlers.NewLockoutHandler(lockoutEngine, policyStore, securityLogger)
	statsHandler := handlers.NewStatsHandler(statsService)
	policyHandler := handlers.NewPolicyHandler(policyStore, securityLogger)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, lockoutHandler, statsHandler, policyHandler, tokenManager)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		stats := db.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","database":"up","pool_total_conns":%d,"pool_idle_conns":%d}`,
			stats.TotalConns(), stats.IdleConns())
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if asyncNotifier != nil {
		go asyncNotifier.Start(workerCtx)
	}

	var reaper *background.Reaper
	if cfg.Lockout.ReaperEnabled {
		reaper = background.NewReaper(ledgerRepo, lockoutEngine, auditRepo, policyStore, logger, cfg.Lockout.ReaperInterval)
		go reaper.Start(workerCtx)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	workerCancel()
	if reaper != nil {
		reaper.Stop()
	}
	if asyncNotifier != nil {
		asyncNotifier.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// runMigrations applies pending goose migrations through a short-lived
// database/sql connection
func runMigrations(cfg *config.DatabaseConfig) error {
	sqlDB, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.Up(sqlDB, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
