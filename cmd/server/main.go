package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/duelcam/backend/internal/api"
	"github.com/duelcam/backend/internal/auth"
	"github.com/duelcam/backend/internal/config"
	"github.com/duelcam/backend/internal/health"
	"github.com/duelcam/backend/internal/logger"
	"github.com/duelcam/backend/internal/metrics"
	appmw "github.com/duelcam/backend/internal/middleware"
	"github.com/duelcam/backend/internal/push"
	"github.com/duelcam/backend/internal/repository"
	"github.com/duelcam/backend/internal/store"
	"github.com/duelcam/backend/internal/stream"
)

var version = "dev"

func main() {
	// Load configuration
	cfg := config.Load()

	// Validate required configuration
	// Only the access secret is required: this service validates access
	// tokens issued elsewhere and never mints or checks refresh tokens.
	if cfg.JWT.AccessSecret == "" {
		log.Fatal("JWT_ACCESS_SECRET environment variable is required")
	}
	if cfg.Push.VAPIDPublicKey == "" || cfg.Push.VAPIDPrivateKey == "" {
		log.Fatal("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY environment variables are required")
	}

	// Setup structured logging
	appLogger := logger.New(logger.DefaultConfig())
	slog.SetDefault(appLogger)

	// Setup database connections. pgxpool serves health checks; sqlx over
	// the pgx stdlib driver serves the repositories.
	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	db, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open sqlx connection: %v", err)
	}
	defer db.Close()

	// Initialize repositories
	eventRepo := repository.NewEventRepo(db)
	subRepo := repository.NewSubscriptionRepo(db)
	matchRepo := repository.NewMatchRepo(db)

	// Initialize services
	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:       cfg.JWT.AccessSecret,
		RefreshSecret:      cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.JWT.RefreshTokenExpiry,
		Issuer:             cfg.JWT.Issuer,
	})

	notifier, err := push.New(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:         cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}, subRepo, appLogger)
	if err != nil {
		log.Fatalf("Failed to create push notifier: %v", err)
	}

	eventStore := store.New(store.Config{
		EscalationTimeout: cfg.Events.EscalationTimeout,
	}, notifier, appLogger)

	statsCollector := metrics.NewStoreStatsCollector(func() (int, int, int) {
		s := eventStore.Stats()
		return s.UserCount, s.EventCount, s.TimeoutCount
	})
	statsCollector.Start(15 * time.Second)

	// Periodic cleanup of expired non-persistent event rows. Persistent
	// rows stay until the client acknowledges them.
	retentionCtx, stopRetention := context.WithCancel(context.Background())
	go runRetentionSweep(retentionCtx, eventRepo, cfg.Events.Retention, appLogger)

	streamManager := stream.NewManager()
	streamHandler := stream.NewHandler(stream.Config{
		PollInterval:      cfg.Events.PollInterval,
		HeartbeatInterval: cfg.Events.HeartbeatInterval,
	}, streamManager, eventStore, eventRepo, tokenService, appLogger)

	// Initialize handlers
	eventsHandler := api.NewEventsHandler(eventStore, eventRepo, appLogger)
	signalHandler := api.NewSignalHandler(eventStore, eventRepo, matchRepo, appLogger)
	subsHandler := api.NewSubscriptionHandler(eventStore, eventRepo, subRepo, appLogger)
	healthHandler := health.NewHandler(health.Config{
		DBPool:  dbPool,
		Version: version,
	})

	// Initialize middleware
	authMiddleware := appmw.NewAuthMiddleware(tokenService)
	signalLimiter := appmw.NewSignalRateLimiter()

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmw.StructuredLogger(appLogger))
	r.Use(metrics.Middleware)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://duelcam.app", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics endpoints
	healthHandler.RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// The stream route stays outside the timeout group: it holds the
		// connection open until the client disconnects.
		stream.RegisterRoutes(r, streamHandler)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))
			api.RegisterRoutes(r, eventsHandler, signalHandler, subsHandler,
				authMiddleware.Authenticate, signalLimiter.RateLimitSignal)
		})
	})

	// Create server. WriteTimeout stays 0 so the event stream is not cut
	// off; slow non-stream handlers are bounded by the timeout middleware.
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.Info("starting server", slog.String("addr", addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	healthHandler.SetReady(true)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	streamManager.CloseAll()
	eventStore.Cleanup()
	statsCollector.Stop()
	stopRetention()

	appLogger.Info("server exited")
}

// runRetentionSweep deletes expired non-persistent event rows once an hour
// until ctx is cancelled.
func runRetentionSweep(ctx context.Context, repo repository.EventRepositoryInterface, retention time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			n, err := repo.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				log.Error("event retention sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				log.Info("deleted expired events",
					slog.Int("count", n),
					slog.Time("cutoff", cutoff))
			}
		}
	}
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
