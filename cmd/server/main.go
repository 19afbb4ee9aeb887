package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"messenger/internal/broker"
	"messenger/internal/config"
	"messenger/internal/handler"
	"messenger/internal/metrics"
	"messenger/internal/middleware"
	"messenger/internal/realtime"
	"messenger/internal/repository"
	"messenger/internal/repository/memory"
	"messenger/internal/service"
	"messenger/internal/telemetry"
	"messenger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)

	shutdownTracing, err := telemetry.Init(context.Background(), cfg.Telemetry, cfg.Environment, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to init tracing", "error", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(context.Background()).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
	}

	var repos *repository.Repositories
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		repos = memory.NewRepositories(memory.NewStore(), appLogger)
		appLogger.Warn("Using in-memory storage, data is lost on restart")
	default:
		dbPool, err := connectPostgres(context.Background(), cfg.Database)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()
		appLogger.Info("Database connection established")

		repos = repository.NewRepositories(dbPool, rdb, appLogger)
	}
	if rdb != nil && cfg.Storage.Driver == config.StorageDriverMemory {
		repos.RateLimit = repository.NewRateLimitRepository(rdb, appLogger)
	}
	if repos.RateLimit == nil {
		repos.RateLimit = memory.NewRateLimiter()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	publisher := broker.NewPublisher(cfg.Kafka, appLogger)

	services := service.NewServices(repos, cfg, appLogger)
	gateway := realtime.NewGateway(realtime.NewHub(), services, publisher, appMetrics, cfg.Gateway, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	handlers := handler.NewHandlers(services, gateway, cfg, appLogger)

	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, appMetrics, registry, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "messenger"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	srv.RegisterOnShutdown(gateway.Close)

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := publisher.Close(); err != nil {
		appLogger.Error("Failed to flush message events", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Error("Failed to flush traces", "error", err)
	}

	appLogger.Info("Server exited")
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	appMetrics *metrics.Metrics,
	registry *prometheus.Registry,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Gateway.AllowedOrigins))
	router.Use(middleware.RequestLogger(log))
	router.Use(appMetrics.Middleware())
	router.Use(middleware.ErrorHandler(log))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	handlers.Register(
		router,
		authMiddleware.RequireAuth(),
		rateLimitMiddleware.Limit("http", cfg.Server.RateLimit, cfg.Server.RateLimitWindow),
	)

	return router
}
