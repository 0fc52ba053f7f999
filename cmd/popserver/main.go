package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kioskly/popserver/internal/config"
	"github.com/kioskly/popserver/internal/database"
	"github.com/kioskly/popserver/internal/geo"
	"github.com/kioskly/popserver/internal/httpserver"
	"github.com/kioskly/popserver/internal/metrics"
	"github.com/kioskly/popserver/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting popserver",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx := context.Background()

	// Try to connect to PostgreSQL. Without it the service degrades to the
	// in-memory store, which is enough for local development.
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		logger.Info("connected to PostgreSQL")
	}

	// Try to connect to Redis
	redis, err := database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, rollup mirroring disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
		logger.Info("connected to Redis")
	}

	// GeoIP for import batch auditing
	var geoProvider geo.Provider
	if cfg.Geo.Enabled {
		provider, err := geo.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("GeoIP database not available, batch geo tagging disabled", zap.Error(err))
		} else {
			defer provider.Close()
			geoProvider = provider
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("popserver")
	}

	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)

	// Create HTTP server
	deps := &httpserver.Dependencies{
		DB:        db,
		Redis:     redis,
		Geo:       geoProvider,
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		RateLimit: rateLimitMW,
	}

	handler := httpserver.NewServer(deps)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodically push DB pool stats into Prometheus.
	if db != nil && m != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				stats := db.Stats()
				m.UpdateDBStats(int(stats.IdleConns()), int(stats.AcquiredConns()), int(stats.TotalConns()))
			}
		}()
	}

	// Start rate limiter cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			rateLimitMW.CleanupIPLimiters()
		}
	}()

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
