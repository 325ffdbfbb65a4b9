package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/membergen/internal/config"
	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/JonMunkholm/membergen/internal/fabricator"
	"github.com/JonMunkholm/membergen/internal/geo"
	"github.com/JonMunkholm/membergen/internal/logging"
	"github.com/JonMunkholm/membergen/internal/metrics"
	"github.com/JonMunkholm/membergen/internal/store"
	"github.com/JonMunkholm/membergen/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded", "config", cfg.String())

	// Connect to database and bring the schema up to date
	ctx := context.Background()
	db, err := store.Open(ctx, store.Options{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Location(),
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare database schema", "error", err)
		os.Exit(1)
	}

	fab, err := fabricator.New(fabricator.Config{
		Host:    cfg.Fabricator.Host,
		Model:   cfg.Fabricator.Model,
		Timeout: cfg.Fabricator.Timeout,
	})
	if err != nil {
		slog.Error("failed to create fabricator", "error", err)
		os.Exit(1)
	}

	addresses := geo.New(geo.Config{
		NominatimURL: cfg.Geo.NominatimURL,
		OverpassURL:  cfg.Geo.OverpassURL,
		UserAgent:    cfg.Geo.UserAgent,
		Timeout:      cfg.Geo.Timeout,
	})

	m := metrics.New()

	service, err := core.NewService(core.ServiceDeps{
		Members:    db.Members(),
		Fields:     db.Fields(),
		Addresses:  addresses,
		Fabricator: fab,
		Limiter:    core.NewGenerationLimiter(cfg.Generation.MaxConcurrent, cfg.Generation.MaxWaitTime),
		Observer:   m,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	slog.Info("member generator ready",
		"model", fab.Model(),
		"max_concurrent_generations", cfg.Generation.MaxConcurrent,
	)

	server := web.NewServer(service, db, m, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then let running batches finish storing
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		limiter := service.Limiter()
		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for generations to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("generations did not complete in time", "error", err)
			} else {
				slog.Info("all generations completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
