// Package main is the entry point for the strategy studio backend.
// It serves the browser-facing workflow API and drives the remote strategy
// pipeline on the user's behalf.
//
// The application follows the same layering throughout:
// - Dependency injection via DI container
// - Modules own workflow state, clients own the wire
// - HTTP handlers and event streams for the dashboard
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/botstudio/internal/config"
	"github.com/aristath/botstudio/internal/di"
	"github.com/aristath/botstudio/internal/server"
	"github.com/aristath/botstudio/pkg/logger"
)

// main is the application entry point. Startup sequence:
// 1. Loads configuration from the environment (.env supported)
// 2. Initializes logging
// 3. Wires all dependencies via the DI container
// 4. Warms the community listing cache
// 5. Starts the scheduler and the HTTP server
// 6. Waits for a shutdown signal and shuts down gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("pipeline_url", cfg.PipelineURL).
		Str("dashboard_url", cfg.DashboardAPIURL).
		Str("mode", cfg.PipelineMode).
		Msg("Starting strategy studio")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// A failed warm-up is not fatal; the listing falls back to the cache and
	// the scheduled refresh retries
	if err := container.Scheduler.RunNow(jobs.CommunityRefresh); err != nil {
		log.Warn().Err(err).Msg("Initial community refresh failed")
	}
	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Studio:      container.Studio,
		EventBus:    container.EventBus,
		Credentials: container.Gate,
		Health:      []server.HealthChecker{container.ClientDataDB},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// In-flight requests get 10 seconds; event streams are cut after that
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stops the scheduler, cancels pending auto-saves and the poll loop, closes the cache
	container.Close()

	log.Info().Msg("Server stopped")
}
