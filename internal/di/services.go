// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/botstudio/internal/artifacts"
	"github.com/aristath/botstudio/internal/auth"
	"github.com/aristath/botstudio/internal/clients/dashboard"
	"github.com/aristath/botstudio/internal/clients/pipeline"
	"github.com/aristath/botstudio/internal/clients/transport"
	"github.com/aristath/botstudio/internal/config"
	"github.com/aristath/botstudio/internal/events"
	"github.com/aristath/botstudio/internal/modules/studio"
	"github.com/rs/zerolog"
)

// Refinement answers synchronously, so pipeline calls get a longer bound
// than the dashboard. Status polls carry their own shorter deadline.
const pipelineRequestTimeout = 5 * time.Minute

// InitializeServices creates the clients, the studio and the optional
// artifact exporter
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Clients share one gate so an expiry seen by either disables both
	container.Gate = auth.NewTokenGate(cfg.APIToken, log)
	if cfg.APIToken == "" {
		log.Warn().Msg("No API token configured, authenticated actions will be rejected")
	}

	container.PipelineClient = pipeline.NewClient(cfg.PipelineURL, transport.Options{
		Timeout:   pipelineRequestTimeout,
		RateLimit: cfg.Workflow.RequestRateLimit,
		Gate:      container.Gate,
	}, log)
	container.DashboardClient = dashboard.NewClient(cfg.DashboardAPIURL, transport.Options{
		RateLimit: cfg.Workflow.RequestRateLimit,
		Gate:      container.Gate,
	}, log)

	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)

	// The dashboard prompts for a new token on this event and posts it to
	// /api/auth/token
	container.Gate.OnExpired(func() {
		container.EventManager.EmitTyped("auth", &events.CredentialsRequiredData{})
	})

	container.Studio = studio.New(studio.Deps{
		Pipeline:  container.PipelineClient,
		Dashboard: container.DashboardClient,
		Gate:      container.Gate,
		Cache:     container.ClientDataRepo,
		Events:    container.EventManager,
	}, studio.Options{
		PollInterval:  cfg.Workflow.PollInterval,
		PollTimeout:   cfg.Workflow.PollTimeout,
		AutoSaveDelay: cfg.Workflow.AutoSaveDelay,
		Mode:          cfg.PipelineMode,
	}, log)

	if cfg.Artifacts.Enabled() {
		exporter, err := artifacts.New(context.Background(), cfg.Artifacts, log)
		if err != nil {
			return fmt.Errorf("failed to initialize artifact exporter: %w", err)
		}
		container.Exporter = exporter
		container.Studio.Persistence.OnSaved(exporter.Export)
		log.Info().Str("bucket", cfg.Artifacts.Bucket).Msg("Artifact export enabled")
	}

	log.Info().Msg("Services initialized")
	return nil
}
