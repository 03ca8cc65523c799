/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to the studio.
 */
package di

import (
	"github.com/aristath/botstudio/internal/artifacts"
	"github.com/aristath/botstudio/internal/auth"
	"github.com/aristath/botstudio/internal/clientdata"
	"github.com/aristath/botstudio/internal/clients/dashboard"
	"github.com/aristath/botstudio/internal/clients/pipeline"
	"github.com/aristath/botstudio/internal/database"
	"github.com/aristath/botstudio/internal/events"
	"github.com/aristath/botstudio/internal/modules/community"
	"github.com/aristath/botstudio/internal/modules/studio"
	"github.com/aristath/botstudio/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: a single client_data cache (community listing)
 * - Clients: pipeline and dashboard HTTP clients sharing one token gate
 * - Studio: clarification, workflow, refinement, persistence and community
 * - Scheduler: cron jobs for cache refresh and maintenance
 */
type Container struct {
	// Databases
	ClientDataDB   *database.DB // Cache for remote listings, safe to delete
	ClientDataRepo *clientdata.Repository

	// Clients - remote services
	Gate            *auth.TokenGate   // Shared credential, disabled on expiry
	PipelineClient  *pipeline.Client  // Clarify, sessions, status polling, refine
	DashboardClient *dashboard.Client // Bots and community listing

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Studio owns all workflow state
	Studio *studio.Studio

	// Exporter is nil unless an artifact bucket is configured
	Exporter *artifacts.Exporter

	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered background jobs so callers can trigger
// them outside their schedule
type JobInstances struct {
	CommunityRefresh  *community.RefreshJob
	ClientDataCleanup *clientdata.CleanupJob
	WALCheckpoint     *scheduler.WALCheckpointJob
}
