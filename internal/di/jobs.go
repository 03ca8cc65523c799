// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/botstudio/internal/clientdata"
	"github.com/aristath/botstudio/internal/config"
	"github.com/aristath/botstudio/internal/modules/community"
	"github.com/aristath/botstudio/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	clientDataCleanupSchedule = "@daily"
	walCheckpointSchedule     = "@hourly"
)

// RegisterJobs creates the background jobs and schedules them. The
// scheduler is not started here.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}
	if container.Studio == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}

	container.Scheduler = scheduler.New(log)

	instances := &JobInstances{
		CommunityRefresh:  community.NewRefreshJob(container.Studio.Community),
		ClientDataCleanup: clientdata.NewCleanupJob(container.ClientDataRepo, log),
		WALCheckpoint:     scheduler.NewWALCheckpointJob(log, container.ClientDataDB),
	}

	schedules := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Workflow.CommunityRefreshSchedule, instances.CommunityRefresh},
		{clientDataCleanupSchedule, instances.ClientDataCleanup},
		{walCheckpointSchedule, instances.WALCheckpoint},
	}
	for _, s := range schedules {
		if err := container.Scheduler.AddJob(s.schedule, s.job); err != nil {
			return nil, err
		}
	}

	log.Info().Int("jobs", len(schedules)).Msg("Jobs registered")
	return instances, nil
}
