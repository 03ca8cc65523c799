package scheduler

import (
	"context"
	"time"

	"github.com/aristath/botstudio/internal/database"
	"github.com/rs/zerolog"
)

// WALCheckpointJob truncates the write-ahead log of the local databases
type WALCheckpointJob struct {
	log       zerolog.Logger
	databases []*database.DB
}

// NewWALCheckpointJob creates a checkpoint job over the given databases
func NewWALCheckpointJob(log zerolog.Logger, databases ...*database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
		databases: databases,
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints every database. Failures are logged per database; the job
// only fails when no database could be checkpointed.
func (j *WALCheckpointJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var lastErr error
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint(ctx); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			lastErr = err
			continue
		}
		checked++
	}

	if checked == 0 && lastErr != nil {
		return lastErr
	}
	j.log.Debug().Int("databases", checked).Msg("WAL checkpoints completed")
	return nil
}
