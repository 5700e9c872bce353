package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunPruner deletes runs older than a cutoff.
type RunPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneRunsJob deletes optimization runs past their retention.
type PruneRunsJob struct {
	runs      RunPruner
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewPruneRunsJob creates a new PruneRunsJob keeping retentionDays of runs.
func NewPruneRunsJob(runs RunPruner, retentionDays int, log zerolog.Logger) *PruneRunsJob {
	return &PruneRunsJob{
		runs:      runs,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		log:       log.With().Str("job", "prune_runs").Logger(),
	}
}

// Name returns the job name
func (j *PruneRunsJob) Name() string {
	return "prune_runs"
}

// Run executes the prune job
func (j *PruneRunsJob) Run() error {
	if j.retention <= 0 {
		return nil
	}

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.runs.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		return err
	}

	j.log.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Old optimization runs pruned")
	return nil
}
