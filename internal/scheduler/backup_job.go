package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackupRunner creates and rotates backups.
type BackupRunner interface {
	CreateAndUploadBackup(ctx context.Context) error
	RotateOldBackups(ctx context.Context, retentionDays int) error
}

// BackupJob uploads a database backup and prunes old ones.
type BackupJob struct {
	backup        BackupRunner
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewBackupJob creates a new BackupJob. retentionDays <= 0 disables rotation.
func NewBackupJob(backup BackupRunner, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:        backup,
		retentionDays: retentionDays,
		timeout:       10 * time.Minute,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup job. A failed rotation is logged and does not fail
// a successful upload.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.backup.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	if j.retentionDays > 0 {
		if err := j.backup.RotateOldBackups(ctx, j.retentionDays); err != nil {
			j.log.Warn().Err(err).Msg("Backup rotation failed")
		}
	}
	return nil
}
