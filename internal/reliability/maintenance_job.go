package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/mbbfolio/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// criticalFreeBytes halts maintenance with an error.
	criticalFreeBytes = 500 * 1000 * 1000
	// lowFreeBytes only logs a warning.
	lowFreeBytes = 5 * 1000 * 1000 * 1000
)

// DiskUsageFunc reports free bytes on the filesystem holding path.
type DiskUsageFunc func(ctx context.Context, path string) (uint64, error)

// MaintenanceJob checks database integrity, truncates WAL files, reclaims
// free pages and watches disk space in the data directory.
type MaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	diskFree  DiskUsageFunc
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(dataDir string, log zerolog.Logger, databases ...*database.DB) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		diskFree:  gopsutilDiskFree,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Str("database", db.Name()).
				Err(err).
				Msg("CRITICAL: Database health check failed")
			return fmt.Errorf("health check of %s: %w", db.Name(), err)
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Str("database", db.Name()).Err(err).Msg("WAL checkpoint failed")
		}

		j.vacuumIfFragmented(ctx, db)
	}

	if err := j.checkDiskSpace(ctx); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

// vacuumIfFragmented runs VACUUM once more than a tenth of the pages are free.
func (j *MaintenanceJob) vacuumIfFragmented(ctx context.Context, db *database.DB) {
	stats, err := db.GetStats()
	if err != nil {
		j.log.Warn().Str("database", db.Name()).Err(err).Msg("Failed to get database stats")
		return
	}
	if stats.PageCount == 0 || stats.FreelistCount*10 < stats.PageCount {
		return
	}

	if _, err := db.Conn().ExecContext(ctx, "VACUUM"); err != nil {
		j.log.Warn().Str("database", db.Name()).Err(err).Msg("VACUUM failed")
		return
	}
	j.log.Info().
		Str("database", db.Name()).
		Int64("freed_pages", stats.FreelistCount).
		Msg("Database vacuumed")
}

func (j *MaintenanceJob) checkDiskSpace(ctx context.Context) error {
	free, err := j.diskFree(ctx, j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if free < criticalFreeBytes {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	}
	if free < lowFreeBytes {
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}
	return nil
}

func gopsutilDiskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
