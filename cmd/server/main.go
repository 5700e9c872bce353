// Package main is the entry point for the mbbfolio portfolio optimization
// service. It simulates asset prices with a moving block bootstrap, optimizes
// Sharpe-maximizing long-only weights and serves the results over HTTP.
//
// Startup sequence:
//  1. Load configuration from the environment (.env supported)
//  2. Open and migrate history.db and runs.db
//  3. Build the event bus, metrics registry and pipeline service
//  4. Register scheduled jobs (optimization, backups, maintenance)
//  5. Serve HTTP until SIGINT/SIGTERM, then shut down gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/mbbfolio/internal/config"
	"github.com/aristath/mbbfolio/internal/database"
	"github.com/aristath/mbbfolio/internal/events"
	"github.com/aristath/mbbfolio/internal/modules/history"
	optimizationhandlers "github.com/aristath/mbbfolio/internal/modules/optimization/handlers"
	"github.com/aristath/mbbfolio/internal/modules/pipeline"
	"github.com/aristath/mbbfolio/internal/modules/runs"
	"github.com/aristath/mbbfolio/internal/reliability"
	"github.com/aristath/mbbfolio/internal/scheduler"
	"github.com/aristath/mbbfolio/internal/server"
	"github.com/aristath/mbbfolio/pkg/logger"
)

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

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting mbbfolio")

	// Price history is rebuildable from upstream data; runs are not
	historyDB := openDatabase(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
		Driver:  cfg.HistoryDriver,
	})
	defer historyDB.Close()

	runsDB := openDatabase(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "runs.db"),
		Profile: database.ProfileDurable,
		Name:    "runs",
	})
	defer runsDB.Close()

	bus := events.NewBus(log)
	eventManager := events.NewManager(bus, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	historyStore := history.NewHistoryDB(historyDB.Conn(), log)
	runRepo := runs.NewRepository(runsDB.Conn(), log)
	pipelineService := pipeline.NewService(historyStore, runRepo, eventManager, pipeline.NewMetrics(registry), log)

	sched := scheduler.New(log)
	registerJobs(log, cfg, sched, jobDeps{
		pipeline:  pipelineService,
		history:   historyStore,
		runs:      runRepo,
		events:    eventManager,
		databases: []*database.DB{historyDB, runsDB},
	})
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		EventBus:  bus,
		Modules:   []server.RouteRegistrar{optimizationhandlers.NewHandler(pipelineService, runRepo, cfg.Defaults, log)},
		Databases: []*database.DB{historyDB, runsDB},
		Gatherer:  registry,
		Jobs:      sched,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	for _, db := range []*database.DB{historyDB, runsDB} {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Str("database", db.Name()).Msg("Final WAL checkpoint failed")
		}
	}

	log.Info().Msg("Server stopped")
}

func openDatabase(log zerolog.Logger, cfg database.Config) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to migrate database")
	}
	log.Info().
		Str("database", cfg.Name).
		Str("driver", db.Driver()).
		Str("path", db.Path()).
		Msg("Database ready")
	return db
}

type scheduledJob struct {
	schedule string
	job      scheduler.Job
}

type jobDeps struct {
	pipeline  *pipeline.Service
	history   *history.HistoryDB
	runs      *runs.Repository
	events    *events.Manager
	databases []*database.DB
}

// registerJobs adds every background job. The backup job is only registered
// when R2 credentials are configured.
func registerJobs(log zerolog.Logger, cfg *config.Config, sched *scheduler.Scheduler, deps jobDeps) {
	jobs := []scheduledJob{
		{cfg.Schedule.Optimize, scheduler.NewOptimizeJob(deps.pipeline, deps.history, cfg.Schedule.OptimizeSymbols, cfg.Defaults, log)},
		{cfg.Schedule.PruneRuns, scheduler.NewPruneRunsJob(deps.runs, cfg.Schedule.RunRetentionDays, log)},
		{cfg.Schedule.WALCheck, scheduler.NewCheckWALCheckpointsJob(log, deps.databases...)},
		{cfg.Schedule.Maintenance, reliability.NewMaintenanceJob(cfg.DataDir, log, deps.databases...)},
	}

	if cfg.R2.Configured() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		r2Client, err := reliability.NewR2Client(ctx, cfg.R2, log)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("Failed to create R2 client, backups disabled")
		} else {
			snapshotters := make([]reliability.Snapshotter, 0, len(deps.databases))
			for _, db := range deps.databases {
				snapshotters = append(snapshotters, db)
			}
			backupService := reliability.NewBackupService(r2Client, snapshotters, cfg.DataDir, deps.events, log)
			jobs = append(jobs, scheduledJob{cfg.Schedule.Backup, scheduler.NewBackupJob(backupService, cfg.Schedule.BackupRetentionDays, log)})
		}
	} else {
		log.Info().Msg("R2 not configured, backups disabled")
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
		log.Info().Str("job", j.job.Name()).Str("schedule", j.schedule).Msg("Job registered")
	}
}
