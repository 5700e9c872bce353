// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aristath/mbbfolio/internal/database"
	"github.com/aristath/mbbfolio/internal/domain"
	"github.com/aristath/mbbfolio/internal/reliability"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for all databases, always absolute
	HistoryDriver string // database/sql driver for history.db
	LogLevel      string
	Port          int
	DevMode       bool

	// Pipeline defaults applied to every run a request or job leaves unset
	Defaults domain.RunParams

	Schedule ScheduleConfig
	R2       reliability.R2Config
}

// ScheduleConfig holds cron expressions (with seconds) for background jobs.
// An empty expression registers the job for manual triggering only.
type ScheduleConfig struct {
	Optimize            string
	OptimizeSymbols     []string // empty optimizes every symbol with history
	Backup              string
	BackupRetentionDays int
	Maintenance         string
	PruneRuns           string
	RunRetentionDays    int
	WALCheck            string
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory if one exists
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("MBB_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		HistoryDriver: getEnv("MBB_HISTORY_DRIVER", database.DriverModernc),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("GO_PORT", 8001),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		Defaults: domain.RunParams{
			NBootstrap:      getEnvAsInt("MBB_N_BOOTSTRAP", 1000),
			SampleSize:      getEnvAsInt("MBB_SAMPLE_SIZE", 63),
			BlockSize:       getEnvAsInt("MBB_BLOCK_SIZE", 0),
			BlockSizeMethod: getEnv("MBB_BLOCK_SIZE_METHOD", ""),
			Iterations:      getEnvAsInt("MBB_ITERATIONS", 5000),
			Seed:            int64(getEnvAsInt("MBB_SEED", 1987)),
			RiskFreeRate:    getEnvAsFloat("MBB_RISK_FREE_RATE", 0),
			MaxIterations:   getEnvAsInt("MBB_MAX_ITERATIONS", 100),
			Tolerance:       getEnvAsFloat("MBB_TOLERANCE", 1e-6),
			PortfolioSize:   getEnvAsInt("MBB_PORTFOLIO_SIZE", 0),
			LookbackDays:    getEnvAsInt("MBB_LOOKBACK_DAYS", 252),
		},
		Schedule: ScheduleConfig{
			Optimize:            getEnv("OPTIMIZE_SCHEDULE", "0 0 22 * * 1-5"),
			OptimizeSymbols:     getEnvAsList("OPTIMIZE_SYMBOLS", nil),
			Backup:              getEnv("BACKUP_SCHEDULE", "0 0 2 * * *"),
			BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
			Maintenance:         getEnv("MAINTENANCE_SCHEDULE", "0 0 3 * * *"),
			PruneRuns:           getEnv("PRUNE_RUNS_SCHEDULE", "0 30 3 * * *"),
			RunRetentionDays:    getEnvAsInt("RUN_RETENTION_DAYS", 180),
			WALCheck:            getEnv("WAL_CHECK_SCHEDULE", "0 */30 * * * *"),
		},
		R2: reliability.R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("R2_BUCKET", ""),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the port, the history driver and the pipeline defaults
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT %d", c.Port)
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline defaults: %w", err)
	}
	if c.HistoryDriver != database.DriverModernc && c.HistoryDriver != database.DriverCGO {
		return fmt.Errorf("invalid MBB_HISTORY_DRIVER %q", c.HistoryDriver)
	}
	if c.Defaults.LookbackDays < 1 {
		return fmt.Errorf("invalid pipeline defaults: lookback_days must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blank entries
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
