package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/mbbfolio/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DBInfo describes one database in status responses
type DBInfo struct {
	Name          string  `json:"name"`
	Driver        string  `json:"driver"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistCount int64   `json:"freelist_count"`
	Error         string  `json:"error,omitempty"`
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	DiskFreeGB    float64  `json:"disk_free_gb"`
	Goroutines    int      `json:"goroutines"`
	Databases     []DBInfo `json:"databases"`
	Jobs          []string `json:"jobs"`
}

// SystemHandlers serves health, status and database statistics
type SystemHandlers struct {
	dataDir   string
	databases []*database.DB
	jobs      JobRunner
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(dataDir string, databases []*database.DB, jobs JobRunner, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		dataDir:   dataDir,
		databases: databases,
		jobs:      jobs,
		startedAt: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleHealth handles GET /health. It answers 503 when a database cannot be
// reached.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	for _, db := range h.databases {
		if err := db.Conn().PingContext(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Health check ping failed")
			writeJSON(w, h.log, http.StatusServiceUnavailable, map[string]string{
				"status":   "unhealthy",
				"database": db.Name(),
				"error":    err.Error(),
			})
			return
		}
	}

	writeJSON(w, h.log, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DiskFreeGB:    h.getDiskFreeGB(),
		Goroutines:    runtime.NumGoroutine(),
		Databases:     h.collectDatabaseInfo(),
		Jobs:          []string{},
	}
	if h.jobs != nil {
		response.Jobs = h.jobs.JobNames()
	}
	for _, db := range response.Databases {
		if db.Error != "" {
			response.Status = "degraded"
		}
	}

	writeJSON(w, h.log, http.StatusOK, response)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	infos := h.collectDatabaseInfo()
	totalSizeMB := 0.0
	for _, info := range infos {
		totalSizeMB += info.SizeMB + info.WALSizeMB
	}

	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"databases":     infos,
		"total_size_mb": totalSizeMB,
	})
}

func (h *SystemHandlers) collectDatabaseInfo() []DBInfo {
	infos := make([]DBInfo, 0, len(h.databases))
	for _, db := range h.databases {
		info := DBInfo{Name: db.Name(), Driver: db.Driver(), Path: db.Path()}
		stats, err := db.GetStats()
		if err != nil {
			info.Error = err.Error()
		} else {
			info.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			info.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
			info.PageCount = stats.PageCount
			info.FreelistCount = stats.FreelistCount
		}
		infos = append(infos, info)
	}
	return infos
}

// getSystemStats returns CPU and RAM usage percentages, sampling CPU over 100ms
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) getDiskFreeGB() float64 {
	if h.dataDir == "" {
		return 0
	}
	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
		return 0
	}
	return float64(usage.Free) / 1e9
}
