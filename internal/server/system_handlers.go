package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/frontier"
	"github.com/aristath/frontier/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	resultsDB   *database.DB
	repo        *frontier.Repository
	scheduler   *scheduler.Scheduler
	workers     int
}

// NewSystemHandlers creates a new system handlers instance. Any dependency
// may be nil; the matching section is then left out of the status.
func NewSystemHandlers(
	log zerolog.Logger,
	resultsDB *database.DB,
	repo *frontier.Repository,
	sched *scheduler.Scheduler,
	workers int,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
		resultsDB:   resultsDB,
		repo:        repo,
		scheduler:   sched,
		workers:     workers,
	}
}

// CacheStatus describes the result cache
type CacheStatus struct {
	Entries  int             `json:"entries"`
	Database *database.Stats `json:"database,omitempty"`
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string                `json:"status"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryPercent float64               `json:"memory_percent"`
	LogicalCPUs   int                   `json:"logical_cpus"`
	Goroutines    int                   `json:"goroutines"`
	Workers       int                   `json:"workers"`
	Cache         *CacheStatus          `json:"cache,omitempty"`
	Jobs          []scheduler.JobStatus `json:"jobs,omitempty"`
	LastUpdated   string                `json:"last_updated"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()

	logical, err := cpu.Counts(true)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count logical CPUs")
		logical = runtime.NumCPU()
	}

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		LogicalCPUs:   logical,
		Goroutines:    runtime.NumGoroutine(),
		Workers:       h.workers,
		LastUpdated:   time.Now().Format(time.RFC3339),
	}

	if h.repo != nil {
		cache := &CacheStatus{}
		if n, err := h.repo.Count(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to count cached results")
			response.Status = "degraded"
		} else {
			cache.Entries = n
		}
		if h.resultsDB != nil {
			if stats, err := h.resultsDB.GetStats(); err != nil {
				h.log.Warn().Err(err).Msg("Failed to get result cache stats")
			} else {
				cache.Database = stats
			}
		}
		response.Cache = cache
	}

	if h.scheduler != nil {
		response.Jobs = h.scheduler.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}

// getSystemStats calculates CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
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
