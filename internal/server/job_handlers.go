package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// JobHandlers triggers scheduler jobs on demand
type JobHandlers struct {
	jobs JobRunner
	log  zerolog.Logger
}

// NewJobHandlers creates job trigger handlers. jobs may be nil.
func NewJobHandlers(jobs JobRunner, log zerolog.Logger) *JobHandlers {
	return &JobHandlers{
		jobs: jobs,
		log:  log.With().Str("handler", "jobs").Logger(),
	}
}

// HandleListJobs handles GET /api/jobs
func (h *JobHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.jobs != nil {
		names = h.jobs.JobNames()
	}
	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{"jobs": names})
}

// HandleTriggerJob handles POST /api/jobs/{name}. The job runs in the
// background; the response only confirms it was started.
func (h *JobHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.jobs == nil || !h.registered(name) {
		writeJSON(w, h.log, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "Job not registered: " + name,
		})
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error().Interface("panic", r).Str("job", name).Msg("Manually triggered job panicked")
			}
		}()
		if err := h.jobs.RunByName(name); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Manually triggered job failed")
		}
	}()

	writeJSON(w, h.log, http.StatusAccepted, map[string]string{
		"status":  "success",
		"message": "Job triggered: " + name,
	})
}

func (h *JobHandlers) registered(name string) bool {
	for _, n := range h.jobs.JobNames() {
		if n == name {
			return true
		}
	}
	return false
}
