package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/jobs"
)

func parseJobID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.queue.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.Int64("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// interruptJob trips the interruption flag of a job running in this process.
func (s *Server) interruptJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if s.workers == nil || !s.workers.Interrupt(id) {
		writeError(w, http.StatusNotFound, "job is not running here")
		return
	}
	s.logger.Info("job interrupted", zap.Int64("job_id", id))
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "interrupted": true})
}

func (s *Server) runningJobs(w http.ResponseWriter, _ *http.Request) {
	running := []int64{}
	if s.workers != nil {
		running = append(running, s.workers.Running()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": running})
}
