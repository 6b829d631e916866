package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/dropwatch/internal/descriptor"
	"github.com/mattjoyce/dropwatch/internal/joblog"
	"github.com/mattjoyce/dropwatch/internal/trigger"
)

const maxTriggerBody = 64 << 10

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		EventSubscribers: s.events.Subscribers(),
	}
	code := http.StatusOK
	if s.status != nil {
		st := s.status.Status()
		resp.Running = st.Running
		resp.AwaitingCompletion = st.AwaitingCompletion
		resp.CurrentJob = st.CurrentJob
		resp.CurrentSince = st.CurrentSince
		resp.GateWaiters = st.GateWaiters
		if !st.Running {
			resp.Status = "stopped"
			code = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, code, resp)
}

// handleTrigger handles POST /trigger/{job}.
// The descriptor is written into the input directory exactly as an external
// tool would drop it, so it flows through the normal watcher path.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.config.InputDir == "" {
		s.writeError(w, http.StatusServiceUnavailable, "input directory not configured")
		return
	}

	var req TriggerRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	d := descriptor.Descriptor{JobName: chi.URLParam(r, "job"), Args: req.Args}
	trig, err := s.dropper.Drop(d)
	switch {
	case errors.Is(err, descriptor.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, trigger.ErrPatternMismatch):
		s.logger.Error("generated descriptor name does not match input pattern", "pattern", s.config.InputPattern, "error", err)
		s.writeError(w, http.StatusInternalServerError, "input pattern cannot be satisfied")
		return
	case err != nil:
		s.logger.Error("failed to write descriptor", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to write descriptor")
		return
	}
	id := trig.ID

	s.logger.Info("descriptor dropped via API",
		"job_id", id.String(),
		"job_name", d.JobName,
		"path", trig.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)

	respondJSON(w, http.StatusAccepted, TriggerResponse{
		JobID:      id.String(),
		JobName:    d.JobName,
		Descriptor: d.String(),
		Path:       trig.Path,
		Marker:     trigger.MarkerName(id, s.config.MarkerSuffix),
	})
}

// handleGetJob handles GET /job/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "job history not available")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := s.history.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, joblog.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to get job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	entries, err := s.history.Log(r.Context(), jobID)
	if err != nil {
		s.logger.Error("failed to get job log", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job log")
		return
	}

	respondJSON(w, http.StatusOK, JobResponse{Job: job, Log: entries})
}

// handleListJobs handles GET /jobs?limit=N.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "job history not available")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*joblog.Job{}
	}

	respondJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
