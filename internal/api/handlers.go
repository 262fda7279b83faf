package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/fingerprint"
	"github.com/mattjoyce/convoy/internal/history"
	"github.com/mattjoyce/convoy/internal/job"
)

const maxSubmitBody = 1 << 20

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Stats != nil {
		st := s.deps.Stats.Stats()
		resp.Running = st.Running
		resp.Queued = st.Queued
		resp.Pending = st.Pending
		if st.Closed {
			resp.Status = "closing"
		}
	}
	if s.deps.Converters != nil {
		resp.ConvertersCount = len(s.deps.Converters.Describe())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /jobs. The request blocks until the job reaches a
// terminal state; conversion failures are 200 responses carrying the result.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	j, err := s.buildJob(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case s.syncSemaphore <- struct{}{}:
		defer func() { <-s.syncSemaphore }()
	default:
		s.logger.Warn("too many concurrent synchronous requests", "job_id", j.ID)
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent synchronous requests, please try again later")
		return
	}

	res, err := s.deps.Submitter.Submit(r.Context(), j)
	if err != nil {
		status := submitErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("job submission failed", "job_id", j.ID, "error", err)
		}
		s.writeError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newJobResponse(j.ID, res))
}

func (s *Server) buildJob(req SubmitRequest) (*job.Job, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, errors.New("input_path is required")
	}
	if strings.TrimSpace(req.TargetFormat) == "" {
		return nil, errors.New("target_format is required")
	}

	j := job.New(req.InputPath, req.TargetFormat)
	j.Priority = req.Priority
	for k, v := range req.Options {
		if strings.HasPrefix(k, "_") {
			return nil, fmt.Errorf("option %q uses a reserved prefix", k)
		}
		j.Options[k] = v
	}

	if s.config.DefaultTimeout > 0 {
		j.Timeout = s.config.DefaultTimeout
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("timeout %q must be a positive duration", req.Timeout)
		}
		j.Timeout = d
	}
	if ceiling := s.config.MaxSyncTimeout; ceiling > 0 && (j.Timeout == 0 || j.Timeout > ceiling) {
		j.Timeout = ceiling
	}
	return j, nil
}

func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrRejected):
		return http.StatusServiceUnavailable
	case errors.Is(err, fingerprint.ErrUnreadable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusNotFound, "job history is disabled")
		return
	}

	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list job history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := JobListResponse{Jobs: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Jobs = append(resp.Jobs, newHistoryEntry(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusNotFound, "job history is disabled")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	e, err := s.deps.History.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to retrieve job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}
	respondJSON(w, http.StatusOK, newHistoryEntry(e))
}

// handleListConverters handles GET /converters.
func (s *Server) handleListConverters(w http.ResponseWriter, r *http.Request) {
	resp := ConverterListResponse{}
	if s.deps.Converters != nil {
		resp.Converters = s.deps.Converters.Describe()
	}
	respondJSON(w, http.StatusOK, resp)
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
