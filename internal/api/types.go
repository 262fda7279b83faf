package api

import (
	"time"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/history"
	"github.com/mattjoyce/convoy/internal/job"
)

// SubmitRequest is the JSON body for POST /jobs. Timeout is a Go duration
// string such as "90s".
type SubmitRequest struct {
	InputPath    string         `json:"input_path"`
	TargetFormat string         `json:"target_format"`
	Options      map[string]any `json:"options,omitempty"`
	Timeout      string         `json:"timeout,omitempty"`
	Priority     int            `json:"priority,omitempty"`
}

// JobResponse is returned by POST /jobs.
type JobResponse struct {
	JobID        string     `json:"job_id"`
	Status       job.Status `json:"status"`
	Success      bool       `json:"success"`
	OutputPaths  []string   `json:"output_paths,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	LogPath      string     `json:"log_path,omitempty"`
}

func newJobResponse(jobID string, res job.Result) JobResponse {
	status := job.StatusFailed
	if res.Success {
		status = job.StatusSucceeded
	}
	return JobResponse{
		JobID:        jobID,
		Status:       status,
		Success:      res.Success,
		OutputPaths:  res.OutputPaths,
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
		DurationMS:   res.Duration.Milliseconds(),
		LogPath:      res.LogPath,
	}
}

// HistoryEntry is one record of GET /jobs and GET /jobs/{jobID}.
type HistoryEntry struct {
	JobID        string         `json:"job_id"`
	InputPath    string         `json:"input_path"`
	TargetFormat string         `json:"target_format"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
	Priority     int            `json:"priority"`
	Status       job.Status     `json:"status"`
	OutputPaths  []string       `json:"output_paths,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	LogPath      string         `json:"log_path,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

func newHistoryEntry(e history.Entry) HistoryEntry {
	return HistoryEntry{
		JobID:        e.JobID,
		InputPath:    e.InputPath,
		TargetFormat: e.TargetFormat,
		Fingerprint:  e.Fingerprint,
		Options:      e.Options,
		Priority:     e.Priority,
		Status:       e.Status,
		OutputPaths:  e.OutputPaths,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		DurationMS:   e.Duration.Milliseconds(),
		LogPath:      e.LogPath,
		CreatedAt:    e.CreatedAt,
		FinishedAt:   e.FinishedAt,
	}
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []HistoryEntry `json:"jobs"`
}

// ConverterListResponse is returned by GET /converters.
type ConverterListResponse struct {
	Converters []converter.Info `json:"converters"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Running         int64  `json:"running"`
	Queued          int    `json:"queued"`
	Pending         int64  `json:"pending"`
	ConvertersCount int    `json:"converters_loaded"`
}
