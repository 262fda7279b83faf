// Package protocol defines the JSON envelopes exchanged with subprocess
// converters: one Request on stdin, one Response on stdout.
package protocol

import "time"

// Version is the only protocol version this build speaks.
const Version = 1

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is the conversion request written to the converter's stdin.
type Request struct {
	Protocol     int            `json:"protocol"`
	JobID        string         `json:"job_id"`
	InputPath    string         `json:"input_path"`
	TargetFormat string         `json:"target_format"`
	OutputPaths  []string       `json:"output_paths"`
	Options      map[string]any `json:"options,omitempty"`
	WorkspaceDir string         `json:"workspace_dir,omitempty"`
	DeadlineAt   time.Time      `json:"deadline_at,omitzero"`
}

// Response is the result read from the converter's stdout.
type Response struct {
	Status      string     `json:"status"` // ok | error
	OutputPaths []string   `json:"output_paths,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	Logs        []LogEntry `json:"logs,omitempty"`
}

// LogEntry is a log line reported by the converter.
type LogEntry struct {
	Level   string `json:"level"` // debug | info | warn | error
	Message string `json:"message"`
}
