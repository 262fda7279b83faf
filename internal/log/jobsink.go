package log

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// JobSink is a logger bound to a dedicated per-job log file.
type JobSink struct {
	Logger *slog.Logger
	Path   string
	file   *os.File
}

// Close releases the underlying file. Safe on a nil sink.
func (s *JobSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// JobLogFactory creates job-scoped log files under a directory.
type JobLogFactory struct {
	dir   string
	level slog.Level
}

// NewJobLogFactory returns a factory writing job-<id>.log files into dir.
func NewJobLogFactory(dir string) (*JobLogFactory, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("job log directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job log directory: %w", err)
	}
	return &JobLogFactory{dir: filepath.Clean(dir), level: slog.LevelDebug}, nil
}

// Dir returns the directory job logs are written to.
func (f *JobLogFactory) Dir() string { return f.dir }

// Create opens (append mode) the log file for jobID.
func (f *JobLogFactory) Create(jobID string) (*JobSink, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "..") {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}

	path := filepath.Join(f.dir, "job-"+jobID+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: f.level})
	return &JobSink{
		Logger: slog.New(handler).With(slog.String("job_id", jobID)),
		Path:   path,
		file:   file,
	}, nil
}
