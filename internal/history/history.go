// Package history persists terminal job outcomes to SQLite for the job list
// views of the CLI and API.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/convoy/internal/job"
)

// DefaultLimit bounds List when no limit is given.
const DefaultLimit = 50

// ErrNotFound is returned by Get for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Entry is one finished job.
type Entry struct {
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
	Duration     time.Duration  `json:"duration"`
	LogPath      string         `json:"log_path,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// NewEntry captures a job and its result.
func NewEntry(j *job.Job, res job.Result, finishedAt time.Time) Entry {
	status := job.StatusFailed
	if res.Success {
		status = job.StatusSucceeded
	}
	return Entry{
		JobID:        j.ID,
		InputPath:    j.InputPath,
		TargetFormat: j.TargetFormat,
		Fingerprint:  j.Fingerprint,
		Options:      j.UserOptions(),
		Priority:     j.Priority,
		Status:       status,
		OutputPaths:  res.OutputPaths,
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
		Duration:     res.Duration,
		LogPath:      res.LogPath,
		CreatedAt:    j.CreatedAt,
		FinishedAt:   finishedAt.UTC(),
	}
}

// Store reads and writes the job_history table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record upserts e.
func (s *Store) Record(ctx context.Context, e Entry) error {
	opts, err := json.Marshal(e.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	outputs, err := json.Marshal(e.OutputPaths)
	if err != nil {
		return fmt.Errorf("marshal output paths: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO job_history(id, input_path, target_format, fingerprint, options, priority, status,
  output_paths, error_code, error_message, duration_ms, log_path, created_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  output_paths = excluded.output_paths,
  error_code = excluded.error_code,
  error_message = excluded.error_message,
  duration_ms = excluded.duration_ms,
  log_path = excluded.log_path,
  finished_at = excluded.finished_at;`,
		e.JobID, e.InputPath, e.TargetFormat, e.Fingerprint, string(opts), e.Priority, string(e.Status),
		string(outputs), e.ErrorCode, e.ErrorMessage, e.Duration.Milliseconds(), e.LogPath,
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", e.JobID, err)
	}
	return nil
}

const selectColumns = `SELECT id, input_path, target_format, fingerprint, options, priority, status,
  output_paths, error_code, error_message, duration_ms, log_path, created_at, finished_at
FROM job_history`

// List returns the most recently finished jobs first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY finished_at DESC, id LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Get returns the entry for jobID or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, jobID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                    Entry
		fingerprint, logPath sql.NullString
		errCode, errMsg      sql.NullString
		opts, outputs        sql.NullString
		status               string
		durationMS           int64
		created, finished    string
	)
	if err := sc.Scan(&e.JobID, &e.InputPath, &e.TargetFormat, &fingerprint, &opts, &e.Priority, &status,
		&outputs, &errCode, &errMsg, &durationMS, &logPath, &created, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan history row: %w", err)
	}

	e.Fingerprint = fingerprint.String
	e.Status = job.Status(status)
	e.ErrorCode = errCode.String
	e.ErrorMessage = errMsg.String
	e.LogPath = logPath.String
	e.Duration = time.Duration(durationMS) * time.Millisecond

	if opts.Valid && opts.String != "" && opts.String != "null" {
		if err := json.Unmarshal([]byte(opts.String), &e.Options); err != nil {
			return Entry{}, fmt.Errorf("decode options for %s: %w", e.JobID, err)
		}
	}
	if outputs.Valid && outputs.String != "" && outputs.String != "null" {
		if err := json.Unmarshal([]byte(outputs.String), &e.OutputPaths); err != nil {
			return Entry{}, fmt.Errorf("decode output paths for %s: %w", e.JobID, err)
		}
	}

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Entry{}, fmt.Errorf("parse created_at for %s: %w", e.JobID, err)
	}
	if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Entry{}, fmt.Errorf("parse finished_at for %s: %w", e.JobID, err)
	}
	return e, nil
}

// Submitter runs a job to completion.
type Submitter interface {
	Submit(ctx context.Context, j *job.Job) (job.Result, error)
}

// Recorder is a Submitter that stores every Result it sees.
type Recorder struct {
	next   Submitter
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder wraps next so results land in store.
func NewRecorder(next Submitter, store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{next: next, store: store, logger: logger, now: time.Now}
}

// Submit delegates to the wrapped submitter and records the Result. Storage
// failures are logged, never returned.
func (r *Recorder) Submit(ctx context.Context, j *job.Job) (job.Result, error) {
	res, err := r.next.Submit(ctx, j)
	if err != nil {
		return res, err
	}
	if recErr := r.store.Record(context.WithoutCancel(ctx), NewEntry(j, res, r.now())); recErr != nil {
		r.logger.Warn("failed to record job history", "job_id", j.ID, "error", recErr)
	}
	return res, nil
}
