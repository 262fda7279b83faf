// Package job defines the conversion job and result data model shared by the
// dispatcher, converters and the outer surfaces (CLI, API, watcher).
package job

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s ends a job's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// OptionOutputPaths is the reserved option key carrying the dispatcher-resolved
// output paths ([]string) into the converter. Keys starting with "_" are
// reserved for the dispatcher.
const OptionOutputPaths = "_output_paths"

// DefaultTimeout is applied by New.
const DefaultTimeout = 5 * time.Minute

type Job struct {
	ID           string
	InputPath    string
	TargetFormat string
	Options      map[string]any
	Timeout      time.Duration
	Priority     int // recorded only; admission is FIFO
	CreatedAt    time.Time
	Fingerprint  string
}

// New builds a job with a fresh id, the default timeout and an empty option map.
func New(inputPath, targetFormat string) *Job {
	return &Job{
		ID:           uuid.NewString(),
		InputPath:    inputPath,
		TargetFormat: targetFormat,
		Options:      make(map[string]any),
		Timeout:      DefaultTimeout,
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks the submission preconditions.
func (j *Job) Validate() error {
	if j == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(j.InputPath) == "" {
		return errors.New("input path is empty")
	}
	if strings.TrimSpace(j.TargetFormat) == "" {
		return errors.New("target format is empty")
	}
	if j.Timeout < 0 {
		return fmt.Errorf("timeout is negative: %v", j.Timeout)
	}
	return nil
}

// SetOutputPaths stores the resolved output paths under the reserved key.
func (j *Job) SetOutputPaths(paths []string) {
	if j.Options == nil {
		j.Options = make(map[string]any)
	}
	j.Options[OptionOutputPaths] = append([]string(nil), paths...)
}

// OutputPaths returns the resolved output paths, or nil before resolution.
func (j *Job) OutputPaths() []string {
	if j == nil || j.Options == nil {
		return nil
	}
	switch v := j.Options[OptionOutputPaths].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringOption returns a caller-supplied option as a string.
func (j *Job) StringOption(key string) (string, bool) {
	if j == nil || j.Options == nil {
		return "", false
	}
	v, ok := j.Options[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// UserOptions returns a copy of the options without reserved keys.
func (j *Job) UserOptions() map[string]any {
	out := make(map[string]any, len(j.Options))
	maps.Copy(out, j.Options)
	for k := range out {
		if strings.HasPrefix(k, "_") {
			delete(out, k)
		}
	}
	return out
}

// SortedOptions renders the option set as "k=v" pairs in key order.
func (j *Job) SortedOptions() []string {
	keys := make([]string, 0, len(j.Options))
	for k := range j.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%v", k, j.Options[k]))
	}
	return out
}
