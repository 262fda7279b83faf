// Package workspace manages per-job scratch directories handed to subprocess
// converters. Converters write intermediate files there; final outputs go to
// the resolved output paths.
package workspace

import (
	"context"
	"time"
)

// Workspace is a job-scoped scratch directory.
type Workspace struct {
	JobID string
	Dir   string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs scratch directory lifecycle.
type Manager interface {
	// Create returns an empty workspace for jobID, clearing leftovers from a
	// previous attempt.
	Create(ctx context.Context, jobID string) (Workspace, error)

	// Open resolves an existing workspace for jobID.
	Open(ctx context.Context, jobID string) (Workspace, error)

	// Remove deletes the workspace for jobID. Missing workspaces are not an error.
	Remove(ctx context.Context, jobID string) error

	// Cleanup removes stale workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
