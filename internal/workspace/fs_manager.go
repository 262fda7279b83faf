package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FSManager keeps workspaces as directories under a base directory.
type FSManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*FSManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*FSManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	return &FSManager{baseDir: filepath.Clean(trimmed), now: time.Now}, nil
}

// BaseDir returns the directory workspaces are created in.
func (m *FSManager) BaseDir() string { return m.baseDir }

func (m *FSManager) Create(ctx context.Context, jobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(jobID)
	if err != nil {
		return Workspace{}, err
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return Workspace{}, fmt.Errorf("reset workspace for job %q: %w", jobID, err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for job %q: %w", jobID, err)
	}
	return Workspace{JobID: jobID, Dir: path}, nil
}

func (m *FSManager) Open(ctx context.Context, jobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(jobID)
	if err != nil {
		return Workspace{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for job %q: %w", jobID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for job %q is not a directory", jobID)
	}
	return Workspace{JobID: jobID, Dir: path}, nil
}

func (m *FSManager) Remove(_ context.Context, jobID string) error {
	path, err := m.workspacePath(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for job %q: %w", jobID, err)
	}
	return nil
}

// Cleanup removes workspace directories whose modification time is older
// than olderThan.
func (m *FSManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}
	return report, nil
}

func (m *FSManager) workspacePath(jobID string) (string, error) {
	if err := validateJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, jobID), nil
}

func validateJobID(jobID string) error {
	trimmed := strings.TrimSpace(jobID)
	switch {
	case trimmed == "":
		return fmt.Errorf("job id is empty")
	case trimmed == "." || trimmed == "..":
		return fmt.Errorf("job id %q is invalid", jobID)
	case strings.ContainsAny(trimmed, `/\`):
		return fmt.Errorf("job id %q must not contain path separators", jobID)
	case trimmed != jobID:
		return fmt.Errorf("job id %q has surrounding whitespace", jobID)
	}
	return nil
}
