package converter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/convoy/internal/job"
)

// OutputPaths returns the dispatcher-resolved outputs for j, falling back to
// the input path with the target extension when none were injected.
func OutputPaths(j *job.Job) []string {
	if paths := j.OutputPaths(); len(paths) > 0 {
		return paths
	}
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(j.TargetFormat)), ".")
	return []string{strings.TrimSuffix(j.InputPath, filepath.Ext(j.InputPath)) + "." + ext}
}

// WriteFileAtomic writes data to a sibling temp file and renames it into place
// so a half-written output never looks current.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp output: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
