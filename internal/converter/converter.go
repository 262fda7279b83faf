// Package converter defines the converter backend contract and the ordered
// capability registry the dispatcher probes.
package converter

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattjoyce/convoy/internal/job"
)

//go:generate mockgen -destination=mocks/mock_converter.go -package=mocks github.com/mattjoyce/convoy/internal/converter Converter

// Converter is a conversion backend.
//
// Probe must be side-effect free and return a score in [0,100]; 0 means the
// input is unsupported. Convert must honor ctx cancellation and reads the
// resolved output paths from job.OptionOutputPaths. A structured failure is
// reported as a non-success Result with a nil error; a non-nil error is an
// unexpected failure.
type Converter interface {
	Name() string
	SupportedExtensions() []string
	Probe(path string) int
	Convert(ctx context.Context, j *job.Job) (*job.Result, error)
}

// Extension returns the lower-cased extension of path, including the dot.
func Extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ExtensionScore returns score when path's extension is in exts, else 0.
func ExtensionScore(path string, exts []string, score int) int {
	ext := Extension(path)
	if ext == "" {
		return 0
	}
	if slices.ContainsFunc(exts, func(e string) bool { return strings.EqualFold(e, ext) }) {
		return score
	}
	return 0
}
