// Package output maps conversion inputs to output file paths using a naming
// template.
package output

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultTemplate names outputs after the input file with the target extension.
const DefaultTemplate = "{name}.{ext}"

var placeholderPattern = regexp.MustCompile(`(?i)\{(name|ext)\}`)

// Resolver applies a naming template inside an output directory. An empty
// directory places outputs next to their input.
type Resolver struct {
	dir      string
	template string
}

// NewResolver validates the template and returns a resolver.
func NewResolver(dir, template string) (*Resolver, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		template = DefaultTemplate
	}
	if err := ValidateTemplate(template); err != nil {
		return nil, err
	}
	dir = strings.TrimSpace(dir)
	if dir != "" {
		dir = filepath.Clean(dir)
	}
	return &Resolver{dir: dir, template: template}, nil
}

// ValidateTemplate checks that a naming template yields a plain file name.
func ValidateTemplate(template string) error {
	if !strings.Contains(strings.ToLower(template), "{name}") {
		return fmt.Errorf("naming template %q must contain {name}", template)
	}
	if strings.ContainsAny(template, `/\`) {
		return fmt.Errorf("naming template %q must not contain path separators", template)
	}
	return nil
}

// Resolve returns the ordered output paths for inputPath converted to targetFormat.
func (r *Resolver) Resolve(inputPath, targetFormat string) ([]string, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, errors.New("input path is empty")
	}
	ext := NormalizeFormat(targetFormat)
	if ext == "" {
		return nil, errors.New("target format is empty")
	}

	base := filepath.Base(inputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	fileName := placeholderPattern.ReplaceAllStringFunc(r.template, func(m string) string {
		if strings.EqualFold(m, "{name}") {
			return name
		}
		return ext
	})
	if fileName == "" || fileName == "." || fileName == ".." {
		return nil, fmt.Errorf("naming template produced invalid file name %q", fileName)
	}

	dir := r.dir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	out := filepath.Join(dir, fileName)

	if abs, err := filepath.Abs(inputPath); err == nil {
		if absOut, err := filepath.Abs(out); err == nil && absOut == abs {
			return nil, fmt.Errorf("output path %s would overwrite the input", out)
		}
	}
	return []string{out}, nil
}

// NormalizeFormat lower-cases a target format and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}
