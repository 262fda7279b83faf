package plugin

import (
	"fmt"
	"slices"
	"strings"
)

const (
	// DefaultScore is used when a manifest omits score.
	DefaultScore = 50
)

// Manifest defines the structure of a converter plugin's manifest.yaml file.
//
//	name: libreoffice
//	version: 1.2.0
//	protocol: 1
//	entrypoint: convert.sh
//	extensions: [.doc, .docx, .ppt, .pptx, .rtf]
//	targets: [pdf, html]
//	score: 100
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Protocol    int      `yaml:"protocol"`
	Entrypoint  string   `yaml:"entrypoint"`
	Description string   `yaml:"description,omitempty"`
	Extensions  []string `yaml:"extensions"`
	Targets     []string `yaml:"targets,omitempty"`
	Score       *int     `yaml:"score,omitempty"`
}

// Plugin is a discovered and validated converter plugin.
type Plugin struct {
	Name        string   // Plugin name from manifest
	Path        string   // Absolute path to plugin directory
	Entrypoint  string   // Absolute path to entrypoint executable
	Protocol    int      // Protocol version
	Version     string   // Plugin version
	Description string   // Human-readable description
	Extensions  []string // Lower-cased, dot-prefixed input extensions
	Targets     []string // Lower-cased target formats; empty means any
	Score       int      // Probe score for supported extensions
}

// SupportsTarget reports whether the plugin declared format as a target.
func (p *Plugin) SupportsTarget(format string) bool {
	if len(p.Targets) == 0 {
		return true
	}
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	return slices.Contains(p.Targets, format)
}

func normalizeExtensions(exts []string) ([]string, error) {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			return nil, fmt.Errorf("empty extension")
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.ContainsAny(e, `/\ `) {
			return nil, fmt.Errorf("invalid extension %q", e)
		}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func normalizeTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
