package converter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Registry holds converters in registration order. It is populated before the
// dispatcher starts and read-only afterwards.
type Registry struct {
	ordered []Converter
	byName  map[string]Converter
	sources map[string]string
}

// NewRegistry creates an empty converter registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Converter),
		sources: make(map[string]string),
	}
}

// Add registers a converter. Source describes where it came from ("builtin",
// a plugin path) for listings.
func (r *Registry) Add(c Converter, source string) error {
	if c == nil {
		return fmt.Errorf("converter is nil")
	}
	name := strings.TrimSpace(c.Name())
	if name == "" {
		return fmt.Errorf("converter name is empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("converter %q already registered", name)
	}
	r.ordered = append(r.ordered, c)
	r.byName[name] = c
	r.sources[name] = source
	return nil
}

// Get retrieves a converter by name.
func (r *Registry) Get(name string) (Converter, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// All returns the converters in registration order.
func (r *Registry) All() []Converter {
	return append([]Converter(nil), r.ordered...)
}

// Len returns the number of registered converters.
func (r *Registry) Len() int { return len(r.ordered) }

// Info describes a registered converter for listings.
type Info struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
	Source     string   `json:"source"`
}

// Describe lists the registered converters in registration order.
func (r *Registry) Describe() []Info {
	out := make([]Info, 0, len(r.ordered))
	for _, c := range r.ordered {
		exts := append([]string(nil), c.SupportedExtensions()...)
		sort.Strings(exts)
		out = append(out, Info{Name: c.Name(), Extensions: exts, Source: r.sources[c.Name()]})
	}
	return out
}

// Probe is a probe outcome for one converter.
type Probe struct {
	Converter Converter
	Score     int
}

// SafeProbe calls c.Probe, converting a panic into score 0 and clamping the
// result to [0,100].
func SafeProbe(c Converter, path string, logger *slog.Logger) (score int) {
	defer func() {
		if rec := recover(); rec != nil {
			if logger != nil {
				logger.Warn("converter probe panicked", "converter", c.Name(), "path", path, "panic", fmt.Sprint(rec))
			}
			score = 0
		}
	}()

	score = c.Probe(path)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Candidates probes every converter and returns those with a positive score,
// highest first; equal scores keep registration order.
func (r *Registry) Candidates(path string, logger *slog.Logger) []Probe {
	out := make([]Probe, 0, len(r.ordered))
	for _, c := range r.ordered {
		if score := SafeProbe(c, path, logger); score > 0 {
			out = append(out, Probe{Converter: c, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Select returns the converter with the strictly highest positive score.
// Ties are broken by registration order.
func (r *Registry) Select(path string, logger *slog.Logger) (Converter, int, bool) {
	var (
		best      Converter
		bestScore int
	)
	for _, c := range r.ordered {
		score := SafeProbe(c, path, logger)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore, best != nil
}
