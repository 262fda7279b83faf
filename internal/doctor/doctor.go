// Package doctor validates convoy configuration and converter setup.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/plugin"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the assembled converters.
type Doctor struct {
	cfg        *config.Config
	converters *converter.Registry
	plugins    *plugin.Registry
}

// New creates a Doctor. converters is the registry as the service would build
// it; plugins is what discovery found, enabled or not.
func New(cfg *config.Config, converters *converter.Registry, plugins *plugin.Registry) *Doctor {
	if converters == nil {
		converters = converter.NewRegistry()
	}
	if plugins == nil {
		plugins = plugin.NewRegistry()
	}
	return &Doctor{cfg: cfg, converters: converters, plugins: plugins}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validatePaths(r)
	d.validateConverters(r)
	d.warnUnknownConverterRefs(r)
	d.warnAmbiguousExtensions(r)
	d.warnExposedAPI(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateConfig(r *Result) {
	if err := d.cfg.Validate(); err != nil {
		d.addError(r, "config", "", err.Error())
	}
}

// validatePaths checks directories the service writes into or reads from.
func (d *Doctor) validatePaths(r *Result) {
	if dir := d.cfg.Output.Dir; dir != "" {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			d.addError(r, "paths", "output.dir", fmt.Sprintf("%s exists and is not a directory", dir))
		}
	}
	if d.cfg.PluginsDir != "" {
		if _, err := os.Stat(d.cfg.PluginsDir); err != nil {
			d.addWarning(r, "paths", "plugins_dir", fmt.Sprintf("%s not found; only built-in converters are available", d.cfg.PluginsDir))
		}
	}
	for i, dir := range d.cfg.Watch.Dirs {
		info, err := os.Stat(dir)
		switch {
		case err != nil:
			d.addWarning(r, "watch", fmt.Sprintf("watch.dirs[%d]", i), fmt.Sprintf("%s does not exist and will be created", dir))
		case !info.IsDir():
			d.addError(r, "watch", fmt.Sprintf("watch.dirs[%d]", i), fmt.Sprintf("%s is not a directory", dir))
		}
	}
}

func (d *Doctor) validateConverters(r *Result) {
	if d.converters.Len() == 0 {
		d.addError(r, "converters", "converters", "no converters are enabled")
	}
}

// warnUnknownConverterRefs flags converters.<name> entries matching nothing.
func (d *Doctor) warnUnknownConverterRefs(r *Result) {
	names := make([]string, 0, len(d.cfg.Converters))
	for name := range d.cfg.Converters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !d.cfg.ConverterEnabled(name) {
			continue
		}
		if _, ok := d.converters.Get(name); ok {
			continue
		}
		if _, ok := d.plugins.Get(name); ok {
			continue
		}
		d.addWarning(r, "converter_refs", "converters."+name, fmt.Sprintf("converter %q is configured but not registered", name))
	}
}

// warnAmbiguousExtensions reports extensions claimed by several converters at
// the same top score, where registration order decides.
func (d *Doctor) warnAmbiguousExtensions(r *Result) {
	exts := make(map[string]struct{})
	for _, c := range d.converters.All() {
		for _, e := range c.SupportedExtensions() {
			exts[strings.ToLower(e)] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(exts))
	for e := range exts {
		sorted = append(sorted, e)
	}
	sort.Strings(sorted)

	for _, ext := range sorted {
		probes := d.converters.Candidates("probe"+ext, nil)
		if len(probes) < 2 || probes[0].Score != probes[1].Score {
			continue
		}
		tied := []string{probes[0].Converter.Name()}
		for _, p := range probes[1:] {
			if p.Score != probes[0].Score {
				break
			}
			tied = append(tied, p.Converter.Name())
		}
		d.addWarning(r, "converters", ext, fmt.Sprintf("%s tie at score %d; %s wins by registration order",
			strings.Join(tied, ", "), probes[0].Score, tied[0]))
	}
}

func (d *Doctor) warnExposedAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if host == "localhost" {
		return
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return
	}
	d.addWarning(r, "api", "api.listen", "API has no authentication and listens beyond loopback")
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}
	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
