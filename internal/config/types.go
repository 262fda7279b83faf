package config

import (
	"time"

	"github.com/mattjoyce/convoy/internal/output"
)

// Config represents the complete convoy configuration.
type Config struct {
	Service    ServiceConfig            `yaml:"service"`
	Dispatch   DispatchConfig           `yaml:"dispatch"`
	Output     OutputConfig             `yaml:"output"`
	Logs       LogsConfig               `yaml:"logs"`
	History    HistoryConfig            `yaml:"history"`
	API        APIConfig                `yaml:"api"`
	Watch      WatchConfig              `yaml:"watch"`
	Workspace  WorkspaceConfig          `yaml:"workspace"`
	PluginsDir string                   `yaml:"plugins_dir"`
	Converters map[string]ConverterConf `yaml:"converters,omitempty"`

	// Source is the file the config was loaded from; empty for Defaults.
	Source string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DispatchConfig sizes the worker pool and the retry policy.
type DispatchConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AdmissionWait  time.Duration `yaml:"admission_wait"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// OutputConfig controls where converted files land. An empty Dir writes next
// to the input.
type OutputConfig struct {
	Dir            string `yaml:"dir"`
	NamingTemplate string `yaml:"naming_template"`
}

// LogsConfig locates the per-job log files.
type LogsConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig locates the SQLite job history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Listen            string `yaml:"listen"`
	MaxConcurrentSync int    `yaml:"max_concurrent_sync"`
}

// WatchConfig lists folders whose new or changed files are converted
// automatically.
type WatchConfig struct {
	Dirs         []string      `yaml:"dirs,omitempty"`
	TargetFormat string        `yaml:"target_format"`
	Debounce     time.Duration `yaml:"debounce"`
}

// WorkspaceConfig holds plugin scratch directories.
type WorkspaceConfig struct {
	Dir    string        `yaml:"dir"`
	MaxAge time.Duration `yaml:"max_age"`
}

// ConverterConf enables or tunes one converter by name. Enabled defaults to
// true when omitted.
type ConverterConf struct {
	Enabled *bool          `yaml:"enabled,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// ConverterEnabled reports whether the named converter should be registered.
func (c *Config) ConverterEnabled(name string) bool {
	conf, ok := c.Converters[name]
	if !ok || conf.Enabled == nil {
		return true
	}
	return *conf.Enabled
}

// ConverterOptions returns the configured default options for a converter.
func (c *Config) ConverterOptions(name string) map[string]any {
	return c.Converters[name].Options
}

// Defaults returns a Config usable without any file on disk.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "convoy",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Dispatch: DispatchConfig{
			Concurrency:    2,
			QueueCapacity:  128,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			DefaultTimeout: 5 * time.Minute,
		},
		Output: OutputConfig{
			NamingTemplate: output.DefaultTemplate,
		},
		Logs: LogsConfig{
			Dir: "./data/logs",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/history.db",
		},
		API: APIConfig{
			Enabled:           false,
			Listen:            "127.0.0.1:8088",
			MaxConcurrentSync: 8,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Workspace: WorkspaceConfig{
			Dir:    "./data/workspaces",
			MaxAge: 24 * time.Hour,
		},
		PluginsDir: "./plugins",
		Converters: make(map[string]ConverterConf),
	}
}
