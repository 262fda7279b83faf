package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/output"
)

// EnvConfigDir overrides config discovery.
const EnvConfigDir = "CONVOY_CONFIG_DIR"

// ErrNoConfig is returned by DiscoverConfigDir when no location holds a config.
var ErrNoConfig = errors.New("no config found")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads config.yaml from a file or directory path. Values absent from the
// file keep their Defaults, relative paths resolve against the file's
// directory, and the result is validated.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Source = absPath
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over Defaults after ${VAR} interpolation. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Converters == nil {
		cfg.Converters = make(map[string]ConverterConf)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when given, otherwise the discovered config,
// otherwise Defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	found, err := DiscoverConfigDir()
	if errors.Is(err, ErrNoConfig) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return Load(found)
}

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $CONVOY_CONFIG_DIR, ~/.config/convoy, /etc/convoy, ./config.yaml.
func DiscoverConfigDir() (string, error) {
	candidates := make([]string, 0, 4)
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		candidates = append(candidates, dir)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "convoy"))
	}
	candidates = append(candidates, "/etc/convoy", "./config.yaml")

	for _, c := range candidates {
		if hasConfig(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w (checked: $%s, ~/.config/convoy, /etc/convoy, ./config.yaml)", ErrNoConfig, EnvConfigDir)
}

func hasConfig(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return true
	}
	_, err = os.Stat(filepath.Join(path, "config.yaml"))
	return err == nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and caught by Validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func (c *Config) resolvePaths(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || envVarPattern.MatchString(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.Output.Dir = abs(c.Output.Dir)
	c.Logs.Dir = abs(c.Logs.Dir)
	c.History.Path = abs(c.History.Path)
	c.Workspace.Dir = abs(c.Workspace.Dir)
	c.PluginsDir = abs(c.PluginsDir)
	for i, d := range c.Watch.Dirs {
		c.Watch.Dirs[i] = abs(d)
	}
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", c.Service.LogLevel)
	}
	if f := strings.ToLower(c.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", c.Service.LogFormat)
	}

	d := c.Dispatch
	if d.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be positive (got %d)", d.Concurrency)
	}
	if d.QueueCapacity <= 0 {
		return fmt.Errorf("dispatch.queue_capacity must be positive (got %d)", d.QueueCapacity)
	}
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be positive (got %d)", d.MaxAttempts)
	}
	if d.InitialBackoff < 0 || d.MaxBackoff < 0 || d.AdmissionWait < 0 || d.DefaultTimeout < 0 {
		return errors.New("dispatch durations must not be negative")
	}

	if err := output.ValidateTemplate(c.Output.NamingTemplate); err != nil {
		return fmt.Errorf("output.naming_template: %w", err)
	}
	if c.Logs.Dir == "" {
		return errors.New("logs.dir is required")
	}
	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path is required when history is enabled")
	}

	if c.API.Enabled {
		if c.API.Listen == "" {
			return errors.New("api.listen is required when the API is enabled")
		}
		if c.API.MaxConcurrentSync <= 0 {
			return fmt.Errorf("api.max_concurrent_sync must be positive (got %d)", c.API.MaxConcurrentSync)
		}
	}

	if len(c.Watch.Dirs) > 0 && strings.TrimSpace(c.Watch.TargetFormat) == "" {
		return errors.New("watch.target_format is required when watch.dirs is set")
	}
	if c.Watch.Debounce < 0 {
		return errors.New("watch.debounce must not be negative")
	}

	for name, conf := range c.Converters {
		if err := checkUnresolvedEnvVars(conf.Options, name); err != nil {
			return err
		}
	}
	for _, p := range []struct{ key, value string }{
		{"output.dir", c.Output.Dir},
		{"logs.dir", c.Logs.Dir},
		{"history.path", c.History.Path},
		{"plugins_dir", c.PluginsDir},
	} {
		if m := envVarPattern.FindStringSubmatch(p.value); m != nil {
			return fmt.Errorf("%s: environment variable ${%s} is not set", p.key, m[1])
		}
	}
	return nil
}

func checkUnresolvedEnvVars(data map[string]any, converterName string) error {
	for key, value := range data {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if m := envVarPattern.FindStringSubmatch(s); m != nil {
			return fmt.Errorf("converters.%s.options.%s: environment variable ${%s} is not set", converterName, key, m[1])
		}
	}
	return nil
}
