package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config, dir string)
	}{
		{
			name: "empty file keeps defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config, dir string) {
				assert.Equal(t, 2, cfg.Dispatch.Concurrency)
				assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
				assert.Equal(t, "{name}.{ext}", cfg.Output.NamingTemplate)
				assert.Equal(t, filepath.Join(dir, "data", "logs"), cfg.Logs.Dir)
			},
		},
		{
			name: "sections override defaults",
			yaml: `
service:
  log_level: debug
  log_format: text
dispatch:
  concurrency: 4
  max_attempts: 5
  initial_backoff: 250ms
  admission_wait: 2s
output:
  dir: out
  naming_template: "{name}-converted.{ext}"
converters:
  sheet:
    options:
      separator: ";"
  text:
    enabled: false
`,
			checkFn: func(t *testing.T, cfg *Config, dir string) {
				assert.Equal(t, "debug", cfg.Service.LogLevel)
				assert.Equal(t, 4, cfg.Dispatch.Concurrency)
				assert.Equal(t, 128, cfg.Dispatch.QueueCapacity, "unset keys keep defaults")
				assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.InitialBackoff)
				assert.Equal(t, 2*time.Second, cfg.Dispatch.AdmissionWait)
				assert.Equal(t, filepath.Join(dir, "out"), cfg.Output.Dir)
				assert.Equal(t, ";", cfg.ConverterOptions("sheet")["separator"])
				assert.True(t, cfg.ConverterEnabled("sheet"))
				assert.False(t, cfg.ConverterEnabled("text"))
				assert.True(t, cfg.ConverterEnabled("unlisted"))
			},
		},
		{
			name: "env interpolation",
			yaml: `
output:
  dir: ${CONVOY_TEST_OUT}
converters:
  office:
    options:
      token: ${CONVOY_TEST_TOKEN}
`,
			env: map[string]string{"CONVOY_TEST_OUT": "/srv/out", "CONVOY_TEST_TOKEN": "secret"},
			checkFn: func(t *testing.T, cfg *Config, _ string) {
				assert.Equal(t, "/srv/out", cfg.Output.Dir)
				assert.Equal(t, "secret", cfg.ConverterOptions("office")["token"])
			},
		},
		{
			name: "unset env var is rejected",
			yaml: `
converters:
  office:
    options:
      token: ${CONVOY_TEST_UNSET_TOKEN}
`,
			wantErr: "CONVOY_TEST_UNSET_TOKEN",
		},
		{name: "zero concurrency", yaml: "dispatch:\n  concurrency: 0\n", wantErr: "dispatch.concurrency"},
		{name: "negative capacity", yaml: "dispatch:\n  queue_capacity: -1\n", wantErr: "dispatch.queue_capacity"},
		{name: "zero attempts", yaml: "dispatch:\n  max_attempts: 0\n", wantErr: "dispatch.max_attempts"},
		{name: "template without name", yaml: "output:\n  naming_template: \"out.{ext}\"\n", wantErr: "naming_template"},
		{name: "bad log level", yaml: "service:\n  log_level: loud\n", wantErr: "log_level"},
		{name: "unknown key", yaml: "dispatch:\n  workers: 3\n", wantErr: "workers"},
		{name: "watch without target", yaml: "watch:\n  dirs: [inbox]\n", wantErr: "watch.target_format"},
		{name: "api without sync slots", yaml: "api:\n  enabled: true\n  max_concurrent_sync: 0\n", wantErr: "max_concurrent_sync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			path := writeConfig(t, dir, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.Source)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg, dir)
			}
		})
	}
}

func TestLoadAcceptsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dispatch:\n  concurrency: 6\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Dispatch.Concurrency)

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "config.yaml not found")
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("env dir wins", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "dispatch:\n  concurrency: 9\n")
		t.Setenv(EnvConfigDir, dir)

		cfg, err := LoadOrDefault("")
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Dispatch.Concurrency)
	})

	t.Run("explicit path", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "dispatch:\n  max_attempts: 7\n")
		cfg, err := LoadOrDefault(path)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Dispatch.MaxAttempts)
	})

	t.Run("nothing found falls back to defaults", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "")
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())
		if hasConfig("/etc/convoy") {
			t.Skip("system config present")
		}

		cfg, err := LoadOrDefault("")
		require.NoError(t, err)
		assert.Empty(t, cfg.Source)
		assert.Equal(t, Defaults().Dispatch, cfg.Dispatch)
	})
}
