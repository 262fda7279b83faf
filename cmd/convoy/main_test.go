package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text")
	os.Exit(m.Run())
}

// captureOutput redirects stdout and stderr for the duration of the test.
func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })
	return &out, &errOut
}

// writeTestConfig keeps every runtime path inside a temp dir.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	cfg := `service:
  log_level: error
dispatch:
  concurrency: 2
  initial_backoff: 1ms
  max_backoff: 5ms
output:
  dir: out
logs:
  dir: data/logs
history:
  enabled: true
  path: data/history.db
workspace:
  dir: data/workspaces
plugins_dir: plugins
api:
  enabled: false
`
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return root, path
}

func TestRunCLINoArgs(t *testing.T) {
	_, errOut := captureOutput(t)
	assert.Equal(t, 1, runCLI(nil))
	assert.Contains(t, errOut.String(), "Usage:")
}

func TestRunCLIUnknownCommand(t *testing.T) {
	_, errOut := captureOutput(t)
	assert.Equal(t, 1, runCLI([]string{"frobnicate"}))
	assert.Contains(t, errOut.String(), "Unknown command: frobnicate")
}

func TestRunVersionJSON(t *testing.T) {
	out, _ := captureOutput(t)
	require.Equal(t, 0, runCLI([]string{"version", "--json"}))

	var info versionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, version, info.Version)
}

func TestShortenCommit(t *testing.T) {
	assert.Equal(t, "abcdef123456", shortenCommit("abcdef1234567890"))
	assert.Equal(t, "abc", shortenCommit("abc"))
}

func TestParseInterspersed(t *testing.T) {
	fs := newFlagSet("test")
	to := fs.String("to", "", "")
	jsonOut := fs.Bool("json", false, "")

	positional, err := parseInterspersed(fs, []string{"a.md", "--to", "html", "b.md", "--json", "--", "--c.md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md", "--c.md"}, positional)
	assert.Equal(t, "html", *to)
	assert.True(t, *jsonOut)
}

func TestOptionFlags(t *testing.T) {
	opts := optionFlags{}
	require.NoError(t, opts.Set("separator=tab"))
	require.NoError(t, opts.Set(" title = Report"))
	assert.Equal(t, "tab", opts["separator"])
	assert.Equal(t, " Report", opts["title"])

	assert.Error(t, opts.Set("novalue"))
	assert.Error(t, opts.Set("=x"))
	assert.Error(t, opts.Set("_cancel=1"))
}

func TestConvertEndToEnd(t *testing.T) {
	root, cfgPath := writeTestConfig(t)
	input := filepath.Join(root, "notes.md")
	require.NoError(t, os.WriteFile(input, []byte("# Notes\n\nhello world\n"), 0o644))

	out, errOut := captureOutput(t)
	code := runCLI([]string{"convert", input, "--to", "html", "--config", cfgPath})
	require.Equal(t, 0, code, "stderr: %s", errOut.String())
	assert.Contains(t, out.String(), "1 converted, 0 failed")

	data, err := os.ReadFile(filepath.Join(root, "out", "notes.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<h1>Notes</h1>")

	out.Reset()
	require.Equal(t, 0, runCLI([]string{"job", "list", "--json", "--config", cfgPath}))
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "succeeded", entries[0]["status"])
	assert.Equal(t, input, entries[0]["input_path"])

	jobID, _ := entries[0]["job_id"].(string)
	out.Reset()
	require.Equal(t, 0, runCLI([]string{"job", "inspect", jobID, "--config", cfgPath}))
	assert.Contains(t, out.String(), "notes.html")
}

func TestConvertMissingFileFails(t *testing.T) {
	root, cfgPath := writeTestConfig(t)

	out, _ := captureOutput(t)
	code := runCLI([]string{"convert", filepath.Join(root, "absent.md"), "--to", "html", "--config", cfgPath})
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "0 converted, 1 failed")
}

func TestConvertRequiresTarget(t *testing.T) {
	_, errOut := captureOutput(t)
	assert.Equal(t, 1, runCLI([]string{"convert", "a.md"}))
	assert.Contains(t, errOut.String(), "Usage: convoy convert")
}

func TestJobInspectUnknown(t *testing.T) {
	_, cfgPath := writeTestConfig(t)
	_, errOut := captureOutput(t)
	assert.Equal(t, 1, runCLI([]string{"job", "inspect", "nope", "--config", cfgPath}))
	assert.Contains(t, errOut.String(), "not found")
}

func TestConverterList(t *testing.T) {
	_, cfgPath := writeTestConfig(t)
	out, _ := captureOutput(t)
	require.Equal(t, 0, runCLI([]string{"converter", "list", "--json", "--config", cfgPath}))

	var infos []struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &infos))
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
		assert.Equal(t, "builtin", info.Source)
	}
	assert.ElementsMatch(t, []string{"sheet", "text"}, names)
}

func TestConfigCheckAndGetSet(t *testing.T) {
	_, cfgPath := writeTestConfig(t)
	out, _ := captureOutput(t)

	require.Equal(t, 0, runCLI([]string{"config", "check", "--config", cfgPath}))
	assert.Contains(t, out.String(), cfgPath)

	out.Reset()
	require.Equal(t, 0, runCLI([]string{"config", "set", "dispatch.concurrency=5", "--config", cfgPath}))

	out.Reset()
	require.Equal(t, 0, runCLI([]string{"config", "get", "dispatch.concurrency", "--config", cfgPath}))
	assert.Equal(t, "5", strings.TrimSpace(out.String()))

	out.Reset()
	assert.Equal(t, 1, runCLI([]string{"config", "set", "dispatch.concurrency=0", "--config", cfgPath}))
	require.Equal(t, 0, runCLI([]string{"config", "get", "dispatch.concurrency", "--config", cfgPath}))
	assert.Equal(t, "5", strings.TrimSpace(out.String()))
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "convoy.lock"), lockPath("data/logs"))
	assert.Equal(t, filepath.Join("/var/lib/convoy", "convoy.lock"), lockPath("/var/lib/convoy/logs/"))
}
