// Package e2e drives the shipped plugins through discovery, the exec
// converter and the dispatcher.
package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/converter/text"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/fingerprint"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/output"
	"github.com/mattjoyce/convoy/internal/plugin"
	"github.com/mattjoyce/convoy/internal/workspace"
)

func TestYAMLConvPluginPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a plugin binary")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not on PATH")
	}

	root := repoRoot(t)
	tmpDir := t.TempDir()
	pluginsDir := filepath.Join(tmpDir, "plugins")
	pluginDir := filepath.Join(pluginsDir, "yamlconv")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}

	manifest, err := os.ReadFile(filepath.Join(root, "plugins", "yamlconv", "manifest.yaml"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), manifest, 0o644); err != nil {
		t.Fatal(err)
	}

	build := exec.Command(goBin, "build", "-o", filepath.Join(pluginDir, "yamlconv"), "./plugins/yamlconv")
	build.Dir = root
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build yamlconv: %v\n%s", err, out)
	}

	logger := log.New(os.Stderr, "error", "text")
	plugins, err := plugin.Discover(pluginsDir, logger)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	p, ok := plugins.Get("yamlconv")
	if !ok {
		t.Fatal("yamlconv plugin not discovered")
	}
	if !p.SupportsTarget("yaml") || p.SupportsTarget("pdf") {
		t.Fatalf("unexpected targets: %v", p.Targets)
	}

	ws, err := workspace.NewFSManager(filepath.Join(tmpDir, "workspaces"))
	if err != nil {
		t.Fatal(err)
	}
	reg := converter.NewRegistry()
	if err := reg.Add(text.New(), "builtin"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(plugin.NewExecConverter(p, plugin.WithWorkspaces(ws), plugin.WithLogger(logger)), "plugin:"+p.Path); err != nil {
		t.Fatal(err)
	}

	resolver, err := output.NewResolver(filepath.Join(tmpDir, "out"), output.DefaultTemplate)
	if err != nil {
		t.Fatal(err)
	}
	jobLogs, err := log.NewJobLogFactory(filepath.Join(tmpDir, "logs"))
	if err != nil {
		t.Fatal(err)
	}
	disp, err := dispatch.New(dispatch.Dependencies{
		Registry:      reg,
		Fingerprinter: fingerprint.New(),
		Resolver:      resolver,
		JobLogs:       jobLogs,
		Logger:        logger,
	}, dispatch.Options{Concurrency: 2, QueueCapacity: 8, MaxAttempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer disp.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	good := filepath.Join(tmpDir, "settings.json")
	if err := os.WriteFile(good, []byte(`{"service":{"name":"convoy","workers":4}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	j := job.New(good, "yaml")
	j.Timeout = 20 * time.Second
	res, err := disp.Submit(ctx, j)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Success {
		t.Fatalf("conversion failed: %s %s", res.ErrorCode, res.ErrorMessage)
	}
	want := filepath.Join(tmpDir, "out", "settings.yaml")
	if len(res.OutputPaths) != 1 || res.OutputPaths[0] != want {
		t.Fatalf("outputs = %v, want [%s]", res.OutputPaths, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "workers: 4") {
		t.Fatalf("unexpected yaml:\n%s", data)
	}
	jobLog, err := os.ReadFile(res.LogPath)
	if err != nil {
		t.Fatalf("read job log: %v", err)
	}
	if !strings.Contains(string(jobLog), "wrote ") || !strings.Contains(string(jobLog), "plugin log") {
		t.Fatalf("plugin logs missing from job log:\n%s", jobLog)
	}

	bad := filepath.Join(tmpDir, "broken.json")
	if err := os.WriteFile(bad, []byte(`{"service":`), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err = disp.Submit(ctx, job.New(bad, "yaml"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Success || res.ErrorCode != "INVALID_INPUT" {
		t.Fatalf("result = %+v, want INVALID_INPUT failure", res)
	}

	entries, err := os.ReadDir(filepath.Join(tmpDir, "workspaces"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspaces left behind: %d", len(entries))
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// internal/e2e -> internal -> repo root
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
