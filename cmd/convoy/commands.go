package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/doctor"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/history"
	"github.com/mattjoyce/convoy/internal/lock"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/tui"
	"github.com/mattjoyce/convoy/internal/watch"
	"github.com/mattjoyce/convoy/internal/workspace"
)

// --- converter ---

func runConverterNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage: convoy converter list [--json] [--config path]")
		return 0
	}
	switch args[0] {
	case "list":
		return runConverterList(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown converter action: %s\n", args[0])
		return 1
	}
}

func runConverterList(args []string) int {
	fs := newFlagSet("converter list")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ws, err := workspace.NewFSManager(cfg.Workspace.Dir)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to prepare workspaces: %v\n", err)
		return 1
	}
	reg, _, err := buildConverters(cfg, ws, cliLogger(cfg, false))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load converters: %v\n", err)
		return 1
	}

	infos := reg.Describe()
	if *jsonOut {
		return printJSON(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(stdout, "No converters registered.")
		return 0
	}

	rows := make([][]string, 0, len(infos))
	for i, info := range infos {
		rows = append(rows, []string{strconv.Itoa(i + 1), info.Name, strings.Join(info.Extensions, " "), info.Source})
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"#", "NAME", "EXTENSIONS", "SOURCE"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	))
	return 0
}

// --- job ---

func runJobNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage:\n  convoy job list [--limit n] [--json] [--config path]\n  convoy job inspect <id> [--json] [--config path]\n  convoy job watch [--api-url url]")
		return 0
	}
	switch args[0] {
	case "list":
		return runJobList(args[1:])
	case "inspect":
		return runJobInspect(args[1:])
	case "watch":
		return runJobWatch(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown job action: %s\n", args[0])
		return 1
	}
}

func runJobList(args []string) int {
	fs := newFlagSet("job list")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", history.DefaultLimit, "Maximum number of jobs to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}
	if *limit <= 0 {
		fmt.Fprintln(stderr, "--limit must be positive")
		return 1
	}

	store, closeFn, code := openStoreForCLI(*configPath)
	if store == nil {
		return code
	}
	defer closeFn()

	entries, err := store.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to list jobs: %v\n", err)
		return 1
	}
	if *jsonOut {
		if entries == nil {
			entries = []history.Entry{}
		}
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No jobs recorded.")
		return 0
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		detail := strings.Join(e.OutputPaths, ", ")
		if e.ErrorCode != "" {
			detail = e.ErrorCode + ": " + e.ErrorMessage
		}
		rows = append(rows, []string{
			shortID(e.JobID),
			renderStatus(e.Status),
			e.InputPath,
			e.TargetFormat,
			formatDuration(e.Duration),
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			detail,
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"JOB", "STATUS", "INPUT", "TARGET", "DURATION", "FINISHED", "OUTPUT / ERROR"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return 0
}

func runJobInspect(args []string) int {
	fs := newFlagSet("job inspect")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return flagError(err)
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "Usage: convoy job inspect <id> [--json] [--config path]")
		return 1
	}

	store, closeFn, code := openStoreForCLI(*configPath)
	if store == nil {
		return code
	}
	defer closeFn()

	e, err := store.Get(context.Background(), positional[0])
	if errors.Is(err, history.ErrNotFound) {
		fmt.Fprintf(stderr, "Job %s not found.\n", positional[0])
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load job: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(e)
	}

	fmt.Fprintln(stdout, renderHeading("Job "+e.JobID))
	fields := [][2]string{
		{"status", renderStatus(e.Status)},
		{"input", e.InputPath},
		{"target", e.TargetFormat},
		{"fingerprint", e.Fingerprint},
		{"priority", strconv.Itoa(e.Priority)},
		{"duration", formatDuration(e.Duration)},
		{"created", e.CreatedAt.Local().Format(time.RFC3339)},
		{"finished", e.FinishedAt.Local().Format(time.RFC3339)},
		{"outputs", strings.Join(e.OutputPaths, ", ")},
		{"error", strings.TrimSpace(e.ErrorCode + " " + e.ErrorMessage)},
		{"log", e.LogPath},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		fmt.Fprintf(stdout, "  %-12s %s\n", f[0]+":", f[1])
	}
	for k, v := range e.Options {
		fmt.Fprintf(stdout, "  %-12s %s=%v\n", "option:", k, v)
	}
	return 0
}

// runJobWatch follows a running service's event stream in a terminal UI.
func runJobWatch(args []string) int {
	fs := newFlagSet("job watch")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Service API URL (default from api.listen)")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	url := *apiURL
	if url == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return 1
		}
		url = "http://" + cfg.API.Listen
	}

	p := tea.NewProgram(tui.New(url))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func openStoreForCLI(configPath string) (*history.Store, func(), int) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, nil, 1
	}
	store, closeDB, err := openHistoryOnly(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return nil, nil, 1
	}
	return store, func() { _ = closeDB() }, 0
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage:\n  convoy config check [--json]\n  convoy config show\n  convoy config get <path>\n  convoy config set <path>=<value>\nAll accept --config <path>.")
		return 0
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "show":
		return runConfigShow(args[1:])
	case "get":
		return runConfigGet(args[1:])
	case "set":
		return runConfigSet(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := newFlagSet("config check")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ws, err := workspace.NewFSManager(cfg.Workspace.Dir)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to prepare workspaces: %v\n", err)
		return 1
	}
	reg, plugins, err := buildConverters(cfg, ws, cliLogger(cfg, false))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load converters: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, reg, plugins).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		if cfg.Source != "" {
			fmt.Fprintf(stdout, "Config: %s\n", cfg.Source)
		} else {
			fmt.Fprintln(stdout, "Config: built-in defaults")
		}
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := newFlagSet("config show")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	source := cfg.Source
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(stdout, "# source: %s\n%s", source, data)
	return 0
}

func runConfigGet(args []string) int {
	fs := newFlagSet("config get")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return flagError(err)
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "Usage: convoy config get <path>   (e.g. dispatch.concurrency, converter:sheet)")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	v, err := cfg.GetPath(positional[0])
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	switch v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		fmt.Fprint(stdout, string(data))
	default:
		fmt.Fprintln(stdout, v)
	}
	return 0
}

func runConfigSet(args []string) int {
	fs := newFlagSet("config set")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return flagError(err)
	}

	var path, value string
	switch len(positional) {
	case 1:
		var ok bool
		path, value, ok = strings.Cut(positional[0], "=")
		if !ok {
			fmt.Fprintln(stderr, "Usage: convoy config set <path>=<value>")
			return 1
		}
	case 2:
		path, value = positional[0], positional[1]
	default:
		fmt.Fprintln(stderr, "Usage: convoy config set <path>=<value>")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.SetPath(path, value); err != nil {
		fmt.Fprintf(stderr, "Failed to set %s: %v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "Set %s = %s in %s\n", path, value, cfg.Source)
	return 0
}

// --- system ---

func runSystemNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdout, "Usage: convoy system start [--config path]")
		return 0
	}
	switch args[0] {
	case "start":
		return runSystemStart(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

// lockPath places the instance lock beside the logs directory.
func lockPath(logsDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(logsDir)), "convoy.lock")
}

func runSystemStart(args []string) int {
	fs := newFlagSet("start")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("convoy starting", "version", version, "config", cfg.Source)

	if !cfg.API.Enabled && len(cfg.Watch.Dirs) == 0 {
		logger.Error("nothing to run: enable api or configure watch.dirs")
		return 1
	}

	pidLock, err := lock.Acquire(lockPath(cfg.Logs.Dir))
	if err != nil {
		logger.Error("failed to acquire instance lock", "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired instance lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, log.Get(), true)
	if err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		return 1
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	logger.Info("converters registered", "count", rt.converters.Len())

	if cfg.Workspace.MaxAge > 0 {
		if report, err := rt.workspaces.Cleanup(ctx, cfg.Workspace.MaxAge); err != nil {
			logger.Warn("workspace cleanup failed", "error", err)
		} else if report.DeletedDirs > 0 {
			logger.Info("removed stale workspaces", "count", report.DeletedDirs)
		}
	}

	hub := events.NewHub(256)
	defer hub.Close()
	detach := events.Bridge(rt.disp, hub)
	defer detach()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		deps := api.Deps{
			Submitter:  rt.submit,
			Stats:      rt.disp,
			Converters: rt.converters,
			Events:     hub,
		}
		if rt.history != nil {
			deps.History = rt.history
		}
		apiServer := api.New(api.Config{
			Listen:            cfg.API.Listen,
			MaxConcurrentSync: cfg.API.MaxConcurrentSync,
			DefaultTimeout:    cfg.Dispatch.DefaultTimeout,
		}, deps, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if len(cfg.Watch.Dirs) > 0 {
		w, err := watch.New(watch.Options{
			Dirs:         cfg.Watch.Dirs,
			TargetFormat: cfg.Watch.TargetFormat,
			Debounce:     cfg.Watch.Debounce,
			Timeout:      cfg.Dispatch.DefaultTimeout,
		}, rt.submit, log.WithComponent("watch"))
		if err != nil {
			logger.Error("failed to configure folder watch", "error", err)
			return 1
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				errCh <- fmt.Errorf("watch: %w", err)
			}
		}()
	}

	logger.Info("convoy running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("convoy stopped")
	return 0
}
