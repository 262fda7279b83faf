package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/converter/sheet"
	"github.com/mattjoyce/convoy/internal/converter/text"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/fingerprint"
	"github.com/mattjoyce/convoy/internal/history"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/output"
	"github.com/mattjoyce/convoy/internal/plugin"
	"github.com/mattjoyce/convoy/internal/storage"
	"github.com/mattjoyce/convoy/internal/workspace"
)

// submitter is the job entry point shared by the CLI, API and watcher.
type submitter interface {
	Submit(ctx context.Context, j *job.Job) (job.Result, error)
}

// runtime is the assembled service: converters, dispatcher and history.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	converters *converter.Registry
	plugins    *plugin.Registry
	workspaces *workspace.FSManager
	disp       *dispatch.Dispatcher
	db         *sql.DB
	history    *history.Store
	submit     submitter
}

// buildConverters registers the built-in converters first, then every
// discovered plugin in name order, so built-ins win score ties. Disabled converters are skipped.
func buildConverters(cfg *config.Config, ws workspace.Manager, logger *slog.Logger) (*converter.Registry, *plugin.Registry, error) {
	reg := converter.NewRegistry()

	if cfg.ConverterEnabled(sheet.Name) {
		var opts []sheet.Option
		if v, ok := cfg.ConverterOptions(sheet.Name)[sheet.OptionSeparator]; ok {
			sep, err := sheet.ParseSeparator(fmt.Sprint(v))
			if err != nil {
				return nil, nil, fmt.Errorf("converters.%s.options.%s: %w", sheet.Name, sheet.OptionSeparator, err)
			}
			opts = append(opts, sheet.WithSeparator(sep))
		}
		if err := reg.Add(sheet.New(opts...), "builtin"); err != nil {
			return nil, nil, err
		}
	}

	if cfg.ConverterEnabled(text.Name) {
		var opts []text.Option
		if v, ok := cfg.ConverterOptions(text.Name)["title"]; ok {
			opts = append(opts, text.WithTitle(fmt.Sprint(v)))
		}
		if err := reg.Add(text.New(opts...), "builtin"); err != nil {
			return nil, nil, err
		}
	}

	plugins := plugin.NewRegistry()
	if cfg.PluginsDir != "" {
		if _, err := os.Stat(cfg.PluginsDir); err == nil {
			discovered, err := plugin.Discover(cfg.PluginsDir, logger.With("component", "plugin"))
			if err != nil {
				return nil, nil, fmt.Errorf("plugin discovery: %w", err)
			}
			plugins = discovered
		} else {
			logger.Debug("plugins directory not found; skipping discovery", "plugins_dir", cfg.PluginsDir)
		}
	}

	for _, p := range plugins.All() {
		if !cfg.ConverterEnabled(p.Name) {
			logger.Info("plugin disabled by config", "plugin", p.Name)
			continue
		}
		conv := plugin.NewExecConverter(p,
			plugin.WithWorkspaces(ws),
			plugin.WithDefaultOptions(cfg.ConverterOptions(p.Name)),
			plugin.WithLogger(log.WithConverter(p.Name)),
		)
		if err := reg.Add(conv, "plugin:"+p.Path); err != nil {
			logger.Warn("plugin not registered", "plugin", p.Name, "error", err)
		}
	}
	return reg, plugins, nil
}

// buildRuntime assembles everything conversions need. withHistory opens the
// SQLite store when the config enables it.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, withHistory bool) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	ws, err := workspace.NewFSManager(cfg.Workspace.Dir)
	if err != nil {
		return nil, fmt.Errorf("workspace manager: %w", err)
	}
	rt.workspaces = ws

	rt.converters, rt.plugins, err = buildConverters(cfg, ws, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := output.NewResolver(cfg.Output.Dir, cfg.Output.NamingTemplate)
	if err != nil {
		return nil, err
	}
	jobLogs, err := log.NewJobLogFactory(cfg.Logs.Dir)
	if err != nil {
		return nil, fmt.Errorf("job logs: %w", err)
	}

	rt.disp, err = dispatch.New(dispatch.Dependencies{
		Registry:      rt.converters,
		Fingerprinter: fingerprint.New(),
		Resolver:      resolver,
		JobLogs:       jobLogs,
		Logger:        logger.With("component", "dispatch"),
	}, dispatch.Options{
		Concurrency:    cfg.Dispatch.Concurrency,
		QueueCapacity:  cfg.Dispatch.QueueCapacity,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
		AdmissionWait:  cfg.Dispatch.AdmissionWait,
	})
	if err != nil {
		return nil, err
	}
	rt.submit = rt.disp

	if withHistory && cfg.History.Enabled {
		if err := rt.openHistory(ctx); err != nil {
			_ = rt.disp.Close(ctx)
			return nil, err
		}
		rt.submit = history.NewRecorder(rt.disp, rt.history, logger.With("component", "history"))
	}
	return rt, nil
}

func (rt *runtime) openHistory(ctx context.Context) error {
	db, err := storage.OpenSQLite(ctx, rt.cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history %s: %w", rt.cfg.History.Path, err)
	}
	rt.db = db
	rt.history = history.NewStore(db)
	return nil
}

// Close drains the dispatcher within ctx and closes the history database.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.disp != nil {
		if err := rt.disp.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher: %w", err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// openHistoryOnly opens the job history without starting a dispatcher.
func openHistoryOnly(ctx context.Context, cfg *config.Config) (*history.Store, func() error, error) {
	if !cfg.History.Enabled {
		return nil, nil, errors.New("job history is disabled (history.enabled: false)")
	}
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open history %s: %w", cfg.History.Path, err)
	}
	return history.NewStore(db), db.Close, nil
}
