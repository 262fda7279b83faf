package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/convoy/internal/job"
)

// optionFlags collects repeated --opt key=value pairs.
type optionFlags map[string]any

func (o optionFlags) String() string {
	parts := make([]string, 0, len(o))
	for k, v := range o {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (o optionFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("option %q must be key=value", v)
	}
	if strings.HasPrefix(key, "_") {
		return fmt.Errorf("option %q uses a reserved prefix", key)
	}
	o[key] = value
	return nil
}

type convertOutcome struct {
	Input  string     `json:"input"`
	JobID  string     `json:"job_id"`
	Result job.Result `json:"result"`
	Err    string     `json:"error,omitempty"`
}

func (o convertOutcome) failed() bool {
	return o.Err != "" || !o.Result.Success
}

func runConvert(args []string) int {
	fs := newFlagSet("convert")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	target := fs.String("to", "", "Target format, e.g. html, md, pdf")
	timeout := fs.Duration("timeout", 0, "Per-job timeout (default from config)")
	priority := fs.Int("priority", 0, "Priority recorded with each job")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	verbose := fs.Bool("verbose", false, "Log at the configured level instead of warnings only")
	opts := optionFlags{}
	fs.Var(opts, "opt", "Converter option key=value (repeatable)")

	files, err := parseInterspersed(fs, args)
	if err != nil {
		return flagError(err)
	}
	if len(files) == 0 || strings.TrimSpace(*target) == "" {
		fmt.Fprintln(stderr, "Usage: convoy convert <file>... --to <format> [--timeout d] [--opt k=v] [--config path] [--json]")
		return 1
	}
	if *timeout < 0 {
		fmt.Fprintln(stderr, "--timeout must not be negative")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger := cliLogger(cfg, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger, true)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to start dispatcher: %v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	jobTimeout := cfg.Dispatch.DefaultTimeout
	if *timeout > 0 {
		jobTimeout = *timeout
	}

	outcomes := make([]convertOutcome, len(files))
	var g errgroup.Group
	for i, file := range files {
		input := file
		if abs, err := filepath.Abs(file); err == nil {
			input = abs
		}
		j := job.New(input, *target)
		j.Priority = *priority
		if jobTimeout > 0 {
			j.Timeout = jobTimeout
		}
		for k, v := range opts {
			j.Options[k] = v
		}
		outcomes[i] = convertOutcome{Input: file, JobID: j.ID}

		g.Go(func() error {
			res, err := rt.submit.Submit(ctx, j)
			outcomes[i].Result = res
			if err != nil {
				outcomes[i].Err = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.failed() {
			failed++
		}
	}

	if *jsonOut {
		if code := printJSON(outcomes); code != 0 {
			return code
		}
	} else {
		fmt.Fprintln(stdout, renderOutcomes(outcomes))
		fmt.Fprintf(stdout, "%d converted, %d failed\n", len(outcomes)-failed, failed)
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func renderOutcomes(outcomes []convertOutcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		status := job.StatusSucceeded
		detail := strings.Join(o.Result.OutputPaths, ", ")
		if o.failed() {
			status = job.StatusFailed
			detail = o.Err
			if detail == "" {
				detail = o.Result.ErrorCode + ": " + o.Result.ErrorMessage
			}
		}
		rows = append(rows, []string{
			o.Input,
			renderStatus(status),
			formatDuration(o.Result.Duration),
			detail,
		})
	}
	return renderTable(
		[]string{"INPUT", "STATUS", "DURATION", "OUTPUT / ERROR"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
