package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/protocol"
	"github.com/mattjoyce/convoy/internal/workspace"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a plugin.
	maxStderrBytes = 64 * 1024

	// DefaultGracePeriod is how long a plugin gets after SIGTERM before SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	CodePluginError       = "PLUGIN_ERROR"
	CodeProtocolError     = "PROTOCOL_ERROR"
	CodeUnsupportedTarget = "UNSUPPORTED_TARGET"
	CodeMissingOutput     = "MISSING_OUTPUT"
)

// ExecConverter adapts a discovered plugin to converter.Converter by spawning
// its entrypoint once per attempt.
type ExecConverter struct {
	plugin     *Plugin
	workspaces workspace.Manager
	defaults   map[string]any
	grace      time.Duration
	logger     *slog.Logger
}

var _ converter.Converter = (*ExecConverter)(nil)

// ExecOption configures an ExecConverter.
type ExecOption func(*ExecConverter)

// WithWorkspaces gives each attempt a fresh scratch directory.
func WithWorkspaces(m workspace.Manager) ExecOption {
	return func(c *ExecConverter) { c.workspaces = m }
}

// WithDefaultOptions sets options sent to the plugin unless the job overrides them.
func WithDefaultOptions(opts map[string]any) ExecOption {
	return func(c *ExecConverter) { c.defaults = maps.Clone(opts) }
}

// WithGracePeriod overrides the SIGTERM to SIGKILL delay.
func WithGracePeriod(d time.Duration) ExecOption {
	return func(c *ExecConverter) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithLogger sets the logger used for plugin diagnostics.
func WithLogger(l *slog.Logger) ExecOption {
	return func(c *ExecConverter) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewExecConverter wraps p.
func NewExecConverter(p *Plugin, opts ...ExecOption) *ExecConverter {
	c := &ExecConverter{
		plugin: p,
		grace:  DefaultGracePeriod,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("plugin", p.Name)
	return c
}

// Plugin returns the wrapped plugin.
func (c *ExecConverter) Plugin() *Plugin { return c.plugin }

func (c *ExecConverter) Name() string { return c.plugin.Name }

func (c *ExecConverter) SupportedExtensions() []string {
	return append([]string(nil), c.plugin.Extensions...)
}

func (c *ExecConverter) Probe(path string) int {
	return converter.ExtensionScore(path, c.plugin.Extensions, c.plugin.Score)
}

// Convert runs one plugin invocation. Cancellation of ctx terminates the
// subprocess and returns ctx's error; plugin-reported failures come back as
// failed Results.
func (c *ExecConverter) Convert(ctx context.Context, j *job.Job) (*job.Result, error) {
	if !c.plugin.SupportsTarget(j.TargetFormat) {
		return job.Failed(CodeUnsupportedTarget,
			fmt.Sprintf("plugin %s cannot produce %q", c.plugin.Name, j.TargetFormat)), nil
	}

	logger := c.logger.With("job_id", j.ID)
	// Inside the dispatcher ctx carries the job's own log, so plugin output
	// lands next to the attempt records.
	if jobLogger := log.FromContext(ctx, nil); jobLogger != nil {
		logger = jobLogger.With("plugin", c.plugin.Name)
	}
	outputs := converter.OutputPaths(j)
	for _, p := range outputs {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	options := maps.Clone(c.defaults)
	if options == nil {
		options = make(map[string]any)
	}
	maps.Copy(options, j.UserOptions())

	req := &protocol.Request{
		Protocol:     protocol.Version,
		JobID:        j.ID,
		InputPath:    j.InputPath,
		TargetFormat: j.TargetFormat,
		OutputPaths:  outputs,
		Options:      options,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.DeadlineAt = deadline.UTC()
	}

	dir := c.plugin.Path
	if c.workspaces != nil {
		ws, err := c.workspaces.Create(ctx, j.ID)
		if err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
		defer func() {
			if err := c.workspaces.Remove(context.WithoutCancel(ctx), j.ID); err != nil {
				logger.Warn("failed to remove workspace", "error", err)
			}
		}()
		req.WorkspaceDir = ws.Dir
		dir = ws.Dir
	}

	resp, stderr, err := c.spawn(ctx, req, dir, logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var protoErr *protocolError
		if errors.As(err, &protoErr) {
			return job.Failed(CodeProtocolError, withStderr(err.Error(), stderr)), nil
		}
		return nil, err
	}

	for _, entry := range resp.Logs {
		logger.Log(ctx, parseLevel(entry.Level), "plugin log", "message", entry.Message)
	}

	if resp.Status == protocol.StatusError {
		code := resp.ErrorCode
		if code == "" {
			code = CodePluginError
		}
		return job.Failed(code, withStderr(resp.Error, stderr)), nil
	}

	if len(resp.OutputPaths) > 0 {
		outputs = resp.OutputPaths
	}
	for _, p := range outputs {
		if _, err := os.Stat(p); err != nil {
			return job.Failed(CodeMissingOutput,
				fmt.Sprintf("plugin reported success but output %s is missing", p)), nil
		}
	}
	return job.Succeeded(outputs), nil
}

// protocolError marks a plugin that ran but broke the response contract.
type protocolError struct{ err error }

func (e *protocolError) Error() string { return e.err.Error() }
func (e *protocolError) Unwrap() error { return e.err }

// spawn starts the entrypoint, writes req to stdin and decodes the response
// from stdout. When ctx ends the process receives SIGTERM, then SIGKILL after
// the grace period.
func (c *ExecConverter) spawn(ctx context.Context, req *protocol.Request, dir string, logger *slog.Logger) (*protocol.Response, string, error) {
	// Not CommandContext: termination is managed here so plugins get a grace period.
	cmd := exec.Command(c.plugin.Entrypoint)
	cmd.Dir = dir
	// Bounds Wait when a killed plugin leaves children holding stdout open.
	cmd.WaitDelay = c.grace
	cmd.Env = append(os.Environ(), "CONVOY_JOB_ID="+req.JobID, "CONVOY_PLUGIN_DIR="+c.plugin.Path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	logger.Debug("spawning plugin", "entrypoint", c.plugin.Entrypoint, "dir", dir)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Warn("plugin interrupted, sending SIGTERM", "cause", context.Cause(ctx))
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(c.grace)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("plugin exited after SIGTERM")
		case <-grace.C:
			logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			<-waitErr
		}
		return nil, stderr.String(), ctx.Err()

	case err := <-waitErr:
		if werr := <-writeErr; werr != nil {
			return nil, stderr.String(), &protocolError{err: werr}
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderr.String(), fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(raw))
			return nil, stderr.String(), &protocolError{err: fmt.Errorf("decode response: %w", err)}
		}
		return resp, stderr.String(), nil
	}
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

func withStderr(msg, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return msg
	}
	return msg + " (stderr: " + stderr + ")"
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
