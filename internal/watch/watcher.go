// Package watch converts files dropped into watched folders.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/output"
)

// DefaultDebounce lets writers finish before a file is submitted.
const DefaultDebounce = 500 * time.Millisecond

// Submitter runs one job to completion.
type Submitter interface {
	Submit(ctx context.Context, j *job.Job) (job.Result, error)
}

// Options configures a Watcher.
type Options struct {
	Dirs         []string
	TargetFormat string
	Debounce     time.Duration
	Timeout      time.Duration
	JobOptions   map[string]any
}

// Watcher submits a conversion for every file created or rewritten in its
// directories. Bursts of events on one path collapse into one submission.
type Watcher struct {
	opts   Options
	target string
	submit Submitter
	logger *slog.Logger

	ready chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func New(opts Options, submit Submitter, logger *slog.Logger) (*Watcher, error) {
	if len(opts.Dirs) == 0 {
		return nil, errors.New("no directories to watch")
	}
	target := output.NormalizeFormat(opts.TargetFormat)
	if target == "" {
		return nil, errors.New("target format is empty")
	}
	if submit == nil {
		return nil, errors.New("submitter is nil")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		opts:   opts,
		target: target,
		submit: submit,
		logger: logger,
		ready:  make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}, nil
}

// Ready is closed once every directory is being watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches until ctx is done, then waits for in-flight submissions.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.opts.Dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create watch dir %s: %w", dir, err)
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.logger.Info("watching directory", "dir", dir, "target_format", w.target)
	}
	close(w.ready)

	defer func() {
		w.stopTimers()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.eligible(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch event overflow; some files may need resubmitting", "error", err)
				continue
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// eligible filters out hidden and temporary files and files already in the
// target format, so converter outputs never feed back in.
func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return output.NormalizeFormat(filepath.Ext(base)) != w.target
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		// A timer that fired while blocked on mu may have been replaced or
		// stopped in the meantime.
		if w.stopped || w.timers[path] != t || ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		delete(w.timers, path)
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		w.convert(ctx, path)
	})
	w.timers[path] = t
}

// stopTimers cancels pending submissions. After it returns no new
// submission starts, so wg.Wait covers everything still running.
func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	w.stopped = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) convert(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	j := job.New(path, w.target)
	if w.opts.Timeout > 0 {
		j.Timeout = w.opts.Timeout
	}
	maps.Copy(j.Options, w.opts.JobOptions)

	logger := w.logger.With("job_id", j.ID, "input", path)
	logger.Debug("submitting watched file")

	res, err := w.submit.Submit(ctx, j)
	switch {
	case err != nil:
		logger.Warn("watched file not submitted", "error", err)
	case res.Success:
		logger.Info("watched file converted", "outputs", res.OutputPaths, "duration", res.Duration)
	default:
		logger.Warn("watched file conversion failed", "error_code", res.ErrorCode, "error", res.ErrorMessage)
	}
}
