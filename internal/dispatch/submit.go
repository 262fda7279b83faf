package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/output"
)

// Submit runs j to completion and returns its terminal Result.
//
// Errors are reserved for submissions that never produce a Result:
// ErrInvalidArgument, fingerprint failures (wrapping the cause) and
// ErrRejected. Every business outcome, including timeouts and converter
// failures, is reported in the Result.
//
// Concurrent submissions with the same content, target format and options
// share a single execution. A caller whose ctx ends while waiting receives a
// CANCELLED Result; the shared execution continues for the other callers and
// is cancelled only once every caller waiting on it has gone.
func (d *Dispatcher) Submit(ctx context.Context, j *job.Job) (job.Result, error) {
	if err := j.Validate(); err != nil {
		return job.Result{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if d.isClosed() {
		d.counters.rejected.Add(1)
		return job.Result{}, fmt.Errorf("%w: %w", ErrRejected, ErrClosed)
	}
	d.counters.submitted.Add(1)

	logger := d.logger.With("job_id", j.ID, "input", j.InputPath, "target", j.TargetFormat)

	fp, err := d.fingerprinter.Fingerprint(ctx, j.InputPath)
	if err != nil {
		return job.Result{}, fmt.Errorf("fingerprint %s: %w", j.InputPath, err)
	}
	j.Fingerprint = fp

	outputs, err := d.resolver.Resolve(j.InputPath, j.TargetFormat)
	if err != nil {
		return job.Result{}, fmt.Errorf("%w: resolve outputs: %w", ErrInvalidArgument, err)
	}
	if len(outputs) == 0 {
		return job.Result{}, fmt.Errorf("%w: no output paths for %s", ErrInvalidArgument, j.InputPath)
	}
	j.SetOutputPaths(outputs)

	if outputsCurrent(j.InputPath, outputs) {
		logger.Info("outputs are current, skipping conversion", "outputs", outputs)
		d.counters.skipped.Add(1)
		d.publishStatus(j, job.StatusSkipped)
		return job.Result{Success: true, OutputPaths: outputs}, nil
	}

	d.counters.pending.Add(1)
	defer d.counters.pending.Add(-1)

	key := dedupKey(j)
	leader := false
	f, ch := d.joinFlight(ctx, key, func(fctx context.Context) (any, error) {
		leader = true
		return d.execute(fctx, j)
	})

	select {
	case res := <-ch:
		d.leaveFlight(key, f, nil)
		if res.Err != nil {
			return job.Result{}, res.Err
		}
		result := res.Val.(job.Result)
		result.OutputPaths = append([]string(nil), result.OutputPaths...)
		if !leader {
			d.counters.coalesced.Add(1)
			logger.Debug("joined in-flight execution", "key", key)
		}
		return result, nil
	case <-ctx.Done():
		logger.Info("stopped waiting for job", "error", context.Cause(ctx))
		d.leaveFlight(key, f, context.Cause(ctx))
		return cancelledResult(ctx, 0), nil
	}
}

// flight is the execution scope shared by every caller coalesced on a key.
// Its context keeps the first caller's values but not its cancellation.
type flight struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	waiters int
}

// joinFlight registers the caller as a waiter on key and attaches it to the
// running execution, starting fn under the flight's context if there is none.
func (d *Dispatcher) joinFlight(ctx context.Context, key string, fn func(context.Context) (any, error)) (*flight, <-chan singleflight.Result) {
	d.flightsMu.Lock()
	defer d.flightsMu.Unlock()
	f, ok := d.flights[key]
	if !ok {
		fctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		d.flights[key] = f
	}
	f.waiters++
	ch := d.inflight.DoChan(key, func() (any, error) {
		defer d.finishFlight(key, f)
		return fn(f.ctx)
	})
	return f, ch
}

// leaveFlight drops one waiter. When the last waiter leaves because its ctx
// ended, the execution is cancelled with that cause and later submissions
// start afresh instead of joining it.
func (d *Dispatcher) leaveFlight(key string, f *flight, cause error) {
	d.flightsMu.Lock()
	defer d.flightsMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	current := d.flights[key] == f
	if current {
		delete(d.flights, key)
	}
	if cause != nil && current {
		d.inflight.Forget(key)
	}
	f.cancel(cause)
}

func (d *Dispatcher) finishFlight(key string, f *flight) {
	d.flightsMu.Lock()
	if d.flights[key] == f {
		delete(d.flights, key)
	}
	d.flightsMu.Unlock()
	f.cancel(nil)
}

// execute admits j and blocks until a worker finishes it. It runs inside the
// singleflight call so the dedup entry lives exactly as long as the execution.
func (d *Dispatcher) execute(ctx context.Context, j *job.Job) (any, error) {
	w := &work{ctx: ctx, job: j, done: make(chan job.Result, 1)}

	d.publishStatus(j, job.StatusQueued)
	cancelled, err := d.admit(ctx, w)
	if err != nil {
		d.counters.rejected.Add(1)
		d.publishStatus(j, job.StatusFailed)
		d.logger.Warn("job rejected", "job_id", j.ID, "error", err)
		return nil, err
	}
	if cancelled != nil {
		d.counters.failed.Add(1)
		d.publishStatus(j, job.StatusFailed)
		return *cancelled, nil
	}
	return <-w.done, nil
}

// admit places w on the queue, waiting up to AdmissionWait for space.
func (d *Dispatcher) admit(ctx context.Context, w *work) (*job.Result, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, fmt.Errorf("%w: %w", ErrRejected, ErrClosed)
	}

	select {
	case d.queue <- w:
		return nil, nil
	default:
	}

	full := fmt.Errorf("%w: queue full (capacity %d)", ErrRejected, d.opts.QueueCapacity)
	if d.opts.AdmissionWait <= 0 {
		return nil, full
	}

	timer := time.NewTimer(d.opts.AdmissionWait)
	defer timer.Stop()

	select {
	case d.queue <- w:
		return nil, nil
	case <-timer.C:
		return nil, full
	case <-d.stopping:
		return nil, fmt.Errorf("%w: %w", ErrRejected, ErrClosed)
	case <-ctx.Done():
		r := cancelledResult(ctx, 0)
		return &r, nil
	}
}

// dedupKey identifies equivalent work: same content, target and user options.
func dedupKey(j *job.Job) string {
	opts := make([]string, 0, len(j.Options))
	for _, kv := range j.SortedOptions() {
		if strings.HasPrefix(kv, "_") {
			continue
		}
		opts = append(opts, kv)
	}
	return j.Fingerprint + ":" + output.NormalizeFormat(j.TargetFormat) + ":" + strings.Join(opts, ";")
}

// outputsCurrent reports whether every output exists and the newest one is
// at least as recent as the input.
func outputsCurrent(input string, outputs []string) bool {
	if len(outputs) == 0 {
		return false
	}
	in, err := os.Stat(input)
	if err != nil {
		return false
	}

	var newest time.Time
	for _, p := range outputs {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			return false
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return !newest.Before(in.ModTime())
}

// cancelledResult classifies a cancelled context as TIMEOUT or CANCELLED.
func cancelledResult(ctx context.Context, timeout time.Duration) job.Result {
	cause := context.Cause(ctx)
	if errors.Is(cause, errJobTimeout) {
		msg := "job timed out"
		if timeout > 0 {
			msg = fmt.Sprintf("job timed out after %v", timeout)
		}
		return job.Result{ErrorCode: job.CodeTimeout, ErrorMessage: msg}
	}
	if cause == nil {
		cause = context.Canceled
	}
	return job.Result{ErrorCode: job.CodeCancelled, ErrorMessage: "job cancelled: " + cause.Error()}
}
