package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/log"
)

// attemptLoop invokes conv up to MaxAttempts times under the job timeout.
func (d *Dispatcher) attemptLoop(ctx context.Context, j *job.Job, conv converter.Converter, sink *log.JobSink) job.Result {
	start := time.Now()
	logger := sink.Logger.With("converter", conv.Name())
	ctx = log.IntoContext(ctx, logger)

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, j.Timeout, errJobTimeout)
		defer cancel()
	}

	finalize := func(r job.Result) job.Result {
		r.Duration = time.Since(start)
		if r.LogPath == "" {
			r.LogPath = sink.Path
		}
		return r
	}

	var (
		lastFailure *job.Result
		lastErr     error
	)

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		d.publishAttempt(j, attempt)
		logger.Info("attempt started", "attempt", attempt, "max_attempts", d.opts.MaxAttempts)

		res, err := invoke(ctx, conv, j)
		if err == nil && res == nil {
			err = errors.New("converter returned no result")
		}

		if err == nil && res.Success {
			out := *res
			out.Normalize()
			if len(out.OutputPaths) == 0 {
				out.OutputPaths = j.OutputPaths()
			}
			logger.Info("attempt succeeded", "attempt", attempt, "outputs", out.OutputPaths)
			return finalize(out)
		}

		if ctx.Err() != nil {
			r := cancelledResult(ctx, j.Timeout)
			logger.Warn("attempt interrupted", "attempt", attempt, "error_code", r.ErrorCode, "error", r.ErrorMessage)
			return finalize(r)
		}

		if err != nil {
			lastErr = err
			logger.Error("attempt raised an error", "attempt", attempt, "error", err)
		} else {
			failure := *res
			failure.Normalize()
			lastFailure = &failure
			logger.Warn("attempt failed", "attempt", attempt,
				"error_code", failure.ErrorCode, "error", failure.ErrorMessage)
		}

		if attempt == d.opts.MaxAttempts {
			break
		}

		delay := d.backoff.Delay(attempt)
		logger.Debug("backing off", "attempt", attempt, "delay", delay)
		if !sleep(ctx, delay) {
			// Ends the loop like an exhausted budget: the last failure is reported.
			logger.Warn("cancelled during backoff", "attempt", attempt, "cause", context.Cause(ctx))
			break
		}
	}

	switch {
	case lastFailure != nil:
		return finalize(*lastFailure)
	case lastErr != nil:
		return finalize(job.Result{ErrorCode: job.CodeException, ErrorMessage: lastErr.Error()})
	default:
		return finalize(job.Result{ErrorCode: job.CodeFailed, ErrorMessage: "conversion failed"})
	}
}

// invoke calls the converter, turning a panic into an error.
func invoke(ctx context.Context, conv converter.Converter, j *job.Job) (res *job.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("converter %s panicked: %v", conv.Name(), r)
		}
	}()
	return conv.Convert(ctx, j)
}

// sleep waits for delay and reports false if ctx ended first.
func sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
