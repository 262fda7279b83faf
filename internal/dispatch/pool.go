package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/log"
)

// work is one admitted execution. ctx belongs to the submitter that started it.
type work struct {
	ctx  context.Context
	job  *job.Job
	done chan job.Result
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	logger := d.logger.With("worker", id)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for w := range d.queue {
		w.done <- d.run(w)
	}
}

// run executes one job end to end and publishes its terminal status.
func (d *Dispatcher) run(w *work) (res job.Result) {
	j := w.job
	start := time.Now()
	d.counters.running.Add(1)
	defer d.counters.running.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job execution panicked", "job_id", j.ID, "panic", r)
			res = job.Result{
				ErrorCode:    job.CodeException,
				ErrorMessage: fmt.Sprintf("dispatcher panic: %v", r),
				Duration:     time.Since(start),
			}
		}
		d.finish(j, res)
	}()

	execCtx, cancel := context.WithCancelCause(w.ctx)
	defer cancel(nil)
	stop := context.AfterFunc(d.baseCtx, func() { cancel(ErrClosed) })
	defer stop()

	if execCtx.Err() != nil {
		return cancelledResult(execCtx, j.Timeout)
	}

	d.publishStatus(j, job.StatusRunning)

	conv, score, ok := d.registry.Select(j.InputPath, d.logger)
	if !ok {
		ext := converter.Extension(j.InputPath)
		if ext == "" {
			ext = "(none)"
		}
		return job.Result{
			ErrorCode:    job.CodeNoConverter,
			ErrorMessage: "no converter available for " + ext,
			Duration:     time.Since(start),
		}
	}

	sink := d.openJobLog(j)
	defer func() {
		if err := sink.Close(); err != nil {
			d.logger.Warn("failed to close job log", "job_id", j.ID, "error", err)
		}
	}()
	sink.Logger.Info("converter selected", "converter", conv.Name(), "score", score,
		"input", j.InputPath, "target", j.TargetFormat, "fingerprint", j.Fingerprint)

	return d.attemptLoop(execCtx, j, conv, sink)
}

func (d *Dispatcher) finish(j *job.Job, res job.Result) {
	logger := d.logger.With("job_id", j.ID, "duration", res.Duration)
	if res.Success {
		d.counters.succeeded.Add(1)
		logger.Info("job succeeded", "outputs", res.OutputPaths)
		d.publishStatus(j, job.StatusSucceeded)
		return
	}
	d.counters.failed.Add(1)
	logger.Warn("job failed", "error_code", res.ErrorCode, "error", res.ErrorMessage)
	d.publishStatus(j, job.StatusFailed)
}

// openJobLog falls back to the dispatcher logger when no per-job file can be opened.
func (d *Dispatcher) openJobLog(j *job.Job) *log.JobSink {
	if d.jobLogs != nil {
		sink, err := d.jobLogs.Create(j.ID)
		if err == nil {
			return sink
		}
		d.logger.Warn("failed to open job log", "job_id", j.ID, "error", err)
	}
	return &log.JobSink{Logger: d.logger.With("job_id", j.ID)}
}
