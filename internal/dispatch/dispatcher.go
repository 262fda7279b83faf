package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/convoy/internal/backoff"
	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/log"
)

// Fingerprinter computes the content identity of an input file.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (string, error)
}

// OutputResolver maps an input and target format to its output paths.
type OutputResolver interface {
	Resolve(inputPath, targetFormat string) ([]string, error)
}

// JobLogFactory opens the dedicated log for a job.
type JobLogFactory interface {
	Create(jobID string) (*log.JobSink, error)
}

// Dependencies are the collaborators a Dispatcher needs. JobLogs, Logger and
// Backoff are optional.
type Dependencies struct {
	Registry      *converter.Registry
	Fingerprinter Fingerprinter
	Resolver      OutputResolver
	JobLogs       JobLogFactory
	Logger        *slog.Logger
	// Backoff overrides the exponential strategy derived from Options.
	Backoff backoff.Strategy
}

// Dispatcher accepts conversion jobs and runs them on a bounded worker pool.
type Dispatcher struct {
	opts          Options
	registry      *converter.Registry
	fingerprinter Fingerprinter
	resolver      OutputResolver
	jobLogs       JobLogFactory
	backoff       backoff.Strategy
	logger        *slog.Logger

	inflight  singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight

	mu       sync.RWMutex
	closed   bool
	queue    chan *work
	stopping chan struct{}
	wg       sync.WaitGroup

	// baseCtx is cancelled when Close gives up waiting for active jobs.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	closeOnce  sync.Once
	closeErr   error

	statuses *fanout[statusEvent]
	attempts *fanout[attemptEvent]

	counters counters
}

// New validates the dependencies and starts opts.Concurrency workers.
func New(deps Dependencies, opts Options) (*Dispatcher, error) {
	if deps.Registry == nil {
		return nil, errors.New("dispatch: converter registry is required")
	}
	if deps.Fingerprinter == nil {
		return nil, errors.New("dispatch: fingerprinter is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("dispatch: output resolver is required")
	}

	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	strategy := deps.Backoff
	if strategy == nil {
		strategy = backoff.NewExponential(opts.InitialBackoff, opts.MaxBackoff)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:          opts,
		registry:      deps.Registry,
		fingerprinter: deps.Fingerprinter,
		resolver:      deps.Resolver,
		jobLogs:       deps.JobLogs,
		backoff:       strategy,
		logger:        logger,
		queue:         make(chan *work, opts.QueueCapacity),
		stopping:      make(chan struct{}),
		flights:       make(map[string]*flight),
		baseCtx:       baseCtx,
		cancelBase:    cancel,
	}
	d.statuses = newFanout[statusEvent](&d.counters.dropped, logger)
	d.attempts = newFanout[attemptEvent](&d.counters.dropped, logger)

	for i := 0; i < opts.Concurrency; i++ {
		d.wg.Add(1)
		go d.worker(i + 1)
	}

	logger.Info("dispatcher started",
		"concurrency", opts.Concurrency,
		"queue_capacity", opts.QueueCapacity,
		"max_attempts", opts.MaxAttempts,
		"initial_backoff", opts.InitialBackoff,
		"converters", deps.Registry.Len(),
	)
	return d, nil
}

// Options returns the effective options after defaults.
func (d *Dispatcher) Options() Options { return d.opts }

// Registry returns the converter registry the dispatcher selects from.
func (d *Dispatcher) Registry() *converter.Registry { return d.registry }

// Close stops admission and waits for queued and running jobs to finish. If
// ctx ends first, active jobs are cancelled (they report CANCELLED) and
// ctx's error is returned once the workers have exited.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		close(d.stopping)

		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			d.logger.Warn("shutdown deadline reached, cancelling active jobs", "error", ctx.Err())
			d.cancelBase()
			<-drained
			d.closeErr = ctx.Err()
		}
		d.cancelBase()

		d.statuses.close(ctx)
		d.attempts.close(ctx)
		d.logger.Info("dispatcher stopped")
	})
	return d.closeErr
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

type counters struct {
	submitted atomic.Int64
	pending   atomic.Int64
	coalesced atomic.Int64
	skipped   atomic.Int64
	running   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64
}

// Stats is a point-in-time snapshot of dispatcher activity.
type Stats struct {
	Submitted int64 `json:"submitted"`
	// Pending counts Submit calls currently waiting for a result, coalesced
	// waiters included.
	Pending              int64 `json:"pending"`
	Coalesced            int64 `json:"coalesced"`
	Skipped              int64 `json:"skipped"`
	Queued               int   `json:"queued"`
	Running              int64 `json:"running"`
	Succeeded            int64 `json:"succeeded"`
	Failed               int64 `json:"failed"`
	Rejected             int64 `json:"rejected"`
	DroppedNotifications int64 `json:"dropped_notifications"`
	Closed               bool  `json:"closed"`
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:            d.counters.submitted.Load(),
		Pending:              d.counters.pending.Load(),
		Coalesced:            d.counters.coalesced.Load(),
		Skipped:              d.counters.skipped.Load(),
		Queued:               len(d.queue),
		Running:              d.counters.running.Load(),
		Succeeded:            d.counters.succeeded.Load(),
		Failed:               d.counters.failed.Load(),
		Rejected:             d.counters.rejected.Load(),
		DroppedNotifications: d.counters.dropped.Load(),
		Closed:               d.isClosed(),
	}
}
