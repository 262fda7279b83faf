package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/convoy/internal/job"
)

// subscriberBuffer is the per-subscriber backlog before notifications drop.
const subscriberBuffer = 256

type statusEvent struct {
	job    *job.Job
	status job.Status
}

type attemptEvent struct {
	job     *job.Job
	attempt int
}

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
}

// fanout delivers values to subscribers without ever blocking the publisher.
type fanout[T any] struct {
	mu      sync.Mutex
	subs    map[uint64]*subscriber[T]
	nextID  uint64
	closed  bool
	dropped *atomic.Int64
	logger  *slog.Logger
}

func newFanout[T any](dropped *atomic.Int64, logger *slog.Logger) *fanout[T] {
	return &fanout[T]{
		subs:    make(map[uint64]*subscriber[T]),
		dropped: dropped,
		logger:  logger,
	}
}

func (f *fanout[T]) subscribe(fn func(T)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || fn == nil {
		return func() {}
	}

	f.nextID++
	id := f.nextID
	sub := &subscriber[T]{ch: make(chan T, subscriberBuffer), done: make(chan struct{})}
	f.subs[id] = sub

	go func() {
		defer close(sub.done)
		for v := range sub.ch {
			f.deliver(fn, v)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if s, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(s.ch)
			}
		})
	}
}

func (f *fanout[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("notification subscriber panicked", "panic", r)
		}
	}()
	fn(v)
}

func (f *fanout[T]) publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.ch <- v:
		default:
			f.dropped.Add(1)
		}
	}
}

// close stops all subscribers and waits for their backlogs to drain or ctx to end.
func (f *fanout[T]) close(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*subscriber[T], 0, len(f.subs))
	for id, sub := range f.subs {
		close(sub.ch)
		subs = append(subs, sub)
		delete(f.subs, id)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
		case <-ctx.Done():
			return
		}
	}
}

// OnStatus registers fn for every status transition. The returned function
// unsubscribes; it is safe to call more than once.
func (d *Dispatcher) OnStatus(fn func(*job.Job, job.Status)) func() {
	if fn == nil {
		return func() {}
	}
	return d.statuses.subscribe(func(e statusEvent) { fn(e.job, e.status) })
}

// OnAttempt registers fn for the start of every attempt (1-indexed).
func (d *Dispatcher) OnAttempt(fn func(*job.Job, int)) func() {
	if fn == nil {
		return func() {}
	}
	return d.attempts.subscribe(func(e attemptEvent) { fn(e.job, e.attempt) })
}

func (d *Dispatcher) publishStatus(j *job.Job, status job.Status) {
	d.statuses.publish(statusEvent{job: j, status: status})
}

func (d *Dispatcher) publishAttempt(j *job.Job, attempt int) {
	d.attempts.publish(attemptEvent{job: j, attempt: attempt})
}
