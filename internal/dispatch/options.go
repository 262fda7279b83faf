package dispatch

import "time"

const (
	DefaultConcurrency    = 2
	DefaultQueueCapacity  = 128
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
)

// Options tunes the worker pool and the retry policy. A zero Concurrency,
// QueueCapacity or MaxAttempts takes the package default; start from
// DefaultOptions to get the stock backoff as well.
type Options struct {
	Concurrency    int
	QueueCapacity  int
	MaxAttempts    int
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts. 0 means uncapped.
	MaxBackoff time.Duration
	// AdmissionWait is how long Submit waits for queue space before
	// rejecting. 0 rejects immediately.
	AdmissionWait time.Duration
}

// DefaultOptions returns the stock dispatcher options.
func DefaultOptions() Options {
	return Options{
		Concurrency:    DefaultConcurrency,
		QueueCapacity:  DefaultQueueCapacity,
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialBackoff < 0 {
		o.InitialBackoff = 0
	}
	if o.MaxBackoff < 0 {
		o.MaxBackoff = 0
	}
	if o.AdmissionWait < 0 {
		o.AdmissionWait = 0
	}
	return o
}
