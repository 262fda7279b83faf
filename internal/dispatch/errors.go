package dispatch

import "errors"

var (
	// ErrInvalidArgument marks submissions that fail validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRejected is returned when the job could not be admitted.
	ErrRejected = errors.New("dispatcher rejected job")

	// ErrClosed accompanies ErrRejected once Close has been called.
	ErrClosed = errors.New("dispatcher closed")
)

// errJobTimeout is the cancellation cause recorded when a job's timeout fires.
var errJobTimeout = errors.New("job timeout elapsed")
