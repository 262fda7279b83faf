// Package dispatch runs conversion jobs against the converter registry.
//
// A Dispatcher accepts submissions from any number of callers (CLI, HTTP API,
// folder watcher) and resolves each one to a single terminal job.Result.
//
// Submission pipeline:
//   - Validate the job (ErrInvalidArgument on empty input or target)
//   - Fingerprint the input content (BLAKE3)
//   - Resolve output paths and inject them under job.OptionOutputPaths
//   - Skip-if-current: every output exists and is not older than the input
//   - Deduplicate on (fingerprint, target format, sorted user options)
//   - Admit onto the bounded queue (ErrRejected when full or closed)
//
// Execution:
//   - A fixed pool of workers drains the queue; one worker owns a job end to end
//   - The highest-scoring converter wins; ties keep registration order
//   - Up to MaxAttempts attempts with exponential backoff between them
//   - One timeout covers the whole job, retries and backoff included
//   - Cancellation (caller, timeout or shutdown) stops retrying immediately
//
// Error handling:
//   - No positive probe → NO_CONVERTER
//   - Timeout elapsed → TIMEOUT
//   - Caller or shutdown cancellation → CANCELLED
//   - Converter error or panic on the last attempt → EXCEPTION
//   - Structured converter failures surface with the converter's own code
//
// Status (queued, running, succeeded, failed, skipped) and attempt numbers are
// published to subscribers registered with OnStatus and OnAttempt. Publishing
// never blocks a worker; each subscriber drains its own buffer in order.
package dispatch
