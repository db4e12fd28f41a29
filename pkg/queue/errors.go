package queue

import "errors"

// Common errors
var (
	// ErrBrokerNil is returned when a nil broker is provided
	ErrBrokerNil = errors.New("broker cannot be nil")

	// ErrBrokerUnavailable is returned when the broker cannot be reached while a queue
	// is being constructed. The process must not start accepting work after this.
	ErrBrokerUnavailable = errors.New("queue broker is unavailable")

	// ErrQueueNil is returned when a worker or monitor is created without a queue
	ErrQueueNil = errors.New("queue cannot be nil")

	// ErrQueueNameEmpty is returned when a queue is requested without a name
	ErrQueueNameEmpty = errors.New("queue name cannot be empty")

	// ErrQueueConfigMismatch is returned when a queue name is re-requested with options
	// that differ from the ones it was first configured with
	ErrQueueConfigMismatch = errors.New("queue already configured with different options")

	// ErrInvalidOptions is returned when queue or submit options violate their bounds
	ErrInvalidOptions = errors.New("invalid queue options")

	// ErrJobTypeEmpty is returned when submitting a job without a type
	ErrJobTypeEmpty = errors.New("job type cannot be empty")

	// ErrPayloadNil is returned when attempting to submit a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrPayloadDecode is returned by typed handlers when a payload does not match their type
	ErrPayloadDecode = errors.New("failed to decode job payload")

	// ErrSubmit is returned when the broker rejects a submission
	ErrSubmit = errors.New("failed to submit job")

	// ErrNoJobReady is returned by Claim when no job is ready to run
	ErrNoJobReady = errors.New("no job ready to claim")

	// ErrJobNotFound is returned when a job id is unknown to the broker
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when a job with the same id was already submitted
	ErrJobExists = errors.New("job already exists")

	// ErrJobActive is returned when removing a job that a worker has already claimed
	ErrJobActive = errors.New("job is active and cannot be removed")

	// ErrJobState is returned when an operation is not allowed in the job's current state
	ErrJobState = errors.New("operation not allowed in current job state")

	// ErrLockLost is returned when a worker no longer owns the job it tries to transition
	ErrLockLost = errors.New("job lock lost")

	// ErrJobStalled is recorded as the failure reason of jobs that stalled too often
	ErrJobStalled = errors.New("job stalled more than allowable limit")

	// ErrHandlerNotFound is returned when no handler is registered for a job type
	ErrHandlerNotFound = errors.New("no handler registered for job type")

	// ErrHandlerExists is returned when a second handler is registered for a job type
	ErrHandlerExists = errors.New("handler already registered for job type")

	// ErrRegistryFrozen is returned when registering handlers after a worker started
	ErrRegistryFrozen = errors.New("handler registry is frozen")

	// ErrNoHandlers is returned when a worker has no handlers registered
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrWorkerStarted is returned when starting a running worker
	ErrWorkerStarted = errors.New("worker already started")

	// ErrWorkerNotStarted is returned when stopping a worker that is not running
	ErrWorkerNotStarted = errors.New("worker not started")

	// ErrJobTimeout is reported when a handler exceeds its execution deadline
	ErrJobTimeout = errors.New("job execution timed out")
)

// permanentError marks a handler failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker fails the job immediately instead of retrying it.
// Use it for errors that no amount of retrying can fix, such as a malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
