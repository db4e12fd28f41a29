package queue

import (
	"context"
	"time"
)

// ProducerBroker defines the broker operations used by producers and operators
type ProducerBroker interface {
	// Ping verifies the broker is reachable
	Ping(ctx context.Context) error

	// Enqueue persists a new job. A duplicate id yields ErrJobExists.
	Enqueue(ctx context.Context, job *Job) error

	// Get returns a job by id with its effective state
	Get(ctx context.Context, id string) (*Job, error)

	// Remove deletes a job that is not active
	Remove(ctx context.Context, id string) error

	// Requeue moves a failed job back to waiting with a fresh attempt budget
	Requeue(ctx context.Context, id string) error

	// Counts returns the number of jobs per state in a queue
	Counts(ctx context.Context, queue string) (map[JobState]int64, error)

	// List returns up to limit jobs of a queue in the given state
	List(ctx context.Context, queue string, state JobState, limit int) ([]*Job, error)
}

// ConsumerBroker defines the broker operations used by workers and the stalled monitor.
// Every transition of an active job is guarded by the lock token handed out by Claim;
// a mismatch yields ErrLockLost.
type ConsumerBroker interface {
	// Claim atomically moves the earliest ready job of a queue to active,
	// increments its attempts and locks it for lockFor. Returns ErrNoJobReady
	// when nothing is ready.
	Claim(ctx context.Context, queue, token string, lockFor time.Duration) (*Job, error)

	// Heartbeat extends the lock of an active job
	Heartbeat(ctx context.Context, id, token string, lockFor time.Duration) error

	// Complete marks an active job completed, or deletes it when remove is set
	Complete(ctx context.Context, id, token string, remove bool) error

	// Retry returns an active job to waiting, runnable no earlier than runAt
	Retry(ctx context.Context, id, token string, runAt time.Time, errMsg string) error

	// Fail moves an active job to failed
	Fail(ctx context.Context, id, token string, errMsg string) error

	// RecoverStalled handles every active job of a queue whose lock expired:
	// the stalled count is incremented and the job returns to waiting with its
	// attempt refunded, or fails once it stalled more than maxStalled times.
	// The returned jobs carry their new state.
	RecoverStalled(ctx context.Context, queue string, maxStalled int) ([]*Job, error)
}

// Broker is the full persistence contract
type Broker interface {
	ProducerBroker
	ConsumerBroker
}
