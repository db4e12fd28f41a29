package queue

import (
	"fmt"
	"time"
)

// DefaultDeadlineIntervals is how many stalled intervals a job may run when
// neither the job, the queue nor the worker sets a deadline.
const DefaultDeadlineIntervals = 10

// RateLimit caps how many jobs may start within any rolling Window.
// A zero Max disables limiting.
type RateLimit struct {
	Max    int           `json:"max"`
	Window time.Duration `json:"window"`
}

// Enabled reports whether the limit restricts anything.
func (r RateLimit) Enabled() bool {
	return r.Max > 0 && r.Window > 0
}

// QueueOptions are the per-queue defaults applied to every submitted job.
// The struct is comparable so a repeated registration can be checked for equality.
type QueueOptions struct {
	DefaultAttempts  int
	DefaultBackoff   Backoff
	DefaultTimeout   time.Duration
	RateLimit        RateLimit
	StalledInterval  time.Duration
	MaxStalledCount  int
	RemoveOnComplete bool
}

// DefaultQueueOptions returns the baseline every queue starts from.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		DefaultAttempts:  5,
		DefaultBackoff:   ExponentialBackoff(5*time.Second, DefaultBackoffCap),
		RateLimit:        RateLimit{Max: 100, Window: 5 * time.Second},
		StalledInterval:  30 * time.Second,
		MaxStalledCount:  1,
		RemoveOnComplete: true,
	}
}

// Validate checks the options against their bounds.
func (o QueueOptions) Validate() error {
	if o.DefaultAttempts < 1 {
		return fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidOptions, o.DefaultAttempts)
	}
	if err := o.DefaultBackoff.Validate(); err != nil {
		return err
	}
	if o.DefaultTimeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidOptions)
	}
	if o.RateLimit.Max < 0 || o.RateLimit.Window < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidOptions)
	}
	if o.RateLimit.Max > 0 && o.RateLimit.Window == 0 {
		return fmt.Errorf("%w: rate limit window is required when max is set", ErrInvalidOptions)
	}
	if o.StalledInterval <= 0 {
		return fmt.Errorf("%w: stalled interval must be positive", ErrInvalidOptions)
	}
	if o.MaxStalledCount < 0 {
		return fmt.Errorf("%w: max stalled count must not be negative", ErrInvalidOptions)
	}
	return nil
}

// QueueOption is a functional option for configuring a Queue
type QueueOption func(*QueueOptions)

// WithQueueOptions replaces all options at once, e.g. with values loaded from Config.
func WithQueueOptions(opts QueueOptions) QueueOption {
	return func(o *QueueOptions) {
		*o = opts
	}
}

// WithDefaultAttempts sets how many executions a job gets before it fails terminally
func WithDefaultAttempts(n int) QueueOption {
	return func(o *QueueOptions) {
		o.DefaultAttempts = n
	}
}

// WithDefaultBackoff sets the retry backoff for jobs without their own
func WithDefaultBackoff(b Backoff) QueueOption {
	return func(o *QueueOptions) {
		o.DefaultBackoff = b
	}
}

// WithDefaultTimeout sets the execution deadline for jobs without their own
func WithDefaultTimeout(d time.Duration) QueueOption {
	return func(o *QueueOptions) {
		o.DefaultTimeout = d
	}
}

// WithRateLimit caps job starts to max per rolling window across all workers
func WithRateLimit(maxJobs int, window time.Duration) QueueOption {
	return func(o *QueueOptions) {
		o.RateLimit = RateLimit{Max: maxJobs, Window: window}
	}
}

// WithoutRateLimit disables the throughput ceiling
func WithoutRateLimit() QueueOption {
	return func(o *QueueOptions) {
		o.RateLimit = RateLimit{}
	}
}

// WithStalledInterval sets how long an active job may go without a heartbeat
// and how often the stalled monitor checks
func WithStalledInterval(d time.Duration) QueueOption {
	return func(o *QueueOptions) {
		o.StalledInterval = d
	}
}

// WithMaxStalledCount sets how many stalls a job survives before it fails
func WithMaxStalledCount(n int) QueueOption {
	return func(o *QueueOptions) {
		o.MaxStalledCount = n
	}
}

// WithRemoveOnComplete controls whether completed jobs are deleted
func WithRemoveOnComplete(remove bool) QueueOption {
	return func(o *QueueOptions) {
		o.RemoveOnComplete = remove
	}
}

// SubmitOption is a functional option for the Submit method
type SubmitOption func(*submitOptions)

type submitOptions struct {
	id       string
	delay    time.Duration
	runAt    *time.Time
	attempts int
	backoff  *Backoff
	timeout  time.Duration
}

// WithDelay postpones execution by at least d.
func WithDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithRunAt postpones execution until at least t. It takes precedence over WithDelay.
func WithRunAt(t time.Time) SubmitOption {
	return func(o *submitOptions) {
		o.runAt = &t
	}
}

// WithAttempts overrides the queue's default attempts for one job
func WithAttempts(n int) SubmitOption {
	return func(o *submitOptions) {
		o.attempts = n
	}
}

// WithBackoff overrides the queue's default backoff for one job
func WithBackoff(b Backoff) SubmitOption {
	return func(o *submitOptions) {
		o.backoff = &b
	}
}

// WithTimeout sets the execution deadline for one job
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithJobID sets a caller-chosen id. Submitting the same id twice fails with ErrJobExists,
// which lets retried producers stay idempotent.
func WithJobID(id string) SubmitOption {
	return func(o *submitOptions) {
		if id != "" {
			o.id = id
		}
	}
}
