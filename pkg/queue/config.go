package queue

import "time"

// Config holds the configuration for queues and their workers
type Config struct {
	Attempts         int           `env:"QUEUE_ATTEMPTS" envDefault:"5"`
	BackoffBase      time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"5s"`
	BackoffMax       time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"1h"`
	JobTimeout       time.Duration `env:"QUEUE_JOB_TIMEOUT" envDefault:"0s"`
	RateLimitMax     int           `env:"QUEUE_RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow  time.Duration `env:"QUEUE_RATE_LIMIT_WINDOW" envDefault:"5s"`
	StalledInterval  time.Duration `env:"QUEUE_STALLED_INTERVAL" envDefault:"30s"`
	MaxStalledCount  int           `env:"QUEUE_MAX_STALLED_COUNT" envDefault:"1"`
	RemoveOnComplete bool          `env:"QUEUE_REMOVE_ON_COMPLETE" envDefault:"true"`

	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	Concurrency     int           `env:"QUEUE_CONCURRENCY" envDefault:"4"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// QueueOptions converts the configuration into per-queue defaults.
func (c Config) QueueOptions() QueueOptions {
	return QueueOptions{
		DefaultAttempts:  c.Attempts,
		DefaultBackoff:   ExponentialBackoff(c.BackoffBase, c.BackoffMax),
		DefaultTimeout:   c.jobTimeout(),
		RateLimit:        RateLimit{Max: c.RateLimitMax, Window: c.RateLimitWindow},
		StalledInterval:  c.StalledInterval,
		MaxStalledCount:  c.MaxStalledCount,
		RemoveOnComplete: c.RemoveOnComplete,
	}
}

// WorkerOptions converts the configuration into worker options.
func (c Config) WorkerOptions() []WorkerOption {
	return []WorkerOption{
		WithConcurrency(c.Concurrency),
		WithPollInterval(c.PollInterval),
		WithLockDuration(c.StalledInterval),
		WithExecutionTimeout(c.jobTimeout()),
	}
}

// jobTimeout is QUEUE_JOB_TIMEOUT, or DefaultDeadlineIntervals stalled
// intervals when it is zero.
func (c Config) jobTimeout() time.Duration {
	if c.JobTimeout > 0 {
		return c.JobTimeout
	}
	return DefaultDeadlineIntervals * c.StalledInterval
}
