package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	concurrency    int
	pollInterval   time.Duration
	lockDuration   time.Duration
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// WithConcurrency sets how many jobs the worker runs at once
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPollInterval sets how long the worker waits after finding no ready job
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLockDuration sets how long a claim stays valid without a heartbeat.
// Defaults to the queue's stalled interval.
func WithLockDuration(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.lockDuration = d
		}
	}
}

// WithExecutionTimeout sets the deadline for jobs whose queue and submission set none
func WithExecutionTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithWorkerLogger sets a custom logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
