package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Worker claims ready jobs from one queue and runs their handlers.
// Any number of workers, in any number of processes, may serve the same queue.
type Worker struct {
	queue    *Queue
	registry *Registry
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	// Configuration
	pollInterval   time.Duration
	lockDuration   time.Duration
	defaultTimeout time.Duration
	logger         *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
	stopping atomic.Bool
}

// NewWorker creates a worker for q dispatching through registry
func NewWorker(q *Queue, registry *Registry, opts ...WorkerOption) (*Worker, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	if registry == nil {
		return nil, ErrNoHandlers
	}

	options := &workerOptions{
		concurrency:  1,
		pollInterval: time.Second,
		lockDuration: q.opts.StalledInterval,
		logger:       q.logger,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.defaultTimeout <= 0 {
		options.defaultTimeout = DefaultDeadlineIntervals * q.opts.StalledInterval
	}

	return &Worker{
		queue:          q,
		registry:       registry,
		workerID:       uuid.New(),
		sem:            make(chan struct{}, options.concurrency),
		pollInterval:   options.pollInterval,
		lockDuration:   options.lockDuration,
		defaultTimeout: options.defaultTimeout,
		logger:         options.logger,
		wake:           make(chan struct{}, 1),
	}, nil
}

// Start begins processing jobs in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrWorkerStarted
	}
	if w.registry.Len() == 0 {
		return ErrNoHandlers
	}
	w.registry.freeze()

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.stopping.Store(false)

	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.String("queue", w.queue.name),
		slog.Any("job_types", w.registry.Types()),
		slog.Int("concurrency", cap(w.sem)))

	return nil
}

// Stop stops claiming new jobs and waits for running ones to finish
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}

	// Use stopMu to synchronize with run() goroutine
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("worker stopping, waiting for active jobs to complete",
		slog.String("worker_id", w.workerID.String()))

	w.wg.Wait()

	w.logger.Info("worker stopped",
		slog.String("worker_id", w.workerID.String()))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the main claim loop
func (w *Worker) run() {
	defer close(w.done)

	for {
		// Wait for a free slot
		select {
		case <-w.ctx.Done():
			return
		case w.sem <- struct{}{}:
		}

		wait, ok := w.dispatch()
		if !ok {
			return
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatch claims one job for the slot the caller acquired and starts it.
// It returns how long to wait before the next claim, and false once the worker stops.
func (w *Worker) dispatch() (time.Duration, bool) {
	// Use stopMu to ensure we don't add to WaitGroup after Stop() starts
	w.stopMu.Lock()
	if w.stopping.Load() {
		w.stopMu.Unlock()
		<-w.sem
		return 0, false
	}
	w.wg.Add(1)
	w.stopMu.Unlock()

	release := func() {
		<-w.sem
		w.wg.Done()
	}

	var reservation string
	if limiter := w.queue.limiter; limiter != nil {
		res, err := limiter.Allow(w.ctx, w.limiterKey())
		if err != nil {
			release()
			w.logger.Error("rate limiter check failed",
				slog.String("worker_id", w.workerID.String()),
				slog.String("error", err.Error()))
			return w.pollInterval, true
		}
		if !res.Allowed {
			release()
			w.logger.Debug("rate limit reached, waiting",
				slog.String("worker_id", w.workerID.String()),
				slog.Duration("retry_after", res.RetryAfter))
			return res.RetryAfter, true
		}
		reservation = res.Reservation
	}

	token := uuid.NewString()
	job, err := w.queue.broker.Claim(w.ctx, w.queue.name, token, w.lockDuration)
	if err != nil {
		w.releaseReservation(reservation)
		release()

		if errors.Is(err, ErrNoJobReady) || errors.Is(err, context.Canceled) {
			return w.pollInterval, true
		}
		w.logger.Error("failed to claim job",
			slog.String("worker_id", w.workerID.String()),
			slog.String("error", err.Error()))
		return w.pollInterval, true
	}

	w.logger.Debug("claimed job",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.AttemptsMade))

	go func() {
		defer w.signalWake()
		defer release()
		w.process(job, token)
	}()

	return 0, true
}

// signalWake cuts the current poll wait short after a job finishes
func (w *Worker) signalWake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) releaseReservation(reservation string) {
	if reservation == "" {
		return
	}
	ctx := context.WithoutCancel(w.ctx)
	if err := w.queue.limiter.Release(ctx, w.limiterKey(), reservation); err != nil {
		w.logger.Warn("failed to release rate limit reservation",
			slog.String("worker_id", w.workerID.String()),
			slog.String("error", err.Error()))
	}
}

func (w *Worker) limiterKey() string {
	return "queue:" + w.queue.name
}

// process runs a claimed job and records its outcome
func (w *Worker) process(job *Job, token string) {
	// Transitions must land even while the worker is shutting down
	ctx := context.WithoutCancel(w.ctx)

	w.queue.publish(job, EventActive, nil)

	handler, err := w.registry.Resolve(job.Type)
	if err != nil {
		w.handleMissingHandler(ctx, job, token, err)
		return
	}

	timeout := w.jobTimeout(job)

	// Heartbeats end with the deadline, so a handler that never returns lets the
	// lock lapse and the stalled monitor takes the job back.
	hbCtx, stopHeartbeat := context.WithTimeout(ctx, timeout)
	go w.heartbeat(hbCtx, job, token)

	start := time.Now()
	execErr := w.execute(ctx, handler, job, timeout)
	duration := time.Since(start)
	stopHeartbeat()

	if execErr != nil {
		w.handleJobFailure(ctx, job, token, execErr, duration)
		return
	}
	w.handleJobSuccess(ctx, job, token, duration)
}

func (w *Worker) jobTimeout(job *Job) time.Duration {
	if job.Timeout > 0 {
		return job.Timeout
	}
	return w.defaultTimeout
}

// execute calls the handler under the job deadline and waits for it to return.
// A handler that outlives its deadline keeps the slot and the claim; its result
// is recorded as a timeout once it finally returns.
func (w *Worker) execute(ctx context.Context, handler Handler, job *Job, timeout time.Duration) error {
	hctx, cancel := context.WithTimeout(WithJobInfo(ctx, jobInfo(job)), timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		// Add panic recovery
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("handler panicked",
					slog.String("worker_id", w.workerID.String()),
					slog.String("job_id", job.ID),
					slog.String("job_type", job.Type),
					slog.Any("panic", r))
				result <- fmt.Errorf("panic in handler: %v", r)
			}
		}()
		result <- handler.Handle(hctx, job.Payload)
	}()

	select {
	case err := <-result:
		if err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrJobTimeout, timeout, err)
		}
		return err
	case <-hctx.Done():
	}

	w.logger.Warn("job passed its deadline, waiting for handler to return",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Duration("timeout", timeout))

	if err := <-result; err != nil {
		return fmt.Errorf("%w after %s: %w", ErrJobTimeout, timeout, err)
	}
	return fmt.Errorf("%w after %s", ErrJobTimeout, timeout)
}

// heartbeat extends the claim while the handler runs
func (w *Worker) heartbeat(ctx context.Context, job *Job, token string) {
	interval := max(w.lockDuration/2, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.broker.Heartbeat(ctx, job.ID, token, w.lockDuration)
			switch {
			case err == nil:
			case errors.Is(err, ErrLockLost):
				w.logger.Warn("job lock lost during execution",
					slog.String("worker_id", w.workerID.String()),
					slog.String("job_id", job.ID),
					slog.String("job_type", job.Type))
				return
			case ctx.Err() != nil:
				return
			default:
				w.logger.Error("failed to extend job lock",
					slog.String("worker_id", w.workerID.String()),
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// handleMissingHandler fails jobs that have no registered handler.
// Retrying cannot help until a handler is deployed; operators can retry the job then.
func (w *Worker) handleMissingHandler(ctx context.Context, job *Job, token string, err error) {
	w.logger.Error("no handler registered for job type",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type))

	if !w.transition(job, "fail", w.queue.broker.Fail(ctx, job.ID, token, err.Error())) {
		return
	}
	w.queue.publish(job, EventFailed, func(ev *Event) { ev.Err = err.Error() })
}

// handleJobFailure retries the job after its backoff, or fails it once attempts
// are exhausted or the error is permanent
func (w *Worker) handleJobFailure(ctx context.Context, job *Job, token string, execErr error, duration time.Duration) {
	errMsg := execErr.Error()

	if IsPermanent(execErr) || !job.AttemptsLeft() {
		if !w.transition(job, "fail", w.queue.broker.Fail(ctx, job.ID, token, errMsg)) {
			return
		}
		w.queue.publish(job, EventFailed, func(ev *Event) {
			ev.Err = errMsg
			ev.Duration = duration
		})
		return
	}

	runAt := w.queue.clock.Now().Add(job.Backoff.Delay(job.AttemptsMade))
	if !w.transition(job, "retry", w.queue.broker.Retry(ctx, job.ID, token, runAt, errMsg)) {
		return
	}
	w.queue.publish(job, EventFailed, func(ev *Event) {
		ev.Err = errMsg
		ev.Duration = duration
	})
	w.queue.publish(job, EventWaiting, func(ev *Event) { ev.RunAt = runAt })
}

// handleJobSuccess completes the job
func (w *Worker) handleJobSuccess(ctx context.Context, job *Job, token string, duration time.Duration) {
	err := w.queue.broker.Complete(ctx, job.ID, token, w.queue.opts.RemoveOnComplete)
	if !w.transition(job, "complete", err) {
		return
	}
	w.queue.publish(job, EventCompleted, func(ev *Event) { ev.Duration = duration })
}

// transition reports whether a broker transition succeeded. A lost lock means the
// stalled monitor already took the job back, so the result is dropped.
func (w *Worker) transition(job *Job, op string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrLockLost):
		w.logger.Warn("job lock lost, dropping result",
			slog.String("worker_id", w.workerID.String()),
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.String("operation", op))
	default:
		w.logger.Error("failed to update job",
			slog.String("worker_id", w.workerID.String()),
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.String("operation", op),
			slog.String("error", err.Error()))
	}
	return false
}

// WorkerInfo returns information about the worker
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}
