package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/backq/pkg/ratelimit"
)

// Queue is a named, independently configured stream of jobs.
// Obtain one from Manager.Queue.
type Queue struct {
	name    string
	opts    QueueOptions
	broker  Broker
	clock   Clock
	events  *Events
	limiter *ratelimit.SlidingWindow
	logger  *slog.Logger
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

// Options returns the resolved queue options
func (q *Queue) Options() QueueOptions { return q.opts }

// Submit persists a job of jobType with payload, which must marshal to JSON.
// Broker failures are returned synchronously, wrapped with ErrSubmit.
func (q *Queue) Submit(ctx context.Context, jobType string, payload any, opts ...SubmitOption) (*JobHandle, error) {
	if jobType == "" {
		return nil, ErrJobTypeEmpty
	}
	if payload == nil {
		return nil, ErrPayloadNil
	}

	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}

	attempts := q.opts.DefaultAttempts
	if so.attempts != 0 {
		attempts = so.attempts
	}
	if attempts < 1 {
		return nil, fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidOptions, attempts)
	}

	backoff := q.opts.DefaultBackoff
	if so.backoff != nil {
		backoff = *so.backoff
		if err := backoff.Validate(); err != nil {
			return nil, err
		}
	}

	timeout := q.opts.DefaultTimeout
	if so.timeout > 0 {
		timeout = so.timeout
	}

	now := q.clock.Now()
	runAt := now.Add(so.delay)
	if so.runAt != nil && so.runAt.After(now) {
		runAt = *so.runAt
	}

	id := so.id
	if id == "" {
		id = uuid.NewString()
	}

	job := &Job{
		ID:          id,
		Queue:       q.name,
		Type:        jobType,
		Payload:     data,
		State:       EffectiveState(StateWaiting, runAt, now),
		AttemptsMax: attempts,
		Backoff:     backoff,
		Timeout:     timeout,
		RunAt:       runAt,
		CreatedAt:   now,
	}

	if err := q.broker.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmit, err)
	}

	evType := EventWaiting
	if job.State == StateDelayed {
		evType = EventDelayed
	}
	q.publish(job, evType, func(ev *Event) { ev.RunAt = runAt })

	return job.Handle(), nil
}

// Get returns a job of this queue by id
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := q.broker.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Queue != q.name {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Remove deletes a waiting, delayed or finished job. Active jobs cannot be removed.
func (q *Queue) Remove(ctx context.Context, id string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := q.broker.Remove(ctx, id); err != nil {
		return err
	}
	q.publish(job, EventRemoved, nil)
	return nil
}

// Retry puts a failed job back to waiting with a fresh attempt budget
func (q *Queue) Retry(ctx context.Context, id string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := q.broker.Requeue(ctx, id); err != nil {
		return err
	}
	now := q.clock.Now()
	q.publish(job, EventWaiting, func(ev *Event) {
		ev.Attempts = 0
		ev.RunAt = now
	})
	return nil
}

// Counts returns the number of jobs per state
func (q *Queue) Counts(ctx context.Context) (map[JobState]int64, error) {
	return q.broker.Counts(ctx, q.name)
}

// List returns up to limit jobs in state, earliest run time first
func (q *Queue) List(ctx context.Context, state JobState, limit int) ([]*Job, error) {
	if !state.Valid() || state == StateStalled {
		return nil, fmt.Errorf("%w: %s", ErrJobState, state)
	}
	return q.broker.List(ctx, q.name, state, limit)
}

func (q *Queue) publish(job *Job, t EventType, fill func(*Event)) {
	ev := Event{
		Type:        t,
		Queue:       q.name,
		JobID:       job.ID,
		JobType:     job.Type,
		Attempts:    job.AttemptsMade,
		MaxAttempts: job.AttemptsMax,
		At:          q.clock.Now(),
	}
	if fill != nil {
		fill(&ev)
	}
	q.events.Publish(ev)
}
