package queue

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// MemoryBroker implements Broker in process memory for testing and local development.
// It is safe for concurrent use; all workers must share the same instance.
type MemoryBroker struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	byQueue map[string]map[string]struct{}
	clock   Clock
}

// MemoryBrokerOption configures a MemoryBroker
type MemoryBrokerOption func(*MemoryBroker)

// WithMemoryClock sets the clock used for readiness and lock expiry
func WithMemoryClock(c Clock) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewMemoryBroker creates a new in-memory broker
func NewMemoryBroker(opts ...MemoryBrokerOption) *MemoryBroker {
	b := &MemoryBroker{
		jobs:    make(map[string]*Job),
		byQueue: make(map[string]map[string]struct{}),
		clock:   SystemClock,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping implements ProducerBroker
func (b *MemoryBroker) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Enqueue implements ProducerBroker
func (b *MemoryBroker) Enqueue(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.jobs[job.ID]; exists {
		return ErrJobExists
	}

	// Clone job to prevent external modifications
	b.jobs[job.ID] = job.Clone()

	ids, ok := b.byQueue[job.Queue]
	if !ok {
		ids = make(map[string]struct{})
		b.byQueue[job.Queue] = ids
	}
	ids[job.ID] = struct{}{}

	return nil
}

// Get implements ProducerBroker
func (b *MemoryBroker) Get(ctx context.Context, id string) (*Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	job, ok := b.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return b.view(job), nil
}

// Remove implements ProducerBroker
func (b *MemoryBroker) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State == StateActive {
		return ErrJobActive
	}
	b.delete(job)
	return nil
}

// Requeue implements ProducerBroker
func (b *MemoryBroker) Requeue(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateFailed {
		return ErrJobState
	}

	job.State = StateWaiting
	job.RunAt = b.clock.Now()
	job.AttemptsMade = 0
	job.StalledCount = 0
	job.FinishedAt = nil
	return nil
}

// Counts implements ProducerBroker
func (b *MemoryBroker) Counts(ctx context.Context, queue string) (map[JobState]int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.clock.Now()
	counts := make(map[JobState]int64, len(AllStates))
	for _, s := range AllStates {
		counts[s] = 0
	}
	for id := range b.byQueue[queue] {
		job := b.jobs[id]
		counts[EffectiveState(job.State, job.RunAt, now)]++
	}
	return counts, nil
}

// List implements ProducerBroker
func (b *MemoryBroker) List(ctx context.Context, queue string, state JobState, limit int) ([]*Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.clock.Now()
	var result []*Job
	for id := range b.byQueue[queue] {
		job := b.jobs[id]
		if EffectiveState(job.State, job.RunAt, now) != state {
			continue
		}
		result = append(result, b.view(job))
	}

	slices.SortFunc(result, compareReadiness)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Claim implements ConsumerBroker
func (b *MemoryBroker) Claim(ctx context.Context, queue, token string, lockFor time.Duration) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	var best *Job
	for id := range b.byQueue[queue] {
		job := b.jobs[id]
		if !job.State.Pending() || job.RunAt.After(now) {
			continue
		}
		if best == nil || compareReadiness(job, best) < 0 {
			best = job
		}
	}

	if best == nil {
		return nil, ErrNoJobReady
	}

	lockedUntil := now.Add(lockFor)
	best.State = StateActive
	best.AttemptsMade++
	best.LastAttemptAt = &now
	best.LockToken = token
	best.LockedUntil = &lockedUntil

	return best.Clone(), nil
}

// Heartbeat implements ConsumerBroker
func (b *MemoryBroker) Heartbeat(ctx context.Context, id, token string, lockFor time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, err := b.owned(id, token)
	if err != nil {
		return err
	}
	lockedUntil := b.clock.Now().Add(lockFor)
	job.LockedUntil = &lockedUntil
	return nil
}

// Complete implements ConsumerBroker
func (b *MemoryBroker) Complete(ctx context.Context, id, token string, remove bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, err := b.owned(id, token)
	if err != nil {
		return err
	}
	if remove {
		b.delete(job)
		return nil
	}

	now := b.clock.Now()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.LastError = ""
	releaseLock(job)
	return nil
}

// Retry implements ConsumerBroker
func (b *MemoryBroker) Retry(ctx context.Context, id, token string, runAt time.Time, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, err := b.owned(id, token)
	if err != nil {
		return err
	}
	job.State = StateWaiting
	job.RunAt = runAt
	job.LastError = errMsg
	releaseLock(job)
	return nil
}

// Fail implements ConsumerBroker
func (b *MemoryBroker) Fail(ctx context.Context, id, token string, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, err := b.owned(id, token)
	if err != nil {
		return err
	}
	now := b.clock.Now()
	job.State = StateFailed
	job.FinishedAt = &now
	job.LastError = errMsg
	releaseLock(job)
	return nil
}

// RecoverStalled implements ConsumerBroker
func (b *MemoryBroker) RecoverStalled(ctx context.Context, queue string, maxStalled int) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	var recovered []*Job
	for id := range b.byQueue[queue] {
		job := b.jobs[id]
		if job.State != StateActive || job.LockedUntil == nil || !job.LockedUntil.Before(now) {
			continue
		}

		job.StalledCount++
		releaseLock(job)
		if job.StalledCount > maxStalled {
			job.State = StateFailed
			job.FinishedAt = &now
			job.LastError = ErrJobStalled.Error()
		} else {
			job.State = StateWaiting
			job.RunAt = now
			job.AttemptsMade = max(job.AttemptsMade-1, 0)
		}
		recovered = append(recovered, job.Clone())
	}

	slices.SortFunc(recovered, func(a, b *Job) int { return cmp.Compare(a.ID, b.ID) })
	return recovered, nil
}

// owned returns the active job if token still holds its lock. Caller must hold b.mu.
func (b *MemoryBroker) owned(id, token string) (*Job, error) {
	job, ok := b.jobs[id]
	if !ok || job.State != StateActive || job.LockToken != token {
		return nil, ErrLockLost
	}
	return job, nil
}

// delete removes the job and its index entry. Caller must hold b.mu.
func (b *MemoryBroker) delete(job *Job) {
	delete(b.jobs, job.ID)
	if ids, ok := b.byQueue[job.Queue]; ok {
		delete(ids, job.ID)
		if len(ids) == 0 {
			delete(b.byQueue, job.Queue)
		}
	}
}

// view returns a copy of the job with its effective state. Caller must hold b.mu.
func (b *MemoryBroker) view(job *Job) *Job {
	c := job.Clone()
	c.State = EffectiveState(c.State, c.RunAt, b.clock.Now())
	return c
}

func releaseLock(job *Job) {
	job.LockToken = ""
	job.LockedUntil = nil
}

// compareReadiness orders jobs by run time, then creation time, then id.
func compareReadiness(a, b *Job) int {
	if c := a.RunAt.Compare(b.RunAt); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
