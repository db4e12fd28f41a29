// Package brokertest provides a conformance suite for queue.Broker implementations.
package brokertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// Factory returns a broker that reads time from clock. It is called once per subtest.
type Factory func(t *testing.T, clock queue.Clock) queue.Broker

// Epoch is the start time of every subtest clock. It is millisecond aligned so
// stores with millisecond precision round-trip it exactly.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const lockFor = 10 * time.Second

// Run exercises the full Broker contract against brokers built by newBroker.
// Every subtest uses a fresh clock and a unique queue name, so brokers may share
// a backing database.
func Run(t *testing.T, newBroker Factory) {
	t.Helper()

	t.Run("enqueue and get", func(t *testing.T) { testEnqueueGet(t, newBroker) })
	t.Run("claim respects run time and order", func(t *testing.T) { testClaimOrder(t, newBroker) })
	t.Run("concurrent claims are exclusive", func(t *testing.T) { testConcurrentClaim(t, newBroker) })
	t.Run("transitions are guarded by the lock token", func(t *testing.T) { testTransitions(t, newBroker) })
	t.Run("remove and requeue", func(t *testing.T) { testRemoveRequeue(t, newBroker) })
	t.Run("stall recovery is bounded", func(t *testing.T) { testRecoverStalled(t, newBroker) })
	t.Run("counts and list", func(t *testing.T) { testCountsList(t, newBroker) })
}

type fixture struct {
	broker queue.Broker
	clock  *queue.ManualClock
	queue  string
	ctx    context.Context
}

func setup(t *testing.T, newBroker Factory) *fixture {
	t.Helper()
	clock := queue.NewManualClock(Epoch)
	return &fixture{
		broker: newBroker(t, clock),
		clock:  clock,
		queue:  "conformance-" + uuid.NewString(),
		ctx:    context.Background(),
	}
}

func (f *fixture) enqueue(t *testing.T, delay time.Duration) *queue.Job {
	t.Helper()
	now := f.clock.Now()
	job := &queue.Job{
		ID:          uuid.NewString(),
		Queue:       f.queue,
		Type:        "Conformance",
		Payload:     json.RawMessage(`{"n":1}`),
		State:       queue.StateWaiting,
		AttemptsMax: 3,
		Backoff:     queue.ExponentialBackoff(time.Second, time.Minute),
		Timeout:     30 * time.Second,
		RunAt:       now.Add(delay),
		CreatedAt:   now,
	}
	if delay > 0 {
		job.State = queue.StateDelayed
	}
	require.NoError(t, f.broker.Enqueue(f.ctx, job))
	return job
}

func (f *fixture) claim(t *testing.T, token string) *queue.Job {
	t.Helper()
	job, err := f.broker.Claim(f.ctx, f.queue, token, lockFor)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func sameTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.WithinDuration(t, want, got, time.Millisecond)
}

func testEnqueueGet(t *testing.T, newBroker Factory) {
	f := setup(t, newBroker)
	require.NoError(t, f.broker.Ping(f.ctx))

	job := f.enqueue(t, 0)

	got, err := f.broker.Get(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, f.queue, got.Queue)
	assert.Equal(t, "Conformance", got.Type)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	assert.Equal(t, queue.StateWaiting, got.State)
	assert.Equal(t, 0, got.AttemptsMade)
	assert.Equal(t, 3, got.AttemptsMax)
	assert.Equal(t, job.Backoff, got.Backoff)
	assert.Equal(t, 30*time.Second, got.Timeout)
	sameTime(t, job.RunAt, got.RunAt)
	sameTime(t, job.CreatedAt, got.CreatedAt)

	err = f.broker.Enqueue(f.ctx, job)
	assert.ErrorIs(t, err, queue.ErrJobExists)

	_, err = f.broker.Get(f.ctx, uuid.NewString())
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func testClaimOrder(t *testing.T, newBroker Factory) {
	f := setup(t, newBroker)

	delayed := f.enqueue(t, time.Hour)
	f.clock.Advance(time.Second)
	first := f.enqueue(t, 0)
	f.clock.Advance(time.Second)
	second := f.enqueue(t, 0)

	got, err := f.broker.Get(f.ctx, delayed.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, got.State)

	claimed := f.claim(t, "t1")
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, queue.StateActive, claimed.State)
	assert.Equal(t, 1, claimed.AttemptsMade)
	assert.Equal(t, "t1", claimed.LockToken)
	require.NotNil(t, claimed.LockedUntil)
	sameTime(t, f.clock.Now().Add(lockFor), *claimed.LockedUntil)
	require.NotNil(t, claimed.LastAttemptAt)
	sameTime(t, f.clock.Now(), *claimed.LastAttemptAt)

	assert.Equal(t, second.ID, f.claim(t, "t2").ID)

	_, err = f.broker.Claim(f.ctx, f.queue, "t3", lockFor)
	assert.ErrorIs(t, err, queue.ErrNoJobReady)

	// Delay is a lower bound
	f.clock.Advance(time.Hour - 3*time.Second)
	_, err = f.broker.Claim(f.ctx, f.queue, "t3", lockFor)
	assert.ErrorIs(t, err, queue.ErrNoJobReady)

	f.clock.Advance(time.Second)
	assert.Equal(t, delayed.ID, f.claim(t, "t3").ID)

	// Other queues are invisible
	_, err = f.broker.Claim(f.ctx, f.queue+"-other", "t4", lockFor)
	assert.ErrorIs(t, err, queue.ErrNoJobReady)
}

func testConcurrentClaim(t *testing.T, newBroker Factory) {
	f := setup(t, newBroker)

	const jobs = 10
	for range jobs {
		f.enqueue(t, 0)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for range 4 * jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := f.broker.Claim(f.ctx, f.queue, uuid.NewString(), lockFor)
			if errors.Is(err, queue.ErrNoJobReady) {
				return
			}
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			claimed[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func testTransitions(t *testing.T, newBroker Factory) {
	t.Run("complete keeps or removes", func(t *testing.T) {
		f := setup(t, newBroker)
		kept := f.enqueue(t, 0)
		removed := f.enqueue(t, 0)

		a := f.claim(t, "a")
		b := f.claim(t, "b")
		require.ElementsMatch(t, []string{kept.ID, removed.ID}, []string{a.ID, b.ID})

		keepTok, removeTok := "a", "b"
		if a.ID != kept.ID {
			keepTok, removeTok = "b", "a"
		}

		assert.ErrorIs(t, f.broker.Complete(f.ctx, kept.ID, "wrong", false), queue.ErrLockLost)

		require.NoError(t, f.broker.Heartbeat(f.ctx, kept.ID, keepTok, time.Minute))
		assert.ErrorIs(t, f.broker.Heartbeat(f.ctx, kept.ID, "wrong", time.Minute), queue.ErrLockLost)

		require.NoError(t, f.broker.Complete(f.ctx, kept.ID, keepTok, false))
		require.NoError(t, f.broker.Complete(f.ctx, removed.ID, removeTok, true))

		got, err := f.broker.Get(f.ctx, kept.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StateCompleted, got.State)
		assert.Empty(t, got.LockToken)
		require.NotNil(t, got.FinishedAt)

		_, err = f.broker.Get(f.ctx, removed.ID)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)

		// A finished job cannot be transitioned again
		assert.ErrorIs(t, f.broker.Complete(f.ctx, kept.ID, keepTok, false), queue.ErrLockLost)
	})

	t.Run("retry and fail", func(t *testing.T) {
		f := setup(t, newBroker)
		job := f.enqueue(t, 0)

		f.claim(t, "tok")
		runAt := f.clock.Now().Add(4 * time.Second)
		require.NoError(t, f.broker.Retry(f.ctx, job.ID, "tok", runAt, "boom"))

		got, err := f.broker.Get(f.ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StateDelayed, got.State)
		assert.Equal(t, "boom", got.LastError)
		assert.Equal(t, 1, got.AttemptsMade)
		sameTime(t, runAt, got.RunAt)

		// The retry lock is gone
		assert.ErrorIs(t, f.broker.Fail(f.ctx, job.ID, "tok", "late"), queue.ErrLockLost)

		_, err = f.broker.Claim(f.ctx, f.queue, "tok2", lockFor)
		assert.ErrorIs(t, err, queue.ErrNoJobReady)

		f.clock.Advance(4 * time.Second)
		again := f.claim(t, "tok2")
		assert.Equal(t, 2, again.AttemptsMade)

		require.NoError(t, f.broker.Fail(f.ctx, job.ID, "tok2", "final"))
		got, err = f.broker.Get(f.ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StateFailed, got.State)
		assert.Equal(t, "final", got.LastError)
		assert.Equal(t, 2, got.AttemptsMade)

		// Failed jobs are never claimed again
		f.clock.Advance(time.Hour)
		_, err = f.broker.Claim(f.ctx, f.queue, "tok3", lockFor)
		assert.ErrorIs(t, err, queue.ErrNoJobReady)
	})
}

func testRemoveRequeue(t *testing.T, newBroker Factory) {
	f := setup(t, newBroker)

	delayed := f.enqueue(t, time.Hour)
	require.NoError(t, f.broker.Remove(f.ctx, delayed.ID))
	_, err := f.broker.Get(f.ctx, delayed.ID)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
	assert.ErrorIs(t, f.broker.Remove(f.ctx, delayed.ID), queue.ErrJobNotFound)

	job := f.enqueue(t, 0)
	f.claim(t, "tok")
	assert.ErrorIs(t, f.broker.Remove(f.ctx, job.ID), queue.ErrJobActive)
	assert.ErrorIs(t, f.broker.Requeue(f.ctx, job.ID), queue.ErrJobState)

	require.NoError(t, f.broker.Fail(f.ctx, job.ID, "tok", "boom"))
	f.clock.Advance(time.Minute)
	require.NoError(t, f.broker.Requeue(f.ctx, job.ID))

	got, err := f.broker.Get(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, got.State)
	assert.Equal(t, 0, got.AttemptsMade)
	sameTime(t, f.clock.Now(), got.RunAt)

	assert.Equal(t, job.ID, f.claim(t, "tok2").ID)
	assert.ErrorIs(t, f.broker.Requeue(f.ctx, uuid.NewString()), queue.ErrJobNotFound)
}

func testRecoverStalled(t *testing.T, newBroker Factory) {
	f := setup(t, newBroker)
	job := f.enqueue(t, 0)
	healthy := f.enqueue(t, 0)

	const maxStalled = 1
	f.claim(t, "dead")

	// Not yet expired
	recovered, err := f.broker.RecoverStalled(f.ctx, f.queue, maxStalled)
	require.NoError(t, err)
	assert.Empty(t, recovered)

	f.clock.Advance(lockFor + time.Second)
	f.claim(t, "alive")

	recovered, err = f.broker.RecoverStalled(f.ctx, f.queue, maxStalled)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, job.ID, recovered[0].ID)
	assert.Equal(t, queue.StateWaiting, recovered[0].State)
	assert.Equal(t, 1, recovered[0].StalledCount)
	assert.Equal(t, 0, recovered[0].AttemptsMade)
	assert.Empty(t, recovered[0].LockToken)

	// The stalled owner lost its lock, the healthy one did not
	assert.ErrorIs(t, f.broker.Complete(f.ctx, job.ID, "dead", false), queue.ErrLockLost)
	require.NoError(t, f.broker.Complete(f.ctx, healthy.ID, "alive", true))

	// Second stall exceeds the limit
	again := f.claim(t, "dead-again")
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.AttemptsMade)

	f.clock.Advance(lockFor + time.Second)
	recovered, err = f.broker.RecoverStalled(f.ctx, f.queue, maxStalled)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, queue.StateFailed, recovered[0].State)
	assert.Equal(t, 2, recovered[0].StalledCount)
	assert.Equal(t, queue.ErrJobStalled.Error(), recovered[0].LastError)

	recovered, err = f.broker.RecoverStalled(f.ctx, f.queue, maxStalled)
	require.NoError(t, err)
	assert.Empty(t, recovered)
}

func testCountsList(t *testing.T, newBroker Factory) {
	f := setup(t, newBroker)

	f.enqueue(t, 0)
	f.enqueue(t, 0)
	delayed := f.enqueue(t, time.Hour)
	active := f.claim(t, "tok")

	counts, err := f.broker.Counts(f.ctx, f.queue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[queue.StateWaiting])
	assert.Equal(t, int64(1), counts[queue.StateDelayed])
	assert.Equal(t, int64(1), counts[queue.StateActive])
	assert.Equal(t, int64(0), counts[queue.StateCompleted])
	assert.Equal(t, int64(0), counts[queue.StateFailed])

	list, err := f.broker.List(f.ctx, f.queue, queue.StateDelayed, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, delayed.ID, list[0].ID)
	assert.Equal(t, queue.StateDelayed, list[0].State)

	list, err = f.broker.List(f.ctx, f.queue, queue.StateActive, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	require.NoError(t, f.broker.Fail(f.ctx, active.ID, "tok", "boom"))
	list, err = f.broker.List(f.ctx, f.queue, queue.StateFailed, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "boom", list[0].LastError)

	// Time turns delayed into waiting
	f.clock.Advance(time.Hour)
	counts, err = f.broker.Counts(f.ctx, f.queue)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[queue.StateWaiting])
	assert.Equal(t, int64(0), counts[queue.StateDelayed])
	assert.Equal(t, int64(1), counts[queue.StateFailed])

	list, err = f.broker.List(f.ctx, f.queue, queue.StateWaiting, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
