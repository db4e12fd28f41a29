package queue_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/queue"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager returns a manager over a memory broker sharing one manual clock.
func newTestManager(t *testing.T) (*queue.Manager, *queue.MemoryBroker, *queue.ManualClock) {
	t.Helper()

	clock := queue.NewManualClock(epoch)
	broker := queue.NewMemoryBroker(queue.WithMemoryClock(clock))
	m, err := queue.NewManager(broker,
		queue.WithClock(clock),
		queue.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, broker, clock
}

// collect subscribes to the manager's events and returns a function that drains
// what has been published so far.
func collect(t *testing.T, m *queue.Manager) func() []queue.Event {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub := m.Events().Subscribe(ctx, 1024)

	return func() []queue.Event {
		var events []queue.Event
		for {
			select {
			case ev := <-sub.C():
				events = append(events, ev)
			default:
				return events
			}
		}
	}
}

func eventTypes(events []queue.Event) []queue.EventType {
	types := make([]queue.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

// MockBroker is a mock implementation of queue.Broker
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBroker) Enqueue(ctx context.Context, job *queue.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockBroker) Get(ctx context.Context, id string) (*queue.Job, error) {
	args := m.Called(ctx, id)
	if job := args.Get(0); job != nil {
		return job.(*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBroker) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBroker) Requeue(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBroker) Counts(ctx context.Context, q string) (map[queue.JobState]int64, error) {
	args := m.Called(ctx, q)
	if counts := args.Get(0); counts != nil {
		return counts.(map[queue.JobState]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBroker) List(ctx context.Context, q string, state queue.JobState, limit int) ([]*queue.Job, error) {
	args := m.Called(ctx, q, state, limit)
	if jobs := args.Get(0); jobs != nil {
		return jobs.([]*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBroker) Claim(ctx context.Context, q, token string, lockFor time.Duration) (*queue.Job, error) {
	args := m.Called(ctx, q, token, lockFor)
	if job := args.Get(0); job != nil {
		return job.(*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBroker) Heartbeat(ctx context.Context, id, token string, lockFor time.Duration) error {
	return m.Called(ctx, id, token, lockFor).Error(0)
}

func (m *MockBroker) Complete(ctx context.Context, id, token string, remove bool) error {
	return m.Called(ctx, id, token, remove).Error(0)
}

func (m *MockBroker) Retry(ctx context.Context, id, token string, runAt time.Time, errMsg string) error {
	return m.Called(ctx, id, token, runAt, errMsg).Error(0)
}

func (m *MockBroker) Fail(ctx context.Context, id, token string, errMsg string) error {
	return m.Called(ctx, id, token, errMsg).Error(0)
}

func (m *MockBroker) RecoverStalled(ctx context.Context, q string, maxStalled int) ([]*queue.Job, error) {
	args := m.Called(ctx, q, maxStalled)
	if jobs := args.Get(0); jobs != nil {
		return jobs.([]*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}
