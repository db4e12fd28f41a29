package jobs_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/jobs"
	"github.com/dmitrymomot/backq/pkg/queue"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAccounts is a mock implementation of jobs.Accounts
type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) Get(ctx context.Context, id string) (*jobs.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Account), args.Error(1)
}

func (m *MockAccounts) Ban(ctx context.Context, id string, until *time.Time) error {
	return m.Called(ctx, id, until).Error(0)
}

func (m *MockAccounts) Unban(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAccounts) ScheduleDeletion(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockAccounts) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// MockSender is a mock implementation of email.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg email.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// MockRemover is a mock implementation of file.Remover
type MockRemover struct {
	mock.Mock
}

func (m *MockRemover) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// fixture wires a Service to memory-backed queues sharing one manual clock.
type fixture struct {
	ctx      context.Context
	clock    *queue.ManualClock
	manager  *queue.Manager
	queues   map[string]*queue.Queue
	accounts *MockAccounts
	sender   *MockSender
	images   *MockRemover
	files    *MockRemover
	svc      *jobs.Service
	producer *jobs.Producer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:      context.Background(),
		clock:    queue.NewManualClock(epoch),
		queues:   make(map[string]*queue.Queue),
		accounts: &MockAccounts{},
		sender:   &MockSender{},
		images:   &MockRemover{},
		files:    &MockRemover{},
	}

	m, err := queue.NewManager(queue.NewMemoryBroker(queue.WithMemoryClock(f.clock)),
		queue.WithClock(f.clock),
		queue.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	f.manager = m

	for _, name := range jobs.QueueNames {
		q, err := m.Queue(f.ctx, name, queue.WithoutRateLimit(), queue.WithRemoveOnComplete(false))
		require.NoError(t, err)
		f.queues[name] = q
	}

	qs := f.jobQueues()
	f.svc, err = jobs.NewService(jobs.Deps{
		Accounts: f.accounts,
		Sender:   f.sender,
		Images:   f.images,
		Files:    f.files,
		Queues:   qs,
	}, jobs.WithClock(f.clock), jobs.WithLogger(discardLogger()))
	require.NoError(t, err)

	f.producer, err = jobs.NewProducer(qs)
	require.NoError(t, err)

	t.Cleanup(func() {
		f.accounts.AssertExpectations(t)
		f.sender.AssertExpectations(t)
		f.images.AssertExpectations(t)
		f.files.AssertExpectations(t)
	})
	return f
}

func (f *fixture) jobQueues() jobs.Queues {
	return jobs.Queues{
		Email:         f.queues[jobs.QueueEmail],
		Account:       f.queues[jobs.QueueAccount],
		Cleanup:       f.queues[jobs.QueueCleanup],
		Notifications: f.queues[jobs.QueueNotifications],
	}
}

// run invokes the handler for jobType as if a worker had claimed job jobID.
func (f *fixture) run(t *testing.T, jobType, jobID string, payload any) error {
	t.Helper()

	queueName, ok := jobs.QueueFor(jobType)
	require.True(t, ok, "unknown job type %s", jobType)

	reg := queue.NewRegistry()
	require.NoError(t, f.svc.Register(queueName, reg))
	h, err := reg.Resolve(jobType)
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	ctx := queue.WithJobInfo(f.ctx, queue.JobInfo{ID: jobID, Queue: queueName, Type: jobType, Attempt: 1, MaxAttempts: 5})
	return h.Handle(ctx, data)
}

// pending returns the waiting and delayed jobs of a queue.
func (f *fixture) pending(t *testing.T, queueName string) []*queue.Job {
	t.Helper()

	q := f.queues[queueName]
	waiting, err := q.List(f.ctx, queue.StateWaiting, 0)
	require.NoError(t, err)
	delayed, err := q.List(f.ctx, queue.StateDelayed, 0)
	require.NoError(t, err)
	return append(waiting, delayed...)
}

func decode[T any](t *testing.T, job *queue.Job) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(job.Payload, &v))
	return v
}

func timePtr(t time.Time) *time.Time { return &t }
