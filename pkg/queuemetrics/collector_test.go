package queuemetrics_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/queue"
	"github.com/dmitrymomot/backq/pkg/queuemetrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T) (*queue.Manager, *queue.ManualClock) {
	t.Helper()

	clock := queue.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	m, err := queue.NewManager(queue.NewMemoryBroker(queue.WithMemoryClock(clock)),
		queue.WithClock(clock),
		queue.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, clock
}

func TestCollector_Register(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := queuemetrics.New()
	require.NoError(t, c.Register(reg))

	// Registering the same metrics twice must fail.
	assert.Error(t, c.Register(reg))
}

func TestCollector_Observe(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := queuemetrics.New(queuemetrics.WithNamespace("test"))
	require.NoError(t, c.Register(reg))

	c.Observe(queue.Event{Type: queue.EventCompleted, Queue: "email", JobType: "SendEmail:welcome", Duration: 50 * time.Millisecond})
	c.Observe(queue.Event{Type: queue.EventCompleted, Queue: "email", JobType: "SendEmail:welcome", Duration: 70 * time.Millisecond})
	c.Observe(queue.Event{Type: queue.EventFailed, Queue: "email", JobType: "SendEmail:welcome", Err: "boom"})

	families, err := reg.Gather()
	require.NoError(t, err)

	var events, durations float64
	for _, f := range families {
		switch f.GetName() {
		case "test_job_events_total":
			for _, m := range f.GetMetric() {
				events += m.GetCounter().GetValue()
			}
		case "test_job_duration_seconds":
			for _, m := range f.GetMetric() {
				durations += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 3.0, events)
	// The failed event carries no duration.
	assert.Equal(t, 2.0, durations)
}

func TestCollector_Refresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _ := newManager(t)
	q, err := m.Queue(ctx, "account", queue.WithoutRateLimit())
	require.NoError(t, err)

	_, err = q.Submit(ctx, "BanAccount", map[string]string{"user_id": "1"})
	require.NoError(t, err)
	_, err = q.Submit(ctx, "UnBanAccount", map[string]string{"user_id": "1"}, queue.WithDelay(time.Hour))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c := queuemetrics.New(queuemetrics.WithNamespace("refresh"), queuemetrics.WithLogger(discardLogger()))
	require.NoError(t, c.Register(reg))

	c.Refresh(ctx, m.Queues())

	expected := `
# HELP refresh_jobs Jobs held by the broker by queue and state.
# TYPE refresh_jobs gauge
refresh_jobs{queue="account",state="active"} 0
refresh_jobs{queue="account",state="completed"} 0
refresh_jobs{queue="account",state="delayed"} 1
refresh_jobs{queue="account",state="failed"} 0
refresh_jobs{queue="account",state="waiting"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "refresh_jobs"))
}

func TestCollector_RefreshError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	broker := &failingCounts{MemoryBroker: queue.NewMemoryBroker(), err: errors.New("unreachable")}
	m, err := queue.NewManager(broker, queue.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Queue(ctx, "email")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c := queuemetrics.New(queuemetrics.WithNamespace("errs"), queuemetrics.WithLogger(discardLogger()))
	require.NoError(t, c.Register(reg))

	c.Refresh(ctx, m.Queues())
	c.Refresh(ctx, m.Queues())

	count, err := testutil.GatherAndCount(reg, "errs_jobs")
	require.NoError(t, err)
	assert.Zero(t, count)

	expected := `
# HELP errs_count_errors_total Failed broker count refreshes by queue.
# TYPE errs_count_errors_total counter
errs_count_errors_total{queue="email"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "errs_count_errors_total"))
}

func TestCollector_RecordDropped(t *testing.T) {
	t.Parallel()

	hub := queue.NewEvents()
	t.Cleanup(hub.Close)
	hub.Subscribe(context.Background(), 1)
	for range 4 {
		hub.Publish(queue.Event{Type: queue.EventWaiting})
	}

	reg := prometheus.NewRegistry()
	c := queuemetrics.New(queuemetrics.WithNamespace("drops"))
	require.NoError(t, c.Register(reg))

	c.RecordDropped(hub.Dropped())
	c.RecordDropped(hub.Dropped())
	c.RecordDropped(1)

	expected := `
# HELP drops_events_dropped_total Job events discarded because a subscriber fell behind.
# TYPE drops_events_dropped_total counter
drops_events_dropped_total 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "drops_events_dropped_total"))
}

func TestCollector_Run(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := m.Queue(ctx, "cleanup", queue.WithoutRateLimit())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c := queuemetrics.New(queuemetrics.WithNamespace("run"), queuemetrics.WithInterval(5*time.Millisecond))
	require.NoError(t, c.Register(reg))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, m)() }()

	// The subscription is created inside Run, so keep submitting until one is seen.
	require.Eventually(t, func() bool {
		if _, err := q.Submit(ctx, "DeleteLocalFile", map[string]string{"path": "/tmp/x"}); err != nil {
			return false
		}

		families, err := reg.Gather()
		if err != nil {
			return false
		}
		for _, f := range families {
			if f.GetName() == "run_job_events_total" && len(f.GetMetric()) > 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
}

type failingCounts struct {
	*queue.MemoryBroker
	err error
}

func (f *failingCounts) Counts(context.Context, string) (map[queue.JobState]int64, error) {
	return nil, f.err
}
