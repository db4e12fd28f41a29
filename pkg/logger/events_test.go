package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/logger"
	"github.com/dmitrymomot/backq/pkg/queue"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestLogEvents(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	log := logger.New(logger.WithOutput(&out))

	hub := queue.NewEvents()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := hub.Subscribe(ctx, 16)

	done := make(chan struct{})
	go func() {
		logger.LogEvents(ctx, sub, log)
		close(done)
	}()

	hub.Publish(queue.Event{Type: queue.EventCompleted, Queue: "email", JobID: "j1", JobType: "SendEmail:welcome", Duration: time.Second})
	hub.Publish(queue.Event{Type: queue.EventFailed, Queue: "email", JobID: "j2", JobType: "SendEmail:welcome", Attempts: 2, MaxAttempts: 5, Err: "smtp down"})

	require.Eventually(t, func() bool { return len(out.Lines()) == 2 }, time.Second, time.Millisecond)

	var completed, failed map[string]any
	lines := out.Lines()
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &completed))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))

	assert.Equal(t, "j1", completed["job_id"])
	assert.Equal(t, "email", completed["queue"])
	assert.Equal(t, "SendEmail:welcome", completed["job_type"])
	assert.Equal(t, "completed", completed["outcome"])
	assert.Contains(t, completed, "duration")

	assert.Equal(t, "WARN", failed["level"])
	assert.Equal(t, "smtp down", failed["error"])
	assert.EqualValues(t, 2, failed["attempt"])
	assert.EqualValues(t, 5, failed["max_attempts"])

	hub.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LogEvents did not return after the subscription ended")
	}
}

func TestLogEvent_Stalled(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger.LogEvent(context.Background(), logger.New(logger.WithOutput(buf)),
		queue.Event{Type: queue.EventStalled, Queue: "account", JobID: "j3", JobType: "DeleteAccount"})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "job stalled", entry["msg"])
	assert.Equal(t, "stalled", entry["outcome"])
}
