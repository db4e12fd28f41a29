package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/backq/pkg/queue"
)

func TestCeilMillis(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"aligned", base.Add(5 * time.Millisecond), base.Add(5 * time.Millisecond)},
		{"one nanosecond over", base.Add(5*time.Millisecond + 1), base.Add(6 * time.Millisecond)},
		{"just under", base.Add(6*time.Millisecond - 1), base.Add(6 * time.Millisecond)},
		{"zero", time.Time{}, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.want.Equal(ceilMillis(tt.in)), "got %s", ceilMillis(tt.in))
		})
	}
}

func TestToDocument_RunAtNeverEarlier(t *testing.T) {
	t.Parallel()

	runAt := time.Date(2024, 3, 1, 12, 0, 0, 999_999_001, time.UTC)
	doc := toDocument(&queue.Job{ID: "j1", Queue: "q", State: queue.StateDelayed, RunAt: runAt})

	assert.False(t, doc.RunAt.Before(runAt))
	assert.Equal(t, doc.RunAt, doc.RunAt.Truncate(time.Millisecond))
	assert.Equal(t, string(queue.StateWaiting), doc.State)
}
