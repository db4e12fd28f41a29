package ratelimit

import (
	"context"
	"time"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the event was admitted.
	Allowed bool

	// Limit is the maximum number of events per window.
	Limit int

	// Remaining is how many more events the current window admits.
	Remaining int

	// ResetAt is when the oldest recorded event leaves the window.
	ResetAt time.Time

	// RetryAfter is how long to wait before another attempt can be admitted.
	// Zero when Allowed.
	RetryAfter time.Duration

	// Reservation identifies the recorded event so it can be released
	// when the admitted work turned out not to exist.
	Reservation string
}

// Store persists event timestamps per key.
// RecordIfAllowed must be atomic: concurrent callers sharing a store never admit
// more than limit events in any window.
type Store interface {
	// RecordIfAllowed drops events at or before now-window and, if fewer than limit
	// remain, records member at now. It returns whether the event was recorded, the
	// number of events in the window afterwards and the timestamp of the oldest one.
	RecordIfAllowed(ctx context.Context, key, member string, now time.Time, window time.Duration, limit int) (allowed bool, count int64, oldest time.Time, err error)

	// Release removes a previously recorded event.
	Release(ctx context.Context, key, member string) error

	// Count returns the number of events inside the window ending at now.
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)

	// Delete removes all events for key.
	Delete(ctx context.Context, key string) error
}
