package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlidingWindow admits at most limit events in any rolling window.
// Unlike a fixed window it has no boundary burst: the window slides with every check.
type SlidingWindow struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock sets the time source; useful for simulated time in tests.
func WithClock(now func() time.Time) Option {
	return func(sw *SlidingWindow) {
		if now != nil {
			sw.now = now
		}
	}
}

// NewSlidingWindow creates a sliding window limiter over store.
func NewSlidingWindow(store Store, limit int, window time.Duration, opts ...Option) (*SlidingWindow, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if window <= 0 {
		return nil, ErrInvalidInterval
	}

	sw := &SlidingWindow{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw, nil
}

// Limit returns the configured maximum events per window.
func (sw *SlidingWindow) Limit() int { return sw.limit }

// Window returns the configured window length.
func (sw *SlidingWindow) Window() time.Duration { return sw.window }

// Allow records one event for key if the window has room.
func (sw *SlidingWindow) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	now := sw.now()
	member := uuid.NewString()

	allowed, count, oldest, err := sw.store.RecordIfAllowed(ctx, key, member, now, sw.window, sw.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     sw.limit,
		Remaining: max(0, sw.limit-int(count)),
		ResetAt:   now.Add(sw.window),
	}
	if !oldest.IsZero() {
		result.ResetAt = oldest.Add(sw.window)
	}

	if allowed {
		result.Reservation = member
	} else {
		result.RetryAfter = max(result.ResetAt.Sub(now), time.Millisecond)
	}
	return result, nil
}

// Release gives back an event admitted by Allow.
func (sw *SlidingWindow) Release(ctx context.Context, key, reservation string) error {
	if key == "" {
		return ErrKeyRequired
	}
	if reservation == "" {
		return nil
	}
	return sw.store.Release(ctx, key, reservation)
}

// Status reports the window state without recording an event.
func (sw *SlidingWindow) Status(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	now := sw.now()
	count, err := sw.store.Count(ctx, key, now, sw.window)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	remaining := sw.limit - int(count)
	return &Result{
		Allowed:   remaining > 0,
		Limit:     sw.limit,
		Remaining: max(0, remaining),
		ResetAt:   now.Add(sw.window),
	}, nil
}

// Reset clears all events for key.
func (sw *SlidingWindow) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return sw.store.Delete(ctx, key)
}
