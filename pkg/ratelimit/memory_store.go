package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps event timestamps in process memory.
// It only limits workers that share the same process and instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]event

	cleanupInterval time.Duration
	maxWindow       time.Duration
	lastSeen        time.Time
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

type event struct {
	member string
	at     time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often empty keys are evicted.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// NewMemoryStore creates an in-memory store with a background cleanup loop.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		windows:         make(map[string][]event),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// RecordIfAllowed implements Store.
func (s *MemoryStore) RecordIfAllowed(ctx context.Context, key, member string, now time.Time, window time.Duration, limit int) (bool, int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxWindow = max(s.maxWindow, window)
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	events := prune(s.windows[key], now.Add(-window))

	allowed := len(events) < limit
	if allowed {
		events = append(events, event{member: member, at: now})
	}
	s.windows[key] = events

	var oldest time.Time
	if len(events) > 0 {
		oldest = events[0].at
	}
	return allowed, int64(len(events)), oldest, nil
}

// Release implements Store.
func (s *MemoryStore) Release(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.windows[key]
	for i, e := range events {
		if e.member == member {
			s.windows[key] = append(events[:i:i], events[i+1:]...)
			break
		}
	}
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := prune(s.windows[key], now.Add(-window))
	s.windows[key] = events
	return int64(len(events)), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.windows, key)
	return nil
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// prune drops events at or before cutoff. Events are kept in insertion order,
// which is also time order for a monotonic clock.
func prune(events []event, cutoff time.Time) []event {
	i := 0
	for i < len(events) && !events[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Callers may run on a simulated clock, so expiry follows the latest time they reported.
	cutoff := s.lastSeen.Add(-s.maxWindow)
	for key, events := range s.windows {
		if len(events) == 0 || !events[len(events)-1].at.After(cutoff) {
			delete(s.windows, key)
		}
	}
}
