package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies a job transition.
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventDelayed   EventType = "delayed"
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
	EventRemoved   EventType = "removed"
)

// Event describes one job state transition.
type Event struct {
	Type        EventType
	Queue       string
	JobID       string
	JobType     string
	Attempts    int
	MaxAttempts int
	// Err is set on failed events.
	Err string
	// Duration is the handler run time on completed and failed events.
	Duration time.Duration
	// RunAt is set on waiting and delayed events.
	RunAt time.Time
	At    time.Time
}

// Events fans job transitions out to subscribers.
// Publish never blocks: when a subscriber's buffer is full the event is dropped for
// that subscriber. A slow observer must never hold up a state transition.
type Events struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Uint64
}

// NewEvents creates an empty hub.
func NewEvents() *Events {
	return &Events{subs: make(map[*Subscription]struct{})}
}

// Subscription receives events published after it was created.
type Subscription struct {
	ch      chan Event
	done    chan struct{}
	stop    func() bool
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
		close(s.ch)
	})
}

// Subscribe registers a subscriber with the given buffer (minimum 1).
// The subscription ends when ctx is cancelled or the hub is closed.
func (e *Events) Subscribe(ctx context.Context, buffer int) *Subscription {
	sub := &Subscription{
		ch:   make(chan Event, max(buffer, 1)),
		done: make(chan struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		sub.close()
		return sub
	}
	e.subs[sub] = struct{}{}

	sub.stop = context.AfterFunc(ctx, func() { e.Unsubscribe(sub) })
	return sub
}

// Unsubscribe ends a subscription.
func (e *Events) Unsubscribe(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[sub]; ok {
		delete(e.subs, sub)
		sub.close()
	}
}

// Publish delivers ev to every subscriber without blocking.
func (e *Events) Publish(ev Event) {
	if e == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}
	for sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were discarded across all subscriptions.
func (e *Events) Dropped() uint64 { return e.dropped.Load() }

// Close ends all subscriptions. It is safe to call Close multiple times.
func (e *Events) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for sub := range e.subs {
		sub.close()
	}
	clear(e.subs)
	e.mu.Unlock()
}
