package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrymomot/backq/pkg/ratelimit"
)

// Manager owns the queues of a process and the broker they share.
// Construct one in main and pass it to producers and workers.
type Manager struct {
	broker       Broker
	clock        Clock
	logger       *slog.Logger
	events       *Events
	limiterStore ratelimit.Store
	ownsStore    bool

	mu     sync.Mutex
	queues map[string]*Queue
	closed bool
}

// ManagerOption is a functional option for configuring a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger passed down to queues, workers and monitors
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the time source used for run times and backoff
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLimiterStore sets where rate limit windows are kept. Use a shared store such as
// ratelimit.RedisStore when workers run in more than one process.
func WithLimiterStore(store ratelimit.Store) ManagerOption {
	return func(m *Manager) {
		if store != nil {
			m.limiterStore = store
		}
	}
}

// WithEvents sets the hub job transitions are published to
func WithEvents(events *Events) ManagerOption {
	return func(m *Manager) {
		if events != nil {
			m.events = events
		}
	}
}

// NewManager creates a queue manager on top of broker
func NewManager(broker Broker, opts ...ManagerOption) (*Manager, error) {
	if broker == nil {
		return nil, ErrBrokerNil
	}

	m := &Manager{
		broker: broker,
		clock:  SystemClock,
		logger: slog.Default(),
		queues: make(map[string]*Queue),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.events == nil {
		m.events = NewEvents()
	}
	if m.limiterStore == nil {
		m.limiterStore = ratelimit.NewMemoryStore()
		m.ownsStore = true
	}

	return m, nil
}

// Queue returns the queue called name, creating it on first use.
//
// The first call verifies the broker is reachable and fails with ErrBrokerUnavailable
// otherwise; the caller should treat that as fatal. Later calls with the same resolved
// options return the same *Queue, while different options fail with
// ErrQueueConfigMismatch rather than silently keeping the first configuration.
func (m *Manager) Queue(ctx context.Context, name string, opts ...QueueOption) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrQueueNameEmpty
	}

	options := DefaultQueueOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: manager closed", ErrBrokerUnavailable)
	}

	if q, ok := m.queues[name]; ok {
		if q.opts != options {
			return nil, fmt.Errorf("%w: %s", ErrQueueConfigMismatch, name)
		}
		return q, nil
	}

	if err := m.broker.Ping(ctx); err != nil {
		return nil, errors.Join(ErrBrokerUnavailable, err)
	}

	var limiter *ratelimit.SlidingWindow
	if options.RateLimit.Enabled() {
		var err error
		limiter, err = ratelimit.NewSlidingWindow(m.limiterStore, options.RateLimit.Max, options.RateLimit.Window,
			ratelimit.WithClock(m.clock.Now))
		if err != nil {
			return nil, errors.Join(ErrInvalidOptions, err)
		}
	}

	q := &Queue{
		name:    name,
		opts:    options,
		broker:  m.broker,
		clock:   m.clock,
		events:  m.events,
		limiter: limiter,
		logger:  m.logger.With(slog.String("queue", name)),
	}
	m.queues[name] = q

	m.logger.Debug("queue registered",
		slog.String("queue", name),
		slog.Int("attempts", options.DefaultAttempts),
		slog.Int("rate_limit_max", options.RateLimit.Max),
		slog.Duration("rate_limit_window", options.RateLimit.Window),
		slog.Duration("stalled_interval", options.StalledInterval))

	return q, nil
}

// Lookup returns a previously created queue
func (m *Manager) Lookup(name string) (*Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	return q, ok
}

// Queues returns all created queues sorted by name
func (m *Manager) Queues() []*Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	slices.SortFunc(queues, func(a, b *Queue) int { return strings.Compare(a.name, b.name) })
	return queues
}

// Events returns the hub job transitions are published to
func (m *Manager) Events() *Events {
	return m.events
}

// Broker returns the shared broker
func (m *Manager) Broker() Broker {
	return m.broker
}

// Ping checks the broker is reachable
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.broker.Ping(ctx); err != nil {
		return errors.Join(ErrBrokerUnavailable, err)
	}
	return nil
}

// Close ends event subscriptions and releases the limiter store the manager created.
// The broker is owned by the caller and stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.events.Close()

	if closer, ok := m.limiterStore.(io.Closer); ok && m.ownsStore {
		return closer.Close()
	}
	return nil
}
