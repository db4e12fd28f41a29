package queuemetrics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// Collector turns queue events and broker counts into Prometheus metrics.
type Collector struct {
	transitions *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	jobs        *prometheus.GaugeVec
	scrapeErrs  *prometheus.CounterVec
	dropped     prometheus.Counter

	lastDropped uint64
	namespace   string
	interval  time.Duration
	logger    *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace prefixes every metric name. Defaults to "backq".
func WithNamespace(ns string) Option {
	return func(c *Collector) {
		c.namespace = ns
	}
}

// WithInterval sets how often broker counts are refreshed. Defaults to 15s.
func WithInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger used for count refresh failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Collector. Call Register before serving /metrics.
func New(opts ...Option) *Collector {
	c := &Collector{
		namespace: "backq",
		interval:  15 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "job_events_total",
		Help:      "Job state transitions by queue, job type and event.",
	}, []string{"queue", "type", "event"})

	c.durations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      "job_duration_seconds",
		Help:      "Handler run time by queue, job type and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
	}, []string{"queue", "type", "outcome"})

	c.jobs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "jobs",
		Help:      "Jobs held by the broker by queue and state.",
	}, []string{"queue", "state"})

	c.scrapeErrs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "count_errors_total",
		Help:      "Failed broker count refreshes by queue.",
	}, []string{"queue"})

	c.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "events_dropped_total",
		Help:      "Job events discarded because a subscriber fell behind.",
	})

	return c
}

// Register adds every metric to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, m := range []prometheus.Collector{c.transitions, c.durations, c.jobs, c.scrapeErrs, c.dropped} {
		if err := reg.Register(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observe records one event.
func (c *Collector) Observe(ev queue.Event) {
	c.transitions.WithLabelValues(ev.Queue, ev.JobType, string(ev.Type)).Inc()

	if ev.Duration > 0 && (ev.Type == queue.EventCompleted || ev.Type == queue.EventFailed) {
		c.durations.WithLabelValues(ev.Queue, ev.JobType, string(ev.Type)).Observe(ev.Duration.Seconds())
	}
}

// Consume observes events from sub until it ends or ctx is done.
func (c *Collector) Consume(ctx context.Context, sub *queue.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// RecordDropped advances the dropped-events counter to total, the running
// count reported by queue.Events.Dropped. Callers must not race.
func (c *Collector) RecordDropped(total uint64) {
	if total > c.lastDropped {
		c.dropped.Add(float64(total - c.lastDropped))
		c.lastDropped = total
	}
}

// Refresh sets the state gauges from the broker counts of every queue.
// A queue whose counts fail keeps its previous values.
func (c *Collector) Refresh(ctx context.Context, queues []*queue.Queue) {
	for _, q := range queues {
		counts, err := q.Counts(ctx)
		if err != nil {
			c.scrapeErrs.WithLabelValues(q.Name()).Inc()
			c.logger.WarnContext(ctx, "failed to refresh queue counts",
				slog.String("queue", q.Name()),
				slog.String("error", err.Error()))
			continue
		}
		for state, n := range counts {
			c.jobs.WithLabelValues(q.Name(), string(state)).Set(float64(n))
		}
	}
}

// Run consumes the manager's events and refreshes counts on the configured
// interval until ctx is cancelled. It returns a function suitable for
// errgroup.Group.Go.
func (c *Collector) Run(ctx context.Context, m *queue.Manager) func() error {
	return func() error {
		sub := m.Events().Subscribe(ctx, 256)
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Consume(ctx, sub)
		}()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Refresh(ctx, m.Queues())
		for {
			select {
			case <-ctx.Done():
				<-done
				c.RecordDropped(m.Events().Dropped())
				return nil
			case <-ticker.C:
				c.Refresh(ctx, m.Queues())
				c.RecordDropped(m.Events().Dropped())
			}
		}
	}
}
