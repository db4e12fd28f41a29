package queue

import (
	"context"
	"log/slog"
	"time"
)

// StalledMonitor periodically returns jobs whose worker stopped heartbeating to the
// queue. It runs independently of workers; one per queue is enough, though several
// are harmless since recovery is atomic per job.
type StalledMonitor struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
}

// MonitorOption is a functional option for configuring a StalledMonitor
type MonitorOption func(*StalledMonitor)

// WithCheckInterval overrides how often the monitor checks. Defaults to the
// queue's stalled interval.
func WithCheckInterval(d time.Duration) MonitorOption {
	return func(m *StalledMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMonitorLogger sets a custom logger for the monitor
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *StalledMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewStalledMonitor creates a monitor for q
func NewStalledMonitor(q *Queue, opts ...MonitorOption) (*StalledMonitor, error) {
	if q == nil {
		return nil, ErrQueueNil
	}

	m := &StalledMonitor{
		queue:    q,
		interval: q.opts.StalledInterval,
		logger:   q.logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Check recovers stalled jobs once and returns them with their new state.
// Each job yields a stalled event followed by waiting or failed.
func (m *StalledMonitor) Check(ctx context.Context) ([]*Job, error) {
	jobs, err := m.queue.broker.RecoverStalled(ctx, m.queue.name, m.queue.opts.MaxStalledCount)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		m.queue.publish(job, EventStalled, func(ev *Event) { ev.Err = ErrJobStalled.Error() })

		if job.State == StateFailed {
			m.queue.publish(job, EventFailed, func(ev *Event) { ev.Err = job.LastError })
			m.logger.Warn("stalled job failed",
				slog.String("job_id", job.ID),
				slog.String("job_type", job.Type),
				slog.Int("stalled_count", job.StalledCount))
			continue
		}

		m.queue.publish(job, EventWaiting, func(ev *Event) { ev.RunAt = job.RunAt })
		m.logger.Info("stalled job returned to queue",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.Int("stalled_count", job.StalledCount))
	}
	return jobs, nil
}

// Run checks on every interval until ctx is cancelled.
// The returned function is suitable for errgroup.
func (m *StalledMonitor) Run(ctx context.Context) func() error {
	return func() error {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("stalled job monitor started", slog.Duration("interval", m.interval))

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("stalled job monitor stopped")
				return nil
			case <-ticker.C:
				if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error("failed to recover stalled jobs", slog.String("error", err.Error()))
				}
			}
		}
	}
}
