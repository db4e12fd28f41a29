package logger

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// LogEvents writes one log line per job event until the subscription ends or
// ctx is done. Failures and stalls are logged at warn level.
func LogEvents(ctx context.Context, sub *queue.Subscription, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			LogEvent(ctx, log, ev)
		}
	}
}

// LogEvent writes a single job event.
func LogEvent(ctx context.Context, log *slog.Logger, ev queue.Event) {
	attrs := []slog.Attr{
		JobID(ev.JobID),
		Queue(ev.Queue),
		JobType(ev.JobType),
		Outcome(string(ev.Type)),
	}

	switch ev.Type {
	case queue.EventFailed:
		attrs = append(attrs,
			Attempt(ev.Attempts),
			slog.Int("max_attempts", ev.MaxAttempts),
			slog.String("error", ev.Err),
		)
		if ev.Duration > 0 {
			attrs = append(attrs, Duration(ev.Duration))
		}
		log.LogAttrs(ctx, slog.LevelWarn, "job failed", attrs...)
	case queue.EventStalled:
		log.LogAttrs(ctx, slog.LevelWarn, "job stalled", attrs...)
	case queue.EventCompleted:
		attrs = append(attrs, Duration(ev.Duration))
		log.LogAttrs(ctx, slog.LevelInfo, "job completed", attrs...)
	case queue.EventDelayed, queue.EventWaiting:
		attrs = append(attrs, slog.Time("run_at", ev.RunAt))
		log.LogAttrs(ctx, slog.LevelInfo, "job "+string(ev.Type), attrs...)
	default:
		log.LogAttrs(ctx, slog.LevelInfo, "job "+string(ev.Type), attrs...)
	}
}
