package logger

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// WithJobContext adds the running job's identity to records logged with a
// handler's context. Records logged outside a job are left untouched.
func WithJobContext() Option {
	return WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
		info, ok := queue.JobFromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		return Group("job",
			slog.String("id", info.ID),
			slog.String("queue", info.Queue),
			slog.String("type", info.Type),
			slog.Int("attempt", info.Attempt),
		), true
	})
}
