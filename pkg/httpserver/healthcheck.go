package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/backq/pkg/logger"
)

// Check is a named readiness dependency, for example a broker ping.
type Check struct {
	Name  string
	Check func(context.Context) error
}

// HealthCheckHandler returns a HTTP handler that can be used for both
// liveness and readiness probes.
//
//   - Liveness: with no checks the handler returns 200 OK and {"status":"alive"}.
//   - Readiness: every check runs with the request context bounded by timeout.
//     If all succeed the handler returns 200 OK and {"status":"ready"}; otherwise
//     503 with {"status":"not_ready"} and the failing check names mapped to their errors.
func HealthCheckHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = discardLogger()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		failed := make(map[string]string)
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed",
					logger.Component(c.Name),
					logger.Error(err))
				failed[c.Name] = err.Error()
			}
		}

		if len(failed) > 0 {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"checks": failed,
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
