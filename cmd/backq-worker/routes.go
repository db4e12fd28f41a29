package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/backq/pkg/httpserver"
	"github.com/dmitrymomot/backq/pkg/logger"
	"github.com/dmitrymomot/backq/pkg/queue"
)

const defaultListLimit = 50

// newRouter exposes metrics, health probes and a small admin API over the
// manager's queues. Readiness runs the broker ping followed by checks.
func newRouter(m *queue.Manager, metrics http.Handler, healthTimeout time.Duration, log *slog.Logger, checks ...httpserver.Check) http.Handler {
	r := httpserver.NewRouter(log)

	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/healthz", httpserver.HealthCheckHandler(log, 0))
	ready := append([]httpserver.Check{{Name: "broker", Check: m.Ping}}, checks...)
	r.Get("/readyz", httpserver.HealthCheckHandler(log, healthTimeout, ready...))

	a := &admin{manager: m, logger: log}
	r.Route("/queues", func(r chi.Router) {
		r.Get("/", a.counts)
		r.Route("/{queue}", func(r chi.Router) {
			r.Use(a.withQueue)
			r.Get("/jobs", a.list)
			r.Get("/jobs/{id}", a.get)
			r.Delete("/jobs/{id}", a.remove)
			r.Post("/jobs/{id}/retry", a.retry)
		})
	})

	return r
}

type admin struct {
	manager *queue.Manager
	logger  *slog.Logger
}

type queueCtxKey struct{}

func (a *admin) withQueue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q, ok := a.manager.Lookup(chi.URLParam(r, "queue"))
		if !ok {
			httpserver.WriteError(w, http.StatusNotFound, "queue not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), queueCtxKey{}, q)))
	})
}

func queueFrom(r *http.Request) *queue.Queue {
	q, _ := r.Context().Value(queueCtxKey{}).(*queue.Queue)
	return q
}

func (a *admin) counts(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[queue.JobState]int64)
	for _, q := range a.manager.Queues() {
		counts, err := q.Counts(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		out[q.Name()] = counts
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (a *admin) list(w http.ResponseWriter, r *http.Request) {
	state := queue.JobState(r.URL.Query().Get("state"))
	if state == "" {
		state = queue.StateFailed
	}
	if !state.Valid() || state == queue.StateStalled {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid state")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpserver.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := queueFrom(r).List(r.Context(), state, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	httpserver.WriteJSON(w, http.StatusOK, jobs)
}

func (a *admin) get(w http.ResponseWriter, r *http.Request) {
	job, err := queueFrom(r).Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, job)
}

func (a *admin) remove(w http.ResponseWriter, r *http.Request) {
	if err := queueFrom(r).Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) retry(w http.ResponseWriter, r *http.Request) {
	if err := queueFrom(r).Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *admin) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		httpserver.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrJobActive), errors.Is(err, queue.ErrJobState):
		httpserver.WriteError(w, http.StatusConflict, err.Error())
	default:
		a.logger.ErrorContext(r.Context(), "admin request failed", logger.Error(err))
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
