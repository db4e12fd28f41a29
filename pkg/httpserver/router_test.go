package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/httpserver"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheckHandler(t *testing.T) {
	t.Parallel()

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		httpserver.HealthCheckHandler(nil, 0)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alive", decodeBody(t, rec)["status"])
	})

	t.Run("ready", func(t *testing.T) {
		t.Parallel()

		ok := httpserver.Check{Name: "broker", Check: func(context.Context) error { return nil }}
		rec := httptest.NewRecorder()
		httpserver.HealthCheckHandler(nil, time.Second, ok)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", decodeBody(t, rec)["status"])
	})

	t.Run("failing check is reported by name", func(t *testing.T) {
		t.Parallel()

		checks := []httpserver.Check{
			{Name: "broker", Check: func(context.Context) error { return errors.New("connection refused") }},
			{Name: "limiter", Check: func(context.Context) error { return nil }},
		}
		rec := httptest.NewRecorder()
		httpserver.HealthCheckHandler(nil, time.Second, checks...)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "not_ready", body["status"])
		assert.Equal(t, map[string]any{"broker": "connection refused"}, body["checks"])
	})

	t.Run("timeout bounds checks", func(t *testing.T) {
		t.Parallel()

		slow := httpserver.Check{Name: "broker", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		rec := httptest.NewRecorder()
		httpserver.HealthCheckHandler(nil, 10*time.Millisecond, slow)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestNewRouter(t *testing.T) {
	t.Parallel()

	r := httpserver.NewRouter(nil)
	r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
	r.Get("/json", func(w http.ResponseWriter, _ *http.Request) {
		httpserver.WriteJSON(w, http.StatusCreated, map[string]int{"n": 1})
	})

	t.Run("json helper", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/json", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.EqualValues(t, 1, decodeBody(t, rec)["n"])
	})

	t.Run("panics are recovered", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not found", decodeBody(t, rec)["error"])
	})
}
