package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/logger"
	"github.com/dmitrymomot/backq/pkg/queue"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json at info by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))

		log.Debug("hidden")
		assert.Empty(t, buf.String())

		log.Info("hello")
		entry := decodeEntry(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format and level", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithFormat(logger.FormatText),
			logger.WithLevel(slog.LevelDebug),
		)
		log.Debug("hello")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("unknown format is ignored", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithFormat("xml"))
		log.Info("hello")
		assert.Equal(t, "hello", decodeEntry(t, buf)["msg"])
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("svc", "test")))
		log.Info("msg")
		assert.Equal(t, "test", decodeEntry(t, buf)["svc"])
	})

	t.Run("context extractors survive With", func(t *testing.T) {
		t.Parallel()
		type key string
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
				if v, ok := ctx.Value(key("id")).(string); ok {
					return slog.String("id", v), true
				}
				return slog.Attr{}, false
			}),
		).With(logger.Component("worker"))

		log.InfoContext(context.WithValue(context.Background(), key("id"), "42"), "msg")
		entry := decodeEntry(t, buf)
		assert.Equal(t, "42", entry["id"])
		assert.Equal(t, "worker", entry["component"])
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env       string
		wantEnv   string
		wantDebug bool
		wantJSON  bool
	}{
		{"development", logger.EnvDevelopment, true, false},
		{"dev", logger.EnvDevelopment, true, false},
		{"staging", logger.EnvStaging, false, true},
		{"PROD", logger.EnvProduction, false, true},
		{"unknown", logger.EnvDevelopment, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := logger.New(logger.WithEnvironment(tt.env, "svc"), logger.WithOutput(buf))

			log.Debug("check")
			assert.Equal(t, tt.wantDebug, buf.Len() > 0)

			buf.Reset()
			log.Info("check")
			if tt.wantJSON {
				entry := decodeEntry(t, buf)
				assert.Equal(t, "svc", entry["service"])
				assert.Equal(t, tt.wantEnv, entry["env"])
				return
			}
			assert.Contains(t, buf.String(), "service=svc")
			assert.Contains(t, buf.String(), "env="+tt.wantEnv)
		})
	}
}

func TestWithConfig(t *testing.T) {
	t.Parallel()

	t.Run("explicit level overrides the preset", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithConfig(logger.Config{Environment: "production", ServiceName: "worker", Level: "debug"}),
			logger.WithOutput(buf),
		)
		log.Debug("msg")

		entry := decodeEntry(t, buf)
		assert.Equal(t, "worker", entry["service"])
		assert.Equal(t, "production", entry["env"])
		assert.Equal(t, "DEBUG", entry["level"])
	})

	t.Run("unknown values keep the preset", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithConfig(logger.Config{Environment: "dev", ServiceName: "worker", Level: "loud", Format: "xml"}),
			logger.WithOutput(buf),
		)
		log.Debug("msg")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "service=worker")
	})

	t.Run("format override", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithConfig(logger.Config{Environment: "development", Format: "JSON"}),
			logger.WithOutput(buf),
		)
		log.Info("msg")
		assert.Equal(t, "development", decodeEntry(t, buf)["env"])
	})
}

func TestWithJobContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf), logger.WithJobContext())

	ctx := queue.WithJobInfo(context.Background(), queue.JobInfo{
		ID: "j1", Queue: "email", Type: "SendEmail:welcome", Attempt: 2, MaxAttempts: 5,
	})
	log.InfoContext(ctx, "sending")

	job, ok := decodeEntry(t, buf)["job"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "j1", job["id"])
	assert.Equal(t, "email", job["queue"])
	assert.Equal(t, "SendEmail:welcome", job["type"])
	assert.EqualValues(t, 2, job["attempt"])

	buf.Reset()
	log.InfoContext(context.Background(), "idle")
	assert.NotContains(t, buf.String(), `"job"`)
}

func TestSetAsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decodeEntry(t, buf)["msg"])
}
