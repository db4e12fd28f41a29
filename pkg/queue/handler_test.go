package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// Test payload types
type handlerTestPayload struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

var testKind = queue.NewKind[handlerTestPayload]("TestJob")

func TestNewHandler(t *testing.T) {
	t.Parallel()

	t.Run("handler processes payload correctly", func(t *testing.T) {
		t.Parallel()

		received := make(chan handlerTestPayload, 1)
		handler := queue.NewHandler("TestJob", func(ctx context.Context, payload handlerTestPayload) error {
			received <- payload
			return nil
		})
		assert.Equal(t, "TestJob", handler.Type())

		expected := handlerTestPayload{Message: "test", Value: 42}
		jsonPayload, err := json.Marshal(expected)
		require.NoError(t, err)

		require.NoError(t, handler.Handle(context.Background(), jsonPayload))

		select {
		case actual := <-received:
			assert.Equal(t, expected, actual)
		default:
			t.Fatal("handler did not receive payload")
		}
	})

	t.Run("handler returns error from function", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("processing failed")
		handler := queue.NewHandler("TestJob", func(ctx context.Context, payload handlerTestPayload) error {
			return expectedErr
		})

		err := handler.Handle(context.Background(), json.RawMessage(`{}`))
		assert.ErrorIs(t, err, expectedErr)
		assert.False(t, queue.IsPermanent(err))
	})

	t.Run("undecodable payload is a permanent failure", func(t *testing.T) {
		t.Parallel()

		handler := queue.NewHandler("TestJob", func(ctx context.Context, payload handlerTestPayload) error {
			return nil
		})

		err := handler.Handle(context.Background(), json.RawMessage("invalid json"))
		require.Error(t, err)
		assert.ErrorIs(t, err, queue.ErrPayloadDecode)
		assert.True(t, queue.IsPermanent(err))
	})
}

func TestKind(t *testing.T) {
	t.Parallel()

	t.Run("handler and submit share the wire name", func(t *testing.T) {
		t.Parallel()

		m, _, _ := newTestManager(t)
		q, err := m.Queue(context.Background(), "kind")
		require.NoError(t, err)

		handle, err := testKind.Submit(context.Background(), q, handlerTestPayload{Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "TestJob", handle.Type)

		h := testKind.Handler(func(ctx context.Context, p handlerTestPayload) error { return nil })
		assert.Equal(t, testKind.Name(), h.Type())
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, p handlerTestPayload) error { return nil }

	t.Run("resolves registered handler", func(t *testing.T) {
		t.Parallel()

		reg := queue.NewRegistry()
		require.NoError(t, reg.Register(queue.NewHandler("A", noop), queue.NewHandler("B", noop)))

		h, err := reg.Resolve("B")
		require.NoError(t, err)
		assert.Equal(t, "B", h.Type())
		assert.Equal(t, []string{"A", "B"}, reg.Types())
		assert.Equal(t, 2, reg.Len())
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewRegistry().Resolve("missing")
		assert.ErrorIs(t, err, queue.ErrHandlerNotFound)
	})

	t.Run("duplicate type is rejected", func(t *testing.T) {
		t.Parallel()

		reg := queue.NewRegistry()
		require.NoError(t, reg.Register(queue.NewHandler("A", noop)))
		assert.ErrorIs(t, reg.Register(queue.NewHandler("A", noop)), queue.ErrHandlerExists)
	})

	t.Run("empty type is rejected", func(t *testing.T) {
		t.Parallel()

		assert.ErrorIs(t, queue.NewRegistry().Register(queue.NewHandler("", noop)), queue.ErrJobTypeEmpty)
	})

	t.Run("frozen after worker start", func(t *testing.T) {
		t.Parallel()

		m, _, _ := newTestManager(t)
		q, err := m.Queue(context.Background(), "frozen", queue.WithoutRateLimit())
		require.NoError(t, err)

		reg := queue.NewRegistry()
		require.NoError(t, reg.Register(queue.NewHandler("A", noop)))

		w, err := queue.NewWorker(q, reg, queue.WithWorkerLogger(discardLogger()))
		require.NoError(t, err)
		require.NoError(t, w.Start(context.Background()))
		t.Cleanup(func() { _ = w.Stop() })

		assert.ErrorIs(t, reg.Register(queue.NewHandler("B", noop)), queue.ErrRegistryFrozen)
	})
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	base := errors.New("bad input")
	err := queue.Permanent(base)

	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "bad input", err.Error())
	assert.Nil(t, queue.Permanent(nil))
	assert.False(t, queue.IsPermanent(base))
}
