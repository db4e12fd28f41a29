package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes jobs of one type. Handlers must be idempotent: a job may be
	// delivered more than once.
	Handler interface {
		Type() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// HandlerFunc processes a decoded payload.
	HandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewHandler wraps fn as the handler for jobType. The payload is decoded into T;
// a payload that does not decode fails the job without retrying.
func NewHandler[T any](jobType string, fn HandlerFunc[T]) Handler {
	return &typedHandler[T]{
		jobType: jobType,
		fn:      fn,
	}
}

type typedHandler[T any] struct {
	jobType string
	fn      HandlerFunc[T]
}

func (h *typedHandler[T]) Type() string {
	return h.jobType
}

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var p T
	if err := json.Unmarshal(payload, &p); err != nil {
		return Permanent(fmt.Errorf("%w: %s: %w", ErrPayloadDecode, h.jobType, err))
	}
	return h.fn(ctx, p)
}
