package queue

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps job types to handlers for one queue.
// It is frozen when a worker starts; registering afterwards fails.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds handlers. A second handler for the same type is rejected.
func (r *Registry) Register(handlers ...Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}

	for _, h := range handlers {
		if h == nil {
			continue
		}
		if h.Type() == "" {
			return ErrJobTypeEmpty
		}
		if _, exists := r.handlers[h.Type()]; exists {
			return fmt.Errorf("%w: %s", ErrHandlerExists, h.Type())
		}
		r.handlers[h.Type()] = h
	}
	return nil
}

// Resolve returns the handler for jobType.
func (r *Registry) Resolve(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, jobType)
	}
	return h, nil
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

func (r *Registry) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}
