package file

import "context"

// Remover deletes one stored object by key. Removing an object that is
// already gone succeeds, so retried cleanup jobs converge.
type Remover interface {
	Remove(ctx context.Context, key string) error
}

// RemoverFunc adapts a function to Remover.
type RemoverFunc func(ctx context.Context, key string) error

// Remove implements Remover.
func (f RemoverFunc) Remove(ctx context.Context, key string) error {
	return f(ctx, key)
}
