package jobs

import (
	"context"
	"time"
)

// Account is the authoritative user state account handlers act on.
type Account struct {
	ID                  string
	Email               string
	Name                string
	Banned              bool
	BannedUntil         *time.Time // nil with Banned set means a permanent ban
	DeletionScheduledAt *time.Time
	AvatarPublicID      string
}

// Accounts is the user store account handlers mutate. Every method must be
// safe to repeat.
type Accounts interface {
	// Get returns ErrAccountNotFound for a missing account.
	Get(ctx context.Context, id string) (*Account, error)
	Ban(ctx context.Context, id string, until *time.Time) error
	Unban(ctx context.Context, id string) error
	ScheduleDeletion(ctx context.Context, id string, at time.Time) error
	// Delete succeeds for an account that is already gone.
	Delete(ctx context.Context, id string) error
}
