package queue

import (
	"fmt"
	"time"
)

// BackoffType selects the growth law of retry delays.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// DefaultBackoffCap bounds exponential delays when Backoff.Max is not set.
const DefaultBackoffCap = time.Hour

// Backoff describes the delay inserted before each retry.
type Backoff struct {
	Type BackoffType   `json:"type"`
	Base time.Duration `json:"base"`
	// Max caps exponential growth; zero means DefaultBackoffCap.
	Max time.Duration `json:"max,omitempty"`
}

// ExponentialBackoff returns a backoff of base * 2^(attempt-1), capped at maxDelay.
func ExponentialBackoff(base, maxDelay time.Duration) Backoff {
	return Backoff{Type: BackoffExponential, Base: base, Max: maxDelay}
}

// FixedBackoff returns a backoff that always waits d.
func FixedBackoff(d time.Duration) Backoff {
	return Backoff{Type: BackoffFixed, Base: d}
}

// Validate checks the backoff definition.
func (b Backoff) Validate() error {
	switch b.Type {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("%w: unknown backoff type %q", ErrInvalidOptions, b.Type)
	}
	if b.Base < 0 {
		return fmt.Errorf("%w: backoff base must not be negative, got %v", ErrInvalidOptions, b.Base)
	}
	if b.Max < 0 {
		return fmt.Errorf("%w: backoff cap must not be negative, got %v", ErrInvalidOptions, b.Max)
	}
	return nil
}

// Delay returns how long to wait before retrying after the given failed attempt
// (1-indexed: attempt 1 is the first execution).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if b.Type == BackoffFixed {
		return b.Base
	}

	capDelay := b.Max
	if capDelay <= 0 {
		capDelay = DefaultBackoffCap
	}

	// Doubling step by step stops at the cap before the duration can overflow.
	d := b.Base
	for i := 1; i < attempt; i++ {
		if d >= capDelay {
			break
		}
		d *= 2
	}
	return min(d, capDelay)
}
