package ratelimit

import "errors"

var (
	// ErrInvalidLimit is returned when the limit is not positive
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrInvalidInterval is returned when the window is not positive
	ErrInvalidInterval = errors.New("invalid interval")
	// ErrKeyRequired is returned when an empty key is used
	ErrKeyRequired = errors.New("key is required")
	// ErrStoreRequired is returned when no store is provided
	ErrStoreRequired = errors.New("store is required")
	// ErrStoreUnavailable wraps failures of the backing store
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
