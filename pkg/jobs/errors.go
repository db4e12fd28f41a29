package jobs

import "errors"

var (
	ErrAccountNotFound    = errors.New("jobs: account not found")
	ErrMissingDependency  = errors.New("jobs: missing dependency")
	ErrUnknownQueue       = errors.New("jobs: unknown queue")
	ErrUnknownTicketEvent = errors.New("jobs: unknown ticket event")
	ErrInvalidPayload     = errors.New("jobs: invalid payload")
)
