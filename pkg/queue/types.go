package queue

import (
	"encoding/json"
	"time"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	// StateStalled is reported in events only; a recovered job is persisted as
	// waiting or failed.
	StateStalled JobState = "stalled"
)

// AllStates lists every persisted state in display order.
var AllStates = []JobState{StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	switch s {
	case StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed, StateStalled:
		return true
	}
	return false
}

// Pending reports whether a job in this state is eligible for claiming once its RunAt passes.
func (s JobState) Pending() bool {
	return s == StateWaiting || s == StateDelayed
}

// Terminal reports whether no further transitions happen without operator action.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// EffectiveState resolves the waiting/delayed split against the current time.
// Brokers persist both as "pending" and use this to report a consistent view.
func EffectiveState(s JobState, runAt, now time.Time) JobState {
	if !s.Pending() {
		return s
	}
	if runAt.After(now) {
		return StateDelayed
	}
	return StateWaiting
}

// Job is one unit of submitted work as persisted by a Broker.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	AttemptsMax  int             `json:"attempts_max"`
	Backoff      Backoff         `json:"backoff"`
	// Timeout bounds a single execution; zero means the worker default applies.
	Timeout       time.Duration `json:"timeout,omitempty"`
	RunAt         time.Time     `json:"run_at"`
	CreatedAt     time.Time     `json:"created_at"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	StalledCount  int           `json:"stalled_count"`

	// Claim ownership. A worker may only transition an active job while it holds
	// the token it received from Claim.
	LockToken   string     `json:"lock_token,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// AttemptsLeft reports whether a failed execution may be retried.
func (j *Job) AttemptsLeft() bool {
	return j.AttemptsMade < j.AttemptsMax
}

// Handle returns the producer-facing view of the job.
func (j *Job) Handle() *JobHandle {
	return &JobHandle{
		ID:    j.ID,
		Queue: j.Queue,
		Type:  j.Type,
		State: j.State,
		RunAt: j.RunAt,
	}
}

// Clone returns a deep copy so callers cannot mutate broker-owned records.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	c.LastAttemptAt = cloneTime(j.LastAttemptAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	c.LockedUntil = cloneTime(j.LockedUntil)
	return &c
}

// JobHandle is returned by Submit. It carries identity only; the job itself is
// owned by the broker.
type JobHandle struct {
	ID    string    `json:"id"`
	Queue string    `json:"queue"`
	Type  string    `json:"type"`
	State JobState  `json:"state"`
	RunAt time.Time `json:"run_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
