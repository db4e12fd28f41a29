package mongostore

import (
	"encoding/json"
	"time"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// jobDocument is the persisted form of a job. Waiting and delayed jobs are both
// stored as "waiting"; the split is derived from run_at on read.
type jobDocument struct {
	ID            string          `bson:"_id"`
	Queue         string          `bson:"queue"`
	Type          string          `bson:"type"`
	Payload       string          `bson:"payload"`
	State         string          `bson:"state"`
	AttemptsMade  int             `bson:"attempts_made"`
	AttemptsMax   int             `bson:"attempts_max"`
	Backoff       backoffDocument `bson:"backoff"`
	Timeout       int64           `bson:"timeout"`
	RunAt         time.Time       `bson:"run_at"`
	CreatedAt     time.Time       `bson:"created_at"`
	LastAttemptAt *time.Time      `bson:"last_attempt_at,omitempty"`
	FinishedAt    *time.Time      `bson:"finished_at,omitempty"`
	LastError     string          `bson:"last_error,omitempty"`
	StalledCount  int             `bson:"stalled_count"`
	LockToken     string          `bson:"lock_token,omitempty"`
	LockedUntil   *time.Time      `bson:"locked_until,omitempty"`
}

type backoffDocument struct {
	Type string `bson:"type"`
	Base int64  `bson:"base"`
	Max  int64  `bson:"max"`
}

// ceilMillis rounds t up to BSON date precision, so a stored run_at is never
// earlier than the requested one.
func ceilMillis(t time.Time) time.Time {
	r := t.Truncate(time.Millisecond)
	if r.Before(t) {
		r = r.Add(time.Millisecond)
	}
	return r
}

func toDocument(job *queue.Job) jobDocument {
	state := job.State
	if state.Pending() {
		state = queue.StateWaiting
	}
	return jobDocument{
		ID:           job.ID,
		Queue:        job.Queue,
		Type:         job.Type,
		Payload:      string(job.Payload),
		State:        string(state),
		AttemptsMade: job.AttemptsMade,
		AttemptsMax:  job.AttemptsMax,
		Backoff: backoffDocument{
			Type: string(job.Backoff.Type),
			Base: int64(job.Backoff.Base),
			Max:  int64(job.Backoff.Max),
		},
		Timeout:       int64(job.Timeout),
		RunAt:         ceilMillis(job.RunAt),
		CreatedAt:     job.CreatedAt,
		LastAttemptAt: job.LastAttemptAt,
		FinishedAt:    job.FinishedAt,
		LastError:     job.LastError,
		StalledCount:  job.StalledCount,
		LockToken:     job.LockToken,
		LockedUntil:   job.LockedUntil,
	}
}

func (d jobDocument) toJob(now time.Time) *queue.Job {
	job := &queue.Job{
		ID:           d.ID,
		Queue:        d.Queue,
		Type:         d.Type,
		State:        queue.EffectiveState(queue.JobState(d.State), d.RunAt, now),
		AttemptsMade: d.AttemptsMade,
		AttemptsMax:  d.AttemptsMax,
		Backoff: queue.Backoff{
			Type: queue.BackoffType(d.Backoff.Type),
			Base: time.Duration(d.Backoff.Base),
			Max:  time.Duration(d.Backoff.Max),
		},
		Timeout:       time.Duration(d.Timeout),
		RunAt:         d.RunAt,
		CreatedAt:     d.CreatedAt,
		LastAttemptAt: d.LastAttemptAt,
		FinishedAt:    d.FinishedAt,
		LastError:     d.LastError,
		StalledCount:  d.StalledCount,
		LockToken:     d.LockToken,
		LockedUntil:   d.LockedUntil,
	}
	if d.Payload != "" {
		job.Payload = json.RawMessage(d.Payload)
	}
	return job
}
