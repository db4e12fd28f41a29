package redisstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// Hash field names of a job record.
const (
	fieldID            = "id"
	fieldQueue         = "queue"
	fieldType          = "type"
	fieldPayload       = "payload"
	fieldState         = "state"
	fieldAttemptsMade  = "attempts_made"
	fieldAttemptsMax   = "attempts_max"
	fieldBackoff       = "backoff"
	fieldTimeout       = "timeout"
	fieldRunAt         = "run_at"
	fieldCreatedAt     = "created_at"
	fieldLastAttemptAt = "last_attempt_at"
	fieldFinishedAt    = "finished_at"
	fieldLastError     = "last_error"
	fieldStalledCount  = "stalled_count"
	fieldLockToken     = "lock_token"
	fieldLockedUntil   = "locked_until"
)

// pending jobs are stored as waiting; delayed is derived from run_at on read.
func encodeJob(job *queue.Job) ([]any, error) {
	backoff, err := json.Marshal(job.Backoff)
	if err != nil {
		return nil, err
	}
	state := job.State
	if state.Pending() {
		state = queue.StateWaiting
	}

	args := []any{
		fieldID, job.ID,
		fieldQueue, job.Queue,
		fieldType, job.Type,
		fieldPayload, string(job.Payload),
		fieldState, string(state),
		fieldAttemptsMade, job.AttemptsMade,
		fieldAttemptsMax, job.AttemptsMax,
		fieldBackoff, string(backoff),
		fieldTimeout, int64(job.Timeout),
		fieldRunAt, formatTime(job.RunAt),
		fieldCreatedAt, formatTime(job.CreatedAt),
		fieldStalledCount, job.StalledCount,
	}
	if job.LastError != "" {
		args = append(args, fieldLastError, job.LastError)
	}
	return args, nil
}

func decodeJob(fields map[string]string, now time.Time) (*queue.Job, error) {
	if fields[fieldID] == "" {
		return nil, ErrMalformedJob
	}

	job := &queue.Job{
		ID:        fields[fieldID],
		Queue:     fields[fieldQueue],
		Type:      fields[fieldType],
		State:     queue.JobState(fields[fieldState]),
		LastError: fields[fieldLastError],
		LockToken: fields[fieldLockToken],
	}
	if p := fields[fieldPayload]; p != "" {
		job.Payload = json.RawMessage(p)
	}
	if b := fields[fieldBackoff]; b != "" {
		if err := json.Unmarshal([]byte(b), &job.Backoff); err != nil {
			return nil, errors.Join(ErrMalformedJob, err)
		}
	}

	var err error
	if job.AttemptsMade, err = atoi(fields[fieldAttemptsMade]); err != nil {
		return nil, err
	}
	if job.AttemptsMax, err = atoi(fields[fieldAttemptsMax]); err != nil {
		return nil, err
	}
	if job.StalledCount, err = atoi(fields[fieldStalledCount]); err != nil {
		return nil, err
	}
	timeout, err := atoi(fields[fieldTimeout])
	if err != nil {
		return nil, err
	}
	job.Timeout = time.Duration(timeout)

	if job.RunAt, err = parseTime(fields[fieldRunAt]); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return nil, err
	}
	if job.LastAttemptAt, err = parseOptionalTime(fields[fieldLastAttemptAt]); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseOptionalTime(fields[fieldFinishedAt]); err != nil {
		return nil, err
	}
	if job.LockedUntil, err = parseOptionalTime(fields[fieldLockedUntil]); err != nil {
		return nil, err
	}

	job.State = queue.EffectiveState(job.State, job.RunAt, now)
	return job, nil
}

// flatToMap converts a Lua HGETALL reply into a field map.
func flatToMap(reply any) (map[string]string, error) {
	items, ok := reply.([]any)
	if !ok || len(items)%2 != 0 {
		return nil, fmt.Errorf("%w: unexpected reply %T", ErrMalformedJob, reply)
	}
	m := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		k, _ := items[i].(string)
		v, _ := items[i+1].(string)
		m[k] = v
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// score rounds up to the millisecond so a job is never claimed before its run time.
func score(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.UnixNano()%int64(time.Millisecond) > 0 {
		ms++
	}
	return ms
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Join(ErrMalformedJob, err)
	}
	return t, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Join(ErrMalformedJob, err)
	}
	return n, nil
}
