package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements queue.Broker on PostgreSQL. Claims and stall recovery lock
// rows with FOR UPDATE SKIP LOCKED, so concurrent workers never block on or
// double-claim the same job.
type Store struct {
	db    DB
	clock queue.Clock
}

var _ queue.Broker = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for readiness and lock expiry.
func WithClock(c queue.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a Store. The schema must have been applied with Migrate.
func New(db DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		clock: queue.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var columns = []string{
	"id", "queue", "type", "payload", "state", "attempts_made", "attempts_max",
	"backoff", "timeout_ns", "run_at", "created_at", "last_attempt_at",
	"finished_at", "last_error", "stalled_count", "lock_token", "locked_until",
}

var jobColumns = strings.Join(columns, ", ")

func prefixed(alias string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

const ownedClause = "id = $1 AND state = 'active' AND lock_token = $2"

// Ping implements queue.ProducerBroker.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Enqueue implements queue.ProducerBroker.
func (s *Store) Enqueue(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	backoff, err := json.Marshal(job.Backoff)
	if err != nil {
		return fmt.Errorf("encode backoff: %w", err)
	}
	var payload []byte
	if len(job.Payload) > 0 {
		payload = job.Payload
	}
	state := job.State
	if state.Pending() {
		state = queue.StateWaiting
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO backq_jobs (id, queue, type, payload, state, attempts_made, attempts_max,
			backoff, timeout_ns, run_at, created_at, last_error, stalled_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Queue, job.Type, payload, string(state), job.AttemptsMade, job.AttemptsMax,
		backoff, int64(job.Timeout), job.RunAt, job.CreatedAt, job.LastError, job.StalledCount)
	if isDuplicateKeyError(err) {
		return queue.ErrJobExists
	}
	return err
}

// Get implements queue.ProducerBroker.
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	row := s.db.QueryRow(ctx, "SELECT "+jobColumns+" FROM backq_jobs WHERE id = $1", id)
	job, err := scanJob(row, s.clock.Now())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	return job, err
}

// Remove implements queue.ProducerBroker.
func (s *Store) Remove(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM backq_jobs WHERE id = $1 AND state <> 'active'", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.conflict(ctx, id, queue.ErrJobActive)
}

// Requeue implements queue.ProducerBroker.
func (s *Store) Requeue(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE backq_jobs
		SET state = 'waiting', run_at = $2, attempts_made = 0, stalled_count = 0, finished_at = NULL
		WHERE id = $1 AND state = 'failed'`,
		id, s.clock.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.conflict(ctx, id, queue.ErrJobState)
}

// Counts implements queue.ProducerBroker.
func (s *Store) Counts(ctx context.Context, q string) (map[queue.JobState]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT CASE WHEN state = 'waiting' AND run_at > $2 THEN 'delayed' ELSE state END AS effective, count(*)
		FROM backq_jobs
		WHERE queue = $1
		GROUP BY effective`,
		q, s.clock.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[queue.JobState]int64, len(queue.AllStates))
	for _, st := range queue.AllStates {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[queue.JobState(state)] = n
	}
	return counts, rows.Err()
}

// List implements queue.ProducerBroker.
func (s *Store) List(ctx context.Context, q string, state queue.JobState, limit int) ([]*queue.Job, error) {
	now := s.clock.Now()
	args := []any{q}
	var cond string
	switch state {
	case queue.StateWaiting:
		cond = "state = 'waiting' AND run_at <= $2"
		args = append(args, now)
	case queue.StateDelayed:
		cond = "state = 'waiting' AND run_at > $2"
		args = append(args, now)
	case queue.StateActive, queue.StateCompleted, queue.StateFailed:
		cond = "state = $2"
		args = append(args, string(state))
	default:
		return nil, nil
	}

	sql := "SELECT " + jobColumns + " FROM backq_jobs WHERE queue = $1 AND " + cond +
		" ORDER BY run_at, created_at, id"
	if limit > 0 {
		sql += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows, now)
}

// Claim implements queue.ConsumerBroker.
func (s *Store) Claim(ctx context.Context, q, token string, lockFor time.Duration) (*queue.Job, error) {
	now := s.clock.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE backq_jobs
		SET state = 'active', lock_token = $2, locked_until = $3, last_attempt_at = $4,
			attempts_made = attempts_made + 1
		WHERE id = (
			SELECT id FROM backq_jobs
			WHERE queue = $1 AND state = 'waiting' AND run_at <= $4
			ORDER BY run_at, created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		q, token, now.Add(lockFor), now)

	job, err := scanJob(row, now)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNoJobReady
	}
	return job, err
}

// Heartbeat implements queue.ConsumerBroker.
func (s *Store) Heartbeat(ctx context.Context, id, token string, lockFor time.Duration) error {
	return s.transition(ctx,
		"UPDATE backq_jobs SET locked_until = $3 WHERE "+ownedClause,
		id, token, s.clock.Now().Add(lockFor))
}

// Complete implements queue.ConsumerBroker.
func (s *Store) Complete(ctx context.Context, id, token string, remove bool) error {
	if remove {
		return s.transition(ctx, "DELETE FROM backq_jobs WHERE "+ownedClause, id, token)
	}
	return s.transition(ctx, `
		UPDATE backq_jobs
		SET state = 'completed', finished_at = $3, last_error = '', lock_token = NULL, locked_until = NULL
		WHERE `+ownedClause,
		id, token, s.clock.Now())
}

// Retry implements queue.ConsumerBroker.
func (s *Store) Retry(ctx context.Context, id, token string, runAt time.Time, errMsg string) error {
	return s.transition(ctx, `
		UPDATE backq_jobs
		SET state = 'waiting', run_at = $3, last_error = $4, lock_token = NULL, locked_until = NULL
		WHERE `+ownedClause,
		id, token, runAt, errMsg)
}

// Fail implements queue.ConsumerBroker.
func (s *Store) Fail(ctx context.Context, id, token string, errMsg string) error {
	return s.transition(ctx, `
		UPDATE backq_jobs
		SET state = 'failed', finished_at = $3, last_error = $4, lock_token = NULL, locked_until = NULL
		WHERE `+ownedClause,
		id, token, s.clock.Now(), errMsg)
}

// RecoverStalled implements queue.ConsumerBroker.
func (s *Store) RecoverStalled(ctx context.Context, q string, maxStalled int) ([]*queue.Job, error) {
	now := s.clock.Now()
	rows, err := s.db.Query(ctx, `
		WITH stalled AS (
			SELECT id FROM backq_jobs
			WHERE queue = $1 AND state = 'active' AND locked_until < $2
			ORDER BY id
			FOR UPDATE SKIP LOCKED
		)
		UPDATE backq_jobs j
		SET stalled_count = j.stalled_count + 1,
			state         = CASE WHEN j.stalled_count + 1 > $3 THEN 'failed' ELSE 'waiting' END,
			finished_at   = CASE WHEN j.stalled_count + 1 > $3 THEN $2 ELSE j.finished_at END,
			last_error    = CASE WHEN j.stalled_count + 1 > $3 THEN $4 ELSE j.last_error END,
			run_at        = CASE WHEN j.stalled_count + 1 > $3 THEN j.run_at ELSE $2 END,
			attempts_made = CASE WHEN j.stalled_count + 1 > $3 THEN j.attempts_made ELSE GREATEST(j.attempts_made - 1, 0) END,
			lock_token    = NULL,
			locked_until  = NULL
		FROM stalled
		WHERE j.id = stalled.id
		RETURNING `+prefixed("j"),
		q, now, maxStalled, queue.ErrJobStalled.Error())
	if err != nil {
		return nil, err
	}
	return collectJobs(rows, now)
}

func (s *Store) transition(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrLockLost
	}
	return nil
}

// conflict distinguishes a missing job from one in the wrong state.
func (s *Store) conflict(ctx context.Context, id string, stateErr error) error {
	var exists bool
	if err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM backq_jobs WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return queue.ErrJobNotFound
	}
	return stateErr
}

func collectJobs(rows pgx.Rows, now time.Time) ([]*queue.Job, error) {
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row, now time.Time) (*queue.Job, error) {
	var (
		job       queue.Job
		state     string
		payload   []byte
		backoff   []byte
		timeout   int64
		lockToken *string
	)
	err := row.Scan(
		&job.ID, &job.Queue, &job.Type, &payload, &state, &job.AttemptsMade, &job.AttemptsMax,
		&backoff, &timeout, &job.RunAt, &job.CreatedAt, &job.LastAttemptAt,
		&job.FinishedAt, &job.LastError, &job.StalledCount, &lockToken, &job.LockedUntil,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		job.Payload = json.RawMessage(payload)
	}
	if err := json.Unmarshal(backoff, &job.Backoff); err != nil {
		return nil, errors.Join(ErrMalformedJob, err)
	}
	if lockToken != nil {
		job.LockToken = *lockToken
	}
	job.Timeout = time.Duration(timeout)
	job.State = queue.EffectiveState(queue.JobState(state), job.RunAt, now)
	return &job, nil
}
