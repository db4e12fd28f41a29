package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// Store implements queue.Broker on Redis. Every state transition runs as a Lua
// script, so a claim and a stall recovery can never interleave on the same job.
type Store struct {
	client redis.UniversalClient
	prefix string
	clock  queue.Clock
}

var _ queue.Broker = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Defaults to "backq".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock sets the clock used for readiness and lock expiry.
// All processes sharing a Redis instance should run on synchronised clocks.
func WithClock(c queue.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a Store on top of client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "backq",
		clock:  queue.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping implements queue.ProducerBroker.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Enqueue implements queue.ProducerBroker.
func (s *Store) Enqueue(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	fields, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	args := append([]any{s.prefix, job.ID, job.Queue, score(job.RunAt)}, fields...)
	created, err := enqueueScript.Run(ctx, s.client, nil, args...).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return queue.ErrJobExists
	}
	return nil
}

// Get implements queue.ProducerBroker.
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, queue.ErrJobNotFound
	}
	return decodeJob(fields, s.clock.Now())
}

// Remove implements queue.ProducerBroker.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := removeScript.Run(ctx, s.client, nil, s.prefix, id).Int()
	if err != nil {
		return err
	}
	return statusError(res, queue.ErrJobActive)
}

// Requeue implements queue.ProducerBroker.
func (s *Store) Requeue(ctx context.Context, id string) error {
	now := s.clock.Now()
	res, err := requeueScript.Run(ctx, s.client, nil, s.prefix, id, score(now), formatTime(now)).Int()
	if err != nil {
		return err
	}
	return statusError(res, queue.ErrJobState)
}

// Counts implements queue.ProducerBroker.
func (s *Store) Counts(ctx context.Context, q string) (map[queue.JobState]int64, error) {
	now := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)

	pipe := s.client.Pipeline()
	waiting := pipe.ZCount(ctx, s.queueKey(q, "pending"), "-inf", now)
	delayed := pipe.ZCount(ctx, s.queueKey(q, "pending"), "("+now, "+inf")
	active := pipe.ZCard(ctx, s.queueKey(q, "active"))
	completed := pipe.ZCard(ctx, s.queueKey(q, "completed"))
	failed := pipe.ZCard(ctx, s.queueKey(q, "failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return map[queue.JobState]int64{
		queue.StateWaiting:   waiting.Val(),
		queue.StateDelayed:   delayed.Val(),
		queue.StateActive:    active.Val(),
		queue.StateCompleted: completed.Val(),
		queue.StateFailed:    failed.Val(),
	}, nil
}

// List implements queue.ProducerBroker.
func (s *Store) List(ctx context.Context, q string, state queue.JobState, limit int) ([]*queue.Job, error) {
	count := int64(limit)
	if limit <= 0 {
		count = -1
	}
	now := s.clock.Now()
	nowScore := strconv.FormatInt(now.UnixMilli(), 10)

	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: count}
	key := s.queueKey(q, string(state))
	switch state {
	case queue.StateWaiting:
		key, rng.Max = s.queueKey(q, "pending"), nowScore
	case queue.StateDelayed:
		key, rng.Min = s.queueKey(q, "pending"), "("+nowScore
	case queue.StateActive, queue.StateCompleted, queue.StateFailed:
	default:
		return nil, queue.ErrJobState
	}

	ids, err := s.client.ZRangeByScore(ctx, key, rng).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // removed between the range and the read
		}
		job, err := decodeJob(fields, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Claim implements queue.ConsumerBroker.
func (s *Store) Claim(ctx context.Context, q, token string, lockFor time.Duration) (*queue.Job, error) {
	now := s.clock.Now()
	lockedUntil := now.Add(lockFor)

	reply, err := claimScript.Run(ctx, s.client, nil,
		s.prefix, q, now.UnixMilli(), token, score(lockedUntil), formatTime(lockedUntil), formatTime(now),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrNoJobReady
	}
	if err != nil {
		return nil, err
	}

	fields, err := flatToMap(reply)
	if err != nil {
		return nil, err
	}
	return decodeJob(fields, now)
}

// Heartbeat implements queue.ConsumerBroker.
func (s *Store) Heartbeat(ctx context.Context, id, token string, lockFor time.Duration) error {
	lockedUntil := s.clock.Now().Add(lockFor)
	return s.owned(heartbeatScript.Run(ctx, s.client, nil,
		s.prefix, id, token, score(lockedUntil), formatTime(lockedUntil)))
}

// Complete implements queue.ConsumerBroker.
func (s *Store) Complete(ctx context.Context, id, token string, remove bool) error {
	now := s.clock.Now()
	flag := "0"
	if remove {
		flag = "1"
	}
	return s.owned(completeScript.Run(ctx, s.client, nil,
		s.prefix, id, token, flag, score(now), formatTime(now)))
}

// Retry implements queue.ConsumerBroker.
func (s *Store) Retry(ctx context.Context, id, token string, runAt time.Time, errMsg string) error {
	return s.owned(retryScript.Run(ctx, s.client, nil,
		s.prefix, id, token, score(runAt), formatTime(runAt), errMsg))
}

// Fail implements queue.ConsumerBroker.
func (s *Store) Fail(ctx context.Context, id, token string, errMsg string) error {
	now := s.clock.Now()
	return s.owned(failScript.Run(ctx, s.client, nil,
		s.prefix, id, token, score(now), formatTime(now), errMsg))
}

// RecoverStalled implements queue.ConsumerBroker.
func (s *Store) RecoverStalled(ctx context.Context, q string, maxStalled int) ([]*queue.Job, error) {
	now := s.clock.Now()
	replies, err := recoverScript.Run(ctx, s.client, nil,
		s.prefix, q, now.UnixMilli(), formatTime(now), maxStalled, queue.ErrJobStalled.Error(),
	).Slice()
	if err != nil {
		return nil, err
	}

	jobs := make([]*queue.Job, 0, len(replies))
	for _, reply := range replies {
		fields, err := flatToMap(reply)
		if err != nil {
			return nil, err
		}
		job, err := decodeJob(fields, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Store) owned(cmd *redis.Cmd) error {
	ok, err := cmd.Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return queue.ErrLockLost
	}
	return nil
}

func (s *Store) jobKey(id string) string {
	return s.prefix + ":job:" + id
}

func (s *Store) queueKey(q, bucket string) string {
	return s.prefix + ":q:" + q + ":" + bucket
}

// statusError maps the -1/-2 replies of remove and requeue.
func statusError(res int, conflict error) error {
	switch res {
	case -1:
		return queue.ErrJobNotFound
	case -2:
		return conflict
	}
	return nil
}
