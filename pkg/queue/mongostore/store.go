package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/backq/pkg/queue"
)

// Store implements queue.Broker on a MongoDB collection. Claims use
// FindOneAndUpdate, and every lock-guarded transition filters on the lock token,
// so each operation is atomic on its single job document.
type Store struct {
	coll  *mongo.Collection
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

// readyOrder is the claim and listing order: run time, then creation time, then id.
var readyOrder = bson.D{{Key: "run_at", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// New creates a Store over coll and ensures its indexes exist.
func New(ctx context.Context, coll *mongo.Collection, opts ...Option) (*Store, error) {
	s := &Store{
		coll:  coll,
		clock: queue.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "queue", Value: 1}, {Key: "state", Value: 1}, {Key: "run_at", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "queue", Value: 1}, {Key: "state", Value: 1}, {Key: "locked_until", Value: 1}}},
	})
	if err != nil {
		return nil, errors.Join(ErrCreateIndexes, err)
	}
	return s, nil
}

// Ping implements queue.ProducerBroker.
func (s *Store) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

// Enqueue implements queue.ProducerBroker.
func (s *Store) Enqueue(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	_, err := s.coll.InsertOne(ctx, toDocument(job))
	if mongo.IsDuplicateKeyError(err) {
		return queue.ErrJobExists
	}
	return err
}

// Get implements queue.ProducerBroker.
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	var doc jobDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toJob(s.clock.Now()), nil
}

// Remove implements queue.ProducerBroker.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "state": bson.M{"$ne": string(queue.StateActive)}})
	if err != nil {
		return err
	}
	if res.DeletedCount > 0 {
		return nil
	}
	return s.conflict(ctx, id, queue.ErrJobActive)
}

// Requeue implements queue.ProducerBroker.
func (s *Store) Requeue(ctx context.Context, id string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "state": string(queue.StateFailed)},
		bson.M{
			"$set": bson.M{
				"state":         string(queue.StateWaiting),
				"run_at":        s.clock.Now(),
				"attempts_made": 0,
				"stalled_count": 0,
			},
			"$unset": bson.M{"finished_at": ""},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.conflict(ctx, id, queue.ErrJobState)
}

// Counts implements queue.ProducerBroker.
func (s *Store) Counts(ctx context.Context, q string) (map[queue.JobState]int64, error) {
	now := s.clock.Now()
	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"queue": q}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$state", string(queue.StateWaiting)}},
					bson.M{"$gt": bson.A{"$run_at", now}},
				}},
				string(queue.StateDelayed),
				"$state",
			}},
			"n": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		State string `bson:"_id"`
		N     int64  `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[queue.JobState]int64, len(queue.AllStates))
	for _, st := range queue.AllStates {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[queue.JobState(r.State)] = r.N
	}
	return counts, nil
}

// List implements queue.ProducerBroker.
func (s *Store) List(ctx context.Context, q string, state queue.JobState, limit int) ([]*queue.Job, error) {
	now := s.clock.Now()
	filter := bson.M{"queue": q}
	switch state {
	case queue.StateWaiting:
		filter["state"] = string(queue.StateWaiting)
		filter["run_at"] = bson.M{"$lte": now}
	case queue.StateDelayed:
		filter["state"] = string(queue.StateWaiting)
		filter["run_at"] = bson.M{"$gt": now}
	case queue.StateActive, queue.StateCompleted, queue.StateFailed:
		filter["state"] = string(state)
	default:
		return nil, queue.ErrJobState
	}

	opts := options.Find().SetSort(readyOrder)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	jobs := make([]*queue.Job, 0, len(docs))
	for _, d := range docs {
		jobs = append(jobs, d.toJob(now))
	}
	return jobs, nil
}

// Claim implements queue.ConsumerBroker.
func (s *Store) Claim(ctx context.Context, q, token string, lockFor time.Duration) (*queue.Job, error) {
	now := s.clock.Now()

	var doc jobDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{
			"queue":  q,
			"state":  string(queue.StateWaiting),
			"run_at": bson.M{"$lte": now},
		},
		bson.M{
			"$set": bson.M{
				"state":           string(queue.StateActive),
				"lock_token":      token,
				"locked_until":    now.Add(lockFor),
				"last_attempt_at": now,
			},
			"$inc": bson.M{"attempts_made": 1},
		},
		options.FindOneAndUpdate().SetSort(readyOrder).SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrNoJobReady
	}
	if err != nil {
		return nil, err
	}
	return doc.toJob(now), nil
}

// Heartbeat implements queue.ConsumerBroker.
func (s *Store) Heartbeat(ctx context.Context, id, token string, lockFor time.Duration) error {
	return s.transition(ctx, id, token, bson.M{
		"$set": bson.M{"locked_until": s.clock.Now().Add(lockFor)},
	})
}

// Complete implements queue.ConsumerBroker.
func (s *Store) Complete(ctx context.Context, id, token string, remove bool) error {
	if remove {
		res, err := s.coll.DeleteOne(ctx, ownedFilter(id, token))
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return queue.ErrLockLost
		}
		return nil
	}
	return s.transition(ctx, id, token, bson.M{
		"$set":   bson.M{"state": string(queue.StateCompleted), "finished_at": s.clock.Now()},
		"$unset": bson.M{"lock_token": "", "locked_until": "", "last_error": ""},
	})
}

// Retry implements queue.ConsumerBroker.
func (s *Store) Retry(ctx context.Context, id, token string, runAt time.Time, errMsg string) error {
	return s.transition(ctx, id, token, bson.M{
		"$set":   bson.M{"state": string(queue.StateWaiting), "run_at": ceilMillis(runAt), "last_error": errMsg},
		"$unset": bson.M{"lock_token": "", "locked_until": ""},
	})
}

// Fail implements queue.ConsumerBroker.
func (s *Store) Fail(ctx context.Context, id, token string, errMsg string) error {
	return s.transition(ctx, id, token, bson.M{
		"$set":   bson.M{"state": string(queue.StateFailed), "finished_at": s.clock.Now(), "last_error": errMsg},
		"$unset": bson.M{"lock_token": "", "locked_until": ""},
	})
}

// RecoverStalled implements queue.ConsumerBroker. Jobs are recovered one
// FindOneAndUpdate at a time; the update pipeline decides between waiting and
// failed on the server.
func (s *Store) RecoverStalled(ctx context.Context, q string, maxStalled int) ([]*queue.Job, error) {
	now := s.clock.Now()
	exceeded := bson.M{"$gt": bson.A{"$stalled_count", maxStalled}}
	pick := func(ifFailed, ifWaiting any) bson.M {
		return bson.M{"$cond": bson.A{exceeded, ifFailed, ifWaiting}}
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"stalled_count": bson.M{"$add": bson.A{"$stalled_count", 1}}}}},
		{{Key: "$set", Value: bson.M{
			"state":         pick(string(queue.StateFailed), string(queue.StateWaiting)),
			"finished_at":   pick(now, "$finished_at"),
			"last_error":    pick(queue.ErrJobStalled.Error(), "$last_error"),
			"run_at":        pick("$run_at", now),
			"attempts_made": pick("$attempts_made", bson.M{"$max": bson.A{bson.M{"$subtract": bson.A{"$attempts_made", 1}}, 0}}),
		}}},
		{{Key: "$unset", Value: bson.A{"lock_token", "locked_until"}}},
	}
	filter := bson.M{
		"queue":        q,
		"state":        string(queue.StateActive),
		"locked_until": bson.M{"$lt": now},
	}
	opts := options.FindOneAndUpdate().SetSort(bson.D{{Key: "_id", Value: 1}}).SetReturnDocument(options.After)

	var jobs []*queue.Job
	for {
		var doc jobDocument
		err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return jobs, nil
		}
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, doc.toJob(now))
	}
}

func (s *Store) transition(ctx context.Context, id, token string, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, ownedFilter(id, token), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return queue.ErrLockLost
	}
	return nil
}

// conflict distinguishes a missing job from one in the wrong state.
func (s *Store) conflict(ctx context.Context, id string, stateErr error) error {
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return queue.ErrJobNotFound
	}
	return stateErr
}

func ownedFilter(id, token string) bson.M {
	return bson.M{"_id": id, "state": string(queue.StateActive), "lock_token": token}
}
