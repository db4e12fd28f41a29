package jobs

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoAccounts implements Accounts over an existing users collection, using
// the field names of the application that owns it.
type MongoAccounts struct {
	coll *mongo.Collection
}

var _ Accounts = (*MongoAccounts)(nil)

// NewMongoAccounts creates an Accounts store over coll.
func NewMongoAccounts(coll *mongo.Collection) *MongoAccounts {
	return &MongoAccounts{coll: coll}
}

type accountDocument struct {
	Email               string     `bson:"email"`
	Name                string     `bson:"name,omitempty"`
	Banned              bool       `bson:"isAccountBanned"`
	BannedUntil         *time.Time `bson:"bannedUntil,omitempty"`
	DeletionScheduledAt *time.Time `bson:"deletionScheduledAt,omitempty"`
	AvatarPublicID      string     `bson:"avatarPublicId,omitempty"`
}

// idFilter matches ObjectID keys for hex ids and string keys otherwise.
func idFilter(id string) bson.M {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"_id": id}
}

// Get implements Accounts.
func (m *MongoAccounts) Get(ctx context.Context, id string) (*Account, error) {
	var doc accountDocument
	err := m.coll.FindOne(ctx, idFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:                  id,
		Email:               doc.Email,
		Name:                doc.Name,
		Banned:              doc.Banned,
		BannedUntil:         doc.BannedUntil,
		DeletionScheduledAt: doc.DeletionScheduledAt,
		AvatarPublicID:      doc.AvatarPublicID,
	}, nil
}

// Ban implements Accounts. A nil until bans permanently.
func (m *MongoAccounts) Ban(ctx context.Context, id string, until *time.Time) error {
	update := bson.M{"$set": bson.M{"isAccountBanned": true}}
	if until != nil {
		update["$set"] = bson.M{"isAccountBanned": true, "bannedUntil": until.UTC()}
	} else {
		update["$unset"] = bson.M{"bannedUntil": ""}
	}
	return m.update(ctx, id, update)
}

// Unban implements Accounts.
func (m *MongoAccounts) Unban(ctx context.Context, id string) error {
	return m.update(ctx, id, bson.M{
		"$set":   bson.M{"isAccountBanned": false},
		"$unset": bson.M{"bannedUntil": ""},
	})
}

// ScheduleDeletion implements Accounts.
func (m *MongoAccounts) ScheduleDeletion(ctx context.Context, id string, at time.Time) error {
	return m.update(ctx, id, bson.M{"$set": bson.M{"deletionScheduledAt": at.UTC()}})
}

// Delete implements Accounts.
func (m *MongoAccounts) Delete(ctx context.Context, id string) error {
	_, err := m.coll.DeleteOne(ctx, idFilter(id))
	return err
}

func (m *MongoAccounts) update(ctx context.Context, id string, update bson.M) error {
	res, err := m.coll.UpdateOne(ctx, idFilter(id), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAccountNotFound
	}
	return nil
}
