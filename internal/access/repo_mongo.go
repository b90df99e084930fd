package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoAppendAttempts = 3

// MongoRepo implements Repo on a MongoDB collection keyed by username.
type MongoRepo struct {
	Coll *mongo.Collection
	now  func() time.Time
}

// NewMongoRepo uses the "phone_associations" collection of db.
func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{Coll: db.Collection("phone_associations"), now: time.Now}
}

func (r *MongoRepo) Get(ctx context.Context, username string) (Association, error) {
	var a Association
	err := r.Coll.FindOne(ctx, bson.M{"_id": username}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Association{}, ErrNotFound
	}
	if err != nil {
		return Association{}, fmt.Errorf("mongo find association: %w", err)
	}
	if a.PhoneNumbers == nil {
		a.PhoneNumbers = []string{}
	}
	return a, nil
}

// AppendPhone matches only documents that lack phone, so a no-op append writes
// nothing. The upsert's duplicate-key error means the document exists and
// either already holds phone or was created concurrently; the latter retries.
func (r *MongoRepo) AppendPhone(ctx context.Context, username, phone string) (Association, bool, error) {
	filter := bson.M{"_id": username, "phoneNumbers": bson.M{"$ne": phone}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	for attempt := 0; attempt < mongoAppendAttempts; attempt++ {
		var after Association
		err := r.Coll.FindOneAndUpdate(ctx, filter, appendUpdate(phone, r.now().UTC()), opts).Decode(&after)
		if err == nil {
			if after.PhoneNumbers == nil {
				after.PhoneNumbers = []string{}
			}
			return after, true, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return Association{}, false, fmt.Errorf("mongo append phone: %w", err)
		}
		current, err := r.Get(ctx, username)
		if err != nil {
			return Association{}, false, err
		}
		if current.Has(phone) {
			return current, false, nil
		}
	}
	return Association{}, false, ErrConflict
}

func (r *MongoRepo) RemovePhone(ctx context.Context, username, phone string) (Association, error) {
	update := bson.M{
		"$pull": bson.M{"phoneNumbers": phone},
		"$inc":  bson.M{"version": 1},
		"$set":  bson.M{"updatedAt": r.now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var after Association
	err := r.Coll.FindOneAndUpdate(ctx, bson.M{"_id": username, "phoneNumbers": phone}, update, opts).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := r.Get(ctx, username); err != nil {
			return Association{}, err
		}
		return Association{}, ErrPhoneNotAssociated
	}
	if err != nil {
		return Association{}, fmt.Errorf("mongo remove phone: %w", err)
	}
	if after.PhoneNumbers == nil {
		after.PhoneNumbers = []string{}
	}
	return after, nil
}

func (r *MongoRepo) SetRole(ctx context.Context, username string, role Role) (Association, error) {
	update := bson.M{
		"$set":         bson.M{"role": role, "updatedAt": r.now().UTC()},
		"$inc":         bson.M{"version": 1},
		"$setOnInsert": bson.M{"phoneNumbers": []string{}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var after Association
	if err := r.Coll.FindOneAndUpdate(ctx, bson.M{"_id": username}, update, opts).Decode(&after); err != nil {
		return Association{}, fmt.Errorf("mongo set role: %w", err)
	}
	if after.PhoneNumbers == nil {
		after.PhoneNumbers = []string{}
	}
	return after, nil
}

func appendUpdate(phone string, now time.Time) bson.M {
	return bson.M{
		"$addToSet":    bson.M{"phoneNumbers": phone},
		"$inc":         bson.M{"version": 1},
		"$set":         bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{"role": RoleViewer},
	}
}

var _ Repo = (*MongoRepo)(nil)
