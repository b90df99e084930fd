package messages

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements Repo on a MongoDB collection.
type MongoRepo struct {
	Coll *mongo.Collection
}

// NewMongoRepo uses the "messages" collection of db.
func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{Coll: db.Collection("messages")}
}

// EnsureIndexes creates the lookup indexes used by the queries below.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.Coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "phoneNumber", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "username", Value: 1}}},
	})
	return err
}

func (r *MongoRepo) PutRecord(ctx context.Context, rec Record) error {
	rec.Timestamp = rec.Timestamp.UTC()
	_, err := r.Coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("mongo insert: %w", err)
	}
	return nil
}

func (r *MongoRepo) GetByOwner(ctx context.Context, username string) ([]Record, error) {
	return r.find(ctx, bson.M{"username": username})
}

func (r *MongoRepo) QueryByPhoneSet(ctx context.Context, phones []string, hasObjectKey bool) ([]Record, error) {
	if len(phones) == 0 {
		return []Record{}, nil
	}
	return r.find(ctx, phoneSetFilter(dedupe(phones), hasObjectKey))
}

func (r *MongoRepo) ScanAll(ctx context.Context, hasObjectKey bool) ([]Record, error) {
	return r.find(ctx, phoneSetFilter(nil, hasObjectKey))
}

// phoneSetFilter builds the selector; a nil phones slice matches every number.
func phoneSetFilter(phones []string, hasObjectKey bool) bson.M {
	filter := bson.M{}
	if phones != nil {
		filter["phoneNumber"] = bson.M{"$in": phones}
	}
	if hasObjectKey {
		filter["objectKey"] = bson.M{"$exists": true}
	}
	return filter
}

func (r *MongoRepo) find(ctx context.Context, filter bson.M) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.Coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	out := []Record{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo decode: %w", err)
	}
	return out, nil
}

var _ Repo = (*MongoRepo)(nil)
