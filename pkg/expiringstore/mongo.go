package expiringstore

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoEntry[V any] struct {
	Key       string    `bson:"_id"`
	Value     V         `bson:"value"`
	ExpiresAt time.Time `bson:"expiresat"`
}

// MongoStore keeps one document per key. The TTL index only reclaims
// space (MongoDB sweeps it roughly once a minute) so every query also
// filters on expiresat itself.
type MongoStore[K ~string, V any] struct {
	clock      clockwork.Clock
	collection *mongo.Collection
}

func NewMongoStore[K ~string, V any](clock clockwork.Clock, collection *mongo.Collection) *MongoStore[K, V] {
	return &MongoStore[K, V]{
		clock:      clock,
		collection: collection,
	}
}

// EnsureIndexes creates the TTL index used for background reclamation.
func (s *MongoStore[K, V]) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresat", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})

	return err
}

func (s *MongoStore[K, V]) live(filter bson.M) bson.M {
	filter["expiresat"] = bson.M{"$gt": s.clock.Now()}
	return filter
}

func (s *MongoStore[K, V]) Put(ctx context.Context, key K, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrNonPositiveTTL
	}

	entry := mongoEntry[V]{
		Key:       string(key),
		Value:     value,
		ExpiresAt: s.clock.Now().Add(ttl),
	}

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": string(key)}, entry, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var entry mongoEntry[V]

	err := s.collection.FindOne(ctx, s.live(bson.M{"_id": string(key)})).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entry.Value, false, nil
	} else if err != nil {
		return entry.Value, false, err
	}

	return entry.Value, true, nil
}

func (s *MongoStore[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = string(key)
	}

	entries, err := s.find(ctx, s.live(bson.M{"_id": bson.M{"$in": ids}}), nil)
	if err != nil {
		return nil, err
	}

	values := make(map[K]V, len(entries))
	for _, entry := range entries {
		values[K(entry.Key)] = entry.Value
	}

	return values, nil
}

func (s *MongoStore[K, V]) Delete(ctx context.Context, key K) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": string(key)})
	return err
}

func (s *MongoStore[K, V]) prefixFilter(prefix string) bson.M {
	filter := bson.M{}
	if prefix != "" {
		filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}

	return s.live(filter)
}

func (s *MongoStore[K, V]) Keys(ctx context.Context, prefix string) ([]K, error) {
	entries, err := s.find(ctx, s.prefixFilter(prefix), options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}

	keys := make([]K, len(entries))
	for i, entry := range entries {
		keys[i] = K(entry.Key)
	}

	return keys, nil
}

func (s *MongoStore[K, V]) Values(ctx context.Context, prefix string) ([]V, error) {
	entries, err := s.find(ctx, s.prefixFilter(prefix), nil)
	if err != nil {
		return nil, err
	}

	values := make([]V, len(entries))
	for i, entry := range entries {
		values[i] = entry.Value
	}

	return values, nil
}

func (s *MongoStore[K, V]) Size(ctx context.Context) (int, error) {
	count, err := s.collection.CountDocuments(ctx, s.live(bson.M{}))
	return int(count), err
}

func (s *MongoStore[K, V]) Clear(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	return err
}

func (s *MongoStore[K, V]) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]mongoEntry[V], error) {
	var cursor *mongo.Cursor
	var err error

	if opts == nil {
		cursor, err = s.collection.Find(ctx, filter)
	} else {
		cursor, err = s.collection.Find(ctx, filter, opts)
	}
	if err != nil {
		return nil, err
	}

	var entries []mongoEntry[V]
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}
