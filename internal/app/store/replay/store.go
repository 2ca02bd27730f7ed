// internal/app/store/replay/store.go
package replay

import (
	"context"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entry is a seen device signature. Entries expire through a TTL index.
type Entry struct {
	Key       string    `bson:"key"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// Store is the shared replay cache for signed device requests. It lives in
// the shared partition so every instance sees the same entries.
type Store struct {
	c   *mongo.Collection
	now func() time.Time
}

// New creates a replay Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("device_signature_replays"), now: time.Now}
}

// EnsureIndexes creates the uniqueness index that makes Remember atomic and
// the TTL index that expires old entries.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_replay_key"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_replay_ttl"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Remember records key for ttl. It returns true when the key was not seen
// before and false when it is already present. Check and insert are one
// unique-index insert, so two concurrent callers cannot both get true.
//
// The TTL monitor runs about once a minute, so expired keys may linger briefly.
func (s *Store) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	_, err := s.c.InsertOne(ctx, Entry{
		Key:       key,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		if wafflemongo.IsDup(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CleanupExpired removes expired entries.
// This is a backup for when TTL index cleanup is delayed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": s.now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
