// internal/app/store/discoveryindex/discoveryindex.go
package discoveryindex

import (
	"context"
	"time"

	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store maps hashed identifiers to tenants in the shared partition. It is
// maintained next to the membership mirror and lets operators see which
// tenants an identifier can reach without touching tenant partitions.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("tenant_discovery_index")}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identifier_hash", Value: 1}, {Key: "tenant_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_discovery_hash_tenant"),
		},
		{
			Keys:    bson.D{{Key: "identifier_hash", Value: 1}, {Key: "is_active", Value: 1}, {Key: "joined_at", Value: 1}},
			Options: options.Index().SetName("idx_discovery_hash_active_joined"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index().SetName("idx_discovery_tenant_updated"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Upsert records whether identifierHash currently reaches tenantID and when
// the membership behind it was created.
func (s *Store) Upsert(ctx context.Context, identifierHash string, tenantID primitive.ObjectID, active bool, joinedAt time.Time) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"identifier_hash": identifierHash, "tenant_id": tenantID},
		bson.M{"$set": bson.M{
			"is_active":  active,
			"joined_at":  joinedAt.UTC(),
			"updated_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

// ActiveTenants returns the tenant ids identifierHash can reach, earliest
// join first. Ties fall back to _id.
func (s *Store) ActiveTenants(ctx context.Context, identifierHash string) ([]primitive.ObjectID, error) {
	cur, err := s.c.Find(ctx,
		bson.M{"identifier_hash": identifierHash, "is_active": true},
		options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.DiscoveryEntry
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.TenantID)
	}
	return ids, nil
}

// DeactivateStale turns off every active entry for tenantID not written since
// before. A full partition sync calls it to retire entries whose user or
// membership is gone.
func (s *Store) DeactivateStale(ctx context.Context, tenantID primitive.ObjectID, before time.Time) (int64, error) {
	res, err := s.c.UpdateMany(ctx,
		bson.M{"tenant_id": tenantID, "is_active": true, "updated_at": bson.M{"$lt": before.UTC()}},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
