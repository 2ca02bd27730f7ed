// internal/app/store/mirror/mirrorstore.go
package mirrorstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var errEmptyHash = errors.New("email hash is required")

// Store manages the public membership mirror in the shared partition.
// Rows are keyed by (email_hash, tenant_id); nothing else identifies a user.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("public_memberships")}
}

// EnsureIndexes creates the upsert key, the discovery lookup index and the
// stale-row sweep index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_hash", Value: 1}, {Key: "tenant_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_mirror_hash_tenant"),
		},
		{
			Keys:    bson.D{{Key: "email_hash", Value: 1}, {Key: "status", Value: 1}, {Key: "joined_at", Value: 1}},
			Options: options.Index().SetName("idx_mirror_hash_status_joined"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "synced_at", Value: 1}},
			Options: options.Index().SetName("idx_mirror_tenant_synced"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Upsert writes the mirror row for (emailHash, tenantID), overwriting role,
// status and join time. Repeating the call with the same input is a no-op
// apart from synced_at.
func (s *Store) Upsert(ctx context.Context, m models.PublicMembership) error {
	if m.EmailHash == "" {
		return errEmptyHash
	}
	_, err := s.c.UpdateOne(ctx,
		bson.M{"email_hash": m.EmailHash, "tenant_id": m.TenantID},
		bson.M{"$set": bson.M{
			"role":      m.Role,
			"status":    m.Status,
			"joined_at": m.JoinedAt.UTC(),
			"synced_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

// ActiveByEmailHash returns the active mirror rows for emailHash ordered by
// joined_at ascending; the first row is the user's primary tenant.
func (s *Store) ActiveByEmailHash(ctx context.Context, emailHash string) ([]models.PublicMembership, error) {
	cur, err := s.c.Find(ctx,
		bson.M{"email_hash": emailHash, "status": models.MembershipActive},
		options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.PublicMembership
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HasActive reports whether emailHash holds an active mirrored membership in tenantID.
func (s *Store) HasActive(ctx context.Context, emailHash string, tenantID primitive.ObjectID) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{
		"email_hash": emailHash,
		"tenant_id":  tenantID,
		"status":     models.MembershipActive,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns the mirror row for (emailHash, tenantID).
func (s *Store) Get(ctx context.Context, emailHash string, tenantID primitive.ObjectID) (models.PublicMembership, error) {
	var m models.PublicMembership
	err := s.c.FindOne(ctx, bson.M{"email_hash": emailHash, "tenant_id": tenantID}).Decode(&m)
	return m, err
}

// DeactivateStale marks inactive every active row for tenantID not synced
// since before. A full partition sync calls it to retire rows whose user or
// membership is gone.
func (s *Store) DeactivateStale(ctx context.Context, tenantID primitive.ObjectID, before time.Time) (int64, error) {
	res, err := s.c.UpdateMany(ctx,
		bson.M{"tenant_id": tenantID, "status": models.MembershipActive, "synced_at": bson.M{"$lt": before.UTC()}},
		bson.M{"$set": bson.M{"status": models.MembershipInactive, "synced_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// CountByTenant returns the number of mirror rows for tenantID.
func (s *Store) CountByTenant(ctx context.Context, tenantID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"tenant_id": tenantID})
}
