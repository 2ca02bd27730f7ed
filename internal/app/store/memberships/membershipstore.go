// internal/app/store/memberships/membershipstore.go
package membershipstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/climatrak/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store manages tenant memberships inside one tenant partition. It is the
// source of truth that the public mirror is synced from.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("tenant_memberships")}
}

var (
	ErrNotFound  = errors.New("membership not found")
	ErrDuplicate = errors.New("user is already a member of this tenant")
	errBadRole   = errors.New(`role must be "owner"|"admin"|"operator"|"technician"|"viewer"`)
	errBadStatus = errors.New(`status must be "active"|"inactive"|"invited"|"suspended"`)
)

// ValidStatus reports whether s is a known membership status.
func ValidStatus(s string) bool {
	switch s {
	case models.MembershipActive, models.MembershipInactive, models.MembershipInvited, models.MembershipSuspended:
		return true
	}
	return false
}

// Add creates a membership. Status defaults to active.
func (s *Store) Add(ctx context.Context, m models.TenantMembership) (models.TenantMembership, error) {
	if !models.ValidRole(m.Role) {
		return models.TenantMembership{}, errBadRole
	}
	if m.Status == "" {
		m.Status = models.MembershipActive
	}
	if !ValidStatus(m.Status) {
		return models.TenantMembership{}, errBadStatus
	}

	now := time.Now().UTC()
	m.ID = primitive.NewObjectID()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = now
	}
	m.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, m); err != nil {
		if wafflemongo.IsDup(err) {
			return models.TenantMembership{}, ErrDuplicate
		}
		return models.TenantMembership{}, err
	}
	return m, nil
}

// GetByID loads a membership by id.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.TenantMembership, error) {
	var m models.TenantMembership
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return models.TenantMembership{}, ErrNotFound
		}
		return models.TenantMembership{}, err
	}
	return m, nil
}

// Get returns the membership of userID in tenantID.
func (s *Store) Get(ctx context.Context, userID, tenantID primitive.ObjectID) (models.TenantMembership, error) {
	var m models.TenantMembership
	err := s.c.FindOne(ctx, bson.M{"user_id": userID, "tenant_id": tenantID}).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.TenantMembership{}, ErrNotFound
		}
		return models.TenantMembership{}, err
	}
	return m, nil
}

// HasActive reports whether userID holds an active membership in tenantID.
func (s *Store) HasActive(ctx context.Context, userID, tenantID primitive.ObjectID) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{
		"user_id":   userID,
		"tenant_id": tenantID,
		"status":    models.MembershipActive,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns every membership of tenantID ordered by join time.
func (s *Store) List(ctx context.Context, tenantID primitive.ObjectID) ([]models.TenantMembership, error) {
	cur, err := s.c.Find(ctx, bson.M{"tenant_id": tenantID}, options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.TenantMembership
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update changes role and/or status. Empty values are left unchanged.
func (s *Store) Update(ctx context.Context, id primitive.ObjectID, role, status string) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if role != "" {
		if !models.ValidRole(role) {
			return errBadRole
		}
		set["role"] = role
	}
	if status != "" {
		if !ValidStatus(status) {
			return errBadStatus
		}
		set["status"] = status
	}
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
