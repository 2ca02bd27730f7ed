package membershipstore_test

import (
	"errors"
	"testing"
	"time"

	membershipstore "github.com/dalemusser/climatrak/internal/app/store/memberships"
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"github.com/dalemusser/climatrak/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_AddAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID, tenantID := primitive.NewObjectID(), primitive.NewObjectID()
	m, err := store.Add(ctx, models.TenantMembership{UserID: userID, TenantID: tenantID, Role: models.RoleOperator})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if m.Status != models.MembershipActive {
		t.Errorf("status: got %q, want active", m.Status)
	}
	if m.JoinedAt.IsZero() {
		t.Error("expected JoinedAt to be set")
	}

	got, err := store.Get(ctx, userID, tenantID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != m.ID {
		t.Error("Get returned a different membership")
	}

	ok, err := store.HasActive(ctx, userID, tenantID)
	if err != nil || !ok {
		t.Errorf("HasActive: got %v, %v", ok, err)
	}
}

func TestStore_Add_Duplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := partitions.EnsureIndexes(ctx, db); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	store := membershipstore.New(db)

	m := models.TenantMembership{UserID: primitive.NewObjectID(), TenantID: primitive.NewObjectID(), Role: models.RoleViewer}
	if _, err := store.Add(ctx, m); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add(ctx, m); !errors.Is(err, membershipstore.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestStore_Add_InvalidRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.Add(ctx, models.TenantMembership{UserID: primitive.NewObjectID(), TenantID: primitive.NewObjectID(), Role: "superuser"})
	if err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestStore_UpdateAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenantID := primitive.NewObjectID()
	early := time.Now().Add(-48 * time.Hour)
	first, _ := store.Add(ctx, models.TenantMembership{UserID: primitive.NewObjectID(), TenantID: tenantID, Role: models.RoleOwner, JoinedAt: early})
	second, _ := store.Add(ctx, models.TenantMembership{UserID: primitive.NewObjectID(), TenantID: tenantID, Role: models.RoleViewer})

	if err := store.Update(ctx, second.ID, models.RoleAdmin, models.MembershipSuspended); err != nil {
		t.Fatalf("Update: %v", err)
	}

	list, err := store.List(ctx, tenantID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(list))
	}
	if list[0].ID != first.ID {
		t.Error("expected earliest membership first")
	}
	if list[1].Role != models.RoleAdmin || list[1].Status != models.MembershipSuspended {
		t.Errorf("update not applied: %+v", list[1])
	}

	ok, _ := store.HasActive(ctx, second.UserID, tenantID)
	if ok {
		t.Error("suspended membership should not be active")
	}

	if err := store.Update(ctx, primitive.NewObjectID(), "", models.MembershipInactive); !errors.Is(err, membershipstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
