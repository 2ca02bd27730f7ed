package userstore_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"github.com/dalemusser/climatrak/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.User{
		Email:        " Ana@Example.com ",
		PasswordHash: "$2a$04$x",
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == primitive.NilObjectID {
		t.Error("expected ID to be assigned")
	}
	if created.EmailCI != "ana@example.com" {
		t.Errorf("EmailCI: got %q", created.EmailCI)
	}
	if created.Username != "Ana" {
		t.Errorf("Username: got %q, want %q", created.Username, "Ana")
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestStore_Create_Duplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := partitions.EnsureIndexes(ctx, db); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	store := userstore.New(db)

	if _, err := store.Create(ctx, models.User{Email: "a@x.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := store.Create(ctx, models.User{Email: "A@X.com", Username: "other", PasswordHash: "h"})
	if !errors.Is(err, userstore.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestStore_Create_RequiresEmailAndHash(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Create(ctx, models.User{PasswordHash: "h"}); err == nil {
		t.Error("expected error for missing email")
	}
	if _, err := store.Create(ctx, models.User{Email: "a@x.com"}); err == nil {
		t.Error("expected error for missing password hash")
	}
}

func TestStore_FindByLogin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, err := store.Create(ctx, models.User{Email: "tech@acme.com", Username: "TechOne", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, ident := range []string{"TECH@acme.com", "techone", " TechOne "} {
		got, err := store.FindByLogin(ctx, ident)
		if err != nil {
			t.Errorf("FindByLogin(%q): %v", ident, err)
			continue
		}
		if got.ID != u.ID {
			t.Errorf("FindByLogin(%q) returned wrong user", ident)
		}
	}

	if _, err := store.FindByLogin(ctx, "nobody"); !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetByIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a, _ := store.Create(ctx, models.User{Email: "a@x.com", PasswordHash: "h"})
	b, _ := store.Create(ctx, models.User{Email: "b@x.com", PasswordHash: "h"})

	got, err := store.GetByIDs(ctx, []primitive.ObjectID{a.ID, b.ID, primitive.NewObjectID()})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 users, got %d", len(got))
	}
}

func TestStore_RecordLoginAndSetActive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, _ := store.Create(ctx, models.User{Email: "a@x.com", PasswordHash: "h", IsActive: true})

	at := time.Now().Add(-time.Minute)
	if err := store.RecordLogin(ctx, u.ID, "203.0.113.9", at); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if err := store.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	got, err := store.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastLoginIP != "203.0.113.9" || got.LastLoginAt == nil {
		t.Errorf("login not recorded: %+v", got)
	}
	if got.IsActive {
		t.Error("expected user to be inactive")
	}

	if err := store.SetActive(ctx, primitive.NewObjectID(), true); !errors.Is(err, userstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
