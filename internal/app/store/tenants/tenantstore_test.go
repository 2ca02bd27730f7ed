package tenantstore_test

import (
	"errors"
	"testing"

	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"github.com/dalemusser/climatrak/internal/testutil"
)

func TestStore_CreateAndLookup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tenantstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}

	created, err := store.Create(ctx, models.Tenant{
		Name:       "ACME",
		SchemaName: "acme",
		Domains:    []string{"ACME.climatrak.test"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Slug != "acme" {
		t.Errorf("slug: got %q, want %q", created.Slug, "acme")
	}
	if created.Status != models.TenantActive {
		t.Errorf("status: got %q, want active", created.Status)
	}

	byDomain, err := store.GetByDomain(ctx, "acme.climatrak.test:443")
	if err != nil {
		t.Fatalf("GetByDomain: %v", err)
	}
	if byDomain.ID != created.ID {
		t.Errorf("GetByDomain returned %s, want %s", byDomain.ID.Hex(), created.ID.Hex())
	}

	if _, err := store.GetBySchema(ctx, "acme"); err != nil {
		t.Errorf("GetBySchema: %v", err)
	}
	if _, err := store.GetBySchema(ctx, "ghost"); !errors.Is(err, tenantstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Create_RejectsDuplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tenantstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	if _, err := store.Create(ctx, models.Tenant{Name: "ACME", SchemaName: "acme", Domains: []string{"acme.test"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := store.Create(ctx, models.Tenant{Name: "Other", SchemaName: "other", Domains: []string{"acme.test"}})
	if !errors.Is(err, tenantstore.ErrDuplicate) {
		t.Errorf("duplicate domain: expected ErrDuplicate, got %v", err)
	}
	_, err = store.Create(ctx, models.Tenant{Name: "ACME 2", SchemaName: "acme"})
	if !errors.Is(err, tenantstore.ErrDuplicate) {
		t.Errorf("duplicate schema: expected ErrDuplicate, got %v", err)
	}
}

func TestStore_Create_RejectsInvalidSchema(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tenantstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, schema := range []string{"public", "Bad-Name", ""} {
		if _, err := store.Create(ctx, models.Tenant{Name: "X", SchemaName: schema}); !errors.Is(err, tenantstore.ErrInvalidTenant) {
			t.Errorf("schema %q: expected ErrInvalidTenant, got %v", schema, err)
		}
	}
}

func TestStore_Create_NormalizesSlug(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tenantstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.Tenant{Name: "ACME", Slug: " ACME-Corp ", SchemaName: "acme"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Slug != "acme-corp" {
		t.Errorf("slug: got %q, want %q", created.Slug, "acme-corp")
	}
	if _, err := store.GetBySlug(ctx, "acme-corp"); err != nil {
		t.Errorf("GetBySlug: %v", err)
	}

	derived, err := store.Create(ctx, models.Tenant{Name: "Beta", SchemaName: "beta_labs"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if derived.Slug != "beta-labs" {
		t.Errorf("derived slug: got %q, want %q", derived.Slug, "beta-labs")
	}
}

func TestStore_Create_RejectsInvalidSlug(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tenantstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, slug := range []string{"bad slug", "-acme", "acme_corp", "acme.test"} {
		if _, err := store.Create(ctx, models.Tenant{Name: "X", Slug: slug, SchemaName: "xenon"}); !errors.Is(err, tenantstore.ErrInvalidTenant) {
			t.Errorf("slug %q: expected ErrInvalidTenant, got %v", slug, err)
		}
	}
}

func TestRegistry_WritesInvalidateCache(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := tenantstore.New(db)
	reg := tenantstore.NewRegistry(store, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	created, err := reg.Create(ctx, models.Tenant{Name: "ACME", SchemaName: "acme", Domains: []string{"acme.test"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := reg.ByDomain(ctx, "new.acme.test"); !errors.Is(err, tenantstore.ErrNotFound) {
		t.Fatalf("expected miss before AddDomain, got %v", err)
	}
	if err := reg.AddDomain(ctx, created.ID, "new.acme.test"); err != nil {
		t.Fatalf("AddDomain: %v", err)
	}
	if _, err := reg.ByDomain(ctx, "new.acme.test"); err != nil {
		t.Errorf("expected hit after AddDomain, got %v", err)
	}

	if err := reg.SetStatus(ctx, created.ID, models.TenantSuspended); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, err := reg.ByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.Status != models.TenantSuspended {
		t.Errorf("status after SetStatus: got %q", got.Status)
	}
}
