package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	devicestore "github.com/dalemusser/climatrak/internal/app/store/devices"
	membershipstore "github.com/dalemusser/climatrak/internal/app/store/memberships"
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// TestEmailHashKey is a fixed email hash key for tests.
const TestEmailHashKey = "climatrak-test-email-hash-key-32b"

// TestJWTSecret is a fixed token signing secret for tests.
const TestJWTSecret = "climatrak-test-jwt-secret-0123456789"

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data across
// partitions.
type Fixtures struct {
	parts *partitions.Provider
	t     *testing.T
}

// NewFixtures creates a new Fixtures instance for the given partitions.
func NewFixtures(t *testing.T, parts *partitions.Provider) *Fixtures {
	t.Helper()
	return &Fixtures{parts: parts, t: t}
}

// Parts returns the underlying provider for direct access in tests.
func (f *Fixtures) Parts() *partitions.Provider {
	return f.parts
}

// Tenants returns a tenant store on the shared partition.
func (f *Fixtures) Tenants() *tenantstore.Store {
	return tenantstore.New(f.parts.Public())
}

// CreateTenant provisions an active tenant with its partition indexes.
func (f *Fixtures) CreateTenant(ctx context.Context, name, schema string, domains ...string) models.Tenant {
	f.t.Helper()

	st := f.Tenants()
	if err := st.EnsureIndexes(ctx); err != nil {
		f.t.Fatalf("failed to create tenant indexes: %v", err)
	}
	tenant, err := st.Create(ctx, models.Tenant{
		Name:       name,
		SchemaName: schema,
		Domains:    domains,
		Status:     models.TenantActive,
	})
	if err != nil {
		f.t.Fatalf("failed to create test tenant: %v", err)
	}
	if err := f.parts.EnsureTenantIndexes(ctx, schema); err != nil {
		f.t.Fatalf("failed to create partition indexes: %v", err)
	}
	return tenant
}

// CreateUser creates an active user in schema's partition. The password is
// hashed with bcrypt.MinCost to keep tests fast.
func (f *Fixtures) CreateUser(ctx context.Context, schema, email, password string) models.User {
	f.t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		f.t.Fatalf("failed to hash password: %v", err)
	}
	db, err := f.parts.For(schema)
	if err != nil {
		f.t.Fatalf("partition %q: %v", schema, err)
	}
	u, err := userstore.New(db).Create(ctx, models.User{
		Email:        email,
		FullName:     "Test User",
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateMembership adds an active membership for userID in tenant.
func (f *Fixtures) CreateMembership(ctx context.Context, tenant models.Tenant, userID primitive.ObjectID, role string, joinedAt time.Time) models.TenantMembership {
	f.t.Helper()

	db, err := f.parts.ForTenant(tenant)
	if err != nil {
		f.t.Fatalf("partition %q: %v", tenant.SchemaName, err)
	}
	m, err := membershipstore.New(db).Add(ctx, models.TenantMembership{
		UserID:   userID,
		TenantID: tenant.ID,
		Role:     role,
		Status:   models.MembershipActive,
		JoinedAt: joinedAt,
	})
	if err != nil {
		f.t.Fatalf("failed to create test membership: %v", err)
	}
	return m
}

// CreateDevice registers an active device with a known secret.
func (f *Fixtures) CreateDevice(ctx context.Context, schema, clientID, secret string) models.Device {
	f.t.Helper()

	db, err := f.parts.For(schema)
	if err != nil {
		f.t.Fatalf("partition %q: %v", schema, err)
	}
	d, err := devicestore.New(db).Create(ctx, models.Device{
		ClientID: clientID,
		Name:     "Test Device " + clientID,
		Secret:   secret,
		IsActive: true,
	})
	if err != nil {
		f.t.Fatalf("failed to create test device: %v", err)
	}
	return d
}
