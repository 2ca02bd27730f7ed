package discovery_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	"github.com/dalemusser/climatrak/internal/app/system/discovery"
	"github.com/dalemusser/climatrak/internal/app/system/emailhash"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var hasher = emailhash.MustNew([]byte("discovery-test-key-0123456789abc"))

type fakeMirror map[string][]models.PublicMembership

func (f fakeMirror) ActiveByEmailHash(_ context.Context, h string) ([]models.PublicMembership, error) {
	return f[h], nil
}

type fakeIndex map[string][]primitive.ObjectID

func (f fakeIndex) ActiveTenants(_ context.Context, h string) ([]primitive.ObjectID, error) {
	return f[h], nil
}

type fakeTenants map[primitive.ObjectID]models.Tenant

func (f fakeTenants) ByID(_ context.Context, id primitive.ObjectID) (models.Tenant, error) {
	if t, ok := f[id]; ok {
		return t, nil
	}
	return models.Tenant{}, tenantstore.ErrNotFound
}

var (
	acme   = models.Tenant{ID: primitive.NewObjectID(), Name: "ACME", Slug: "acme", SchemaName: "acme", Domains: []string{"acme.climatrak.test"}, Status: models.TenantActive}
	beta   = models.Tenant{ID: primitive.NewObjectID(), Name: "Beta", Slug: "beta", SchemaName: "beta", Status: models.TenantActive}
	frozen = models.Tenant{ID: primitive.NewObjectID(), Name: "Frozen", Slug: "frozen", SchemaName: "frozen", Status: models.TenantSuspended}
)

func newService(mirror fakeMirror, index fakeIndex) *discovery.Service {
	tenants := fakeTenants{acme.ID: acme, beta.ID: beta, frozen.ID: frozen}
	return discovery.New(mirror, index, tenants, hasher, nil)
}

func row(t models.Tenant, joined time.Time) models.PublicMembership {
	return models.PublicMembership{TenantID: t.ID, Status: models.MembershipActive, JoinedAt: joined}
}

func TestDiscover_U1Scenario(t *testing.T) {
	mirror := fakeMirror{hasher.Hash("u1@x.com"): {row(acme, time.Now())}}
	svc := newService(mirror, fakeIndex{})

	got, err := svc.Discover(context.Background(), "u1@x.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if !got.Found || len(got.Tenants) != 1 || got.Tenants[0].Slug != "acme" || got.HasMultiple {
		t.Errorf("u1: got %+v", got)
	}
	if got.PrimaryTenant == nil || got.PrimaryTenant.Schema != "acme" {
		t.Errorf("primary: got %+v", got.PrimaryTenant)
	}
	if got.Tenants[0].Domain != "acme.climatrak.test" {
		t.Errorf("domain: got %q", got.Tenants[0].Domain)
	}

	none, err := svc.Discover(context.Background(), "nobody@x.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if none.Found || len(none.Tenants) != 0 || none.PrimaryTenant != nil || none.HasMultiple {
		t.Errorf("nobody: got %+v", none)
	}
}

// keysOf returns the JSON keys and value kinds of a result.
func keysOf(t *testing.T, r discovery.Result) map[string]string {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		kind := "null"
		if v != nil {
			kind = reflect.TypeOf(v).Kind().String()
		}
		out[k] = kind
	}
	return out
}

func TestDiscover_NeutralShape(t *testing.T) {
	mirror := fakeMirror{hasher.Hash("u1@x.com"): {row(acme, time.Now())}}
	svc := newService(mirror, fakeIndex{})

	known, _ := svc.Discover(context.Background(), "u1@x.com")
	unknown, _ := svc.Discover(context.Background(), "nobody@x.com")

	kk, uk := keysOf(t, known), keysOf(t, unknown)
	names := func(m map[string]string) []string {
		var s []string
		for k := range m {
			s = append(s, k)
		}
		sort.Strings(s)
		return s
	}
	if !reflect.DeepEqual(names(kk), names(uk)) {
		t.Fatalf("key sets differ: %v vs %v", names(kk), names(uk))
	}
	for _, k := range []string{"found", "tenants", "has_multiple"} {
		if kk[k] != uk[k] {
			t.Errorf("%s kind differs: %s vs %s", k, kk[k], uk[k])
		}
	}
	if uk["tenants"] != "slice" {
		t.Errorf("unknown tenants must be an empty array, got %s", uk["tenants"])
	}
}

func TestDiscover_OrderingAndSuspended(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := hasher.Hash("multi@x.com")
	mirror := fakeMirror{h: {
		row(beta, base),
		row(frozen, base.Add(time.Hour)),
		row(acme, base.Add(2*time.Hour)),
	}}
	svc := newService(mirror, fakeIndex{})

	got, err := svc.Discover(context.Background(), " Multi@X.com ")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got.Tenants) != 2 || got.Tenants[0].Slug != "beta" || got.Tenants[1].Slug != "acme" {
		t.Fatalf("tenants: got %+v", got.Tenants)
	}
	if !got.HasMultiple || got.PrimaryTenant.Slug != "beta" {
		t.Errorf("primary/multiple: got %+v", got)
	}
}

func TestDiscover_ByUsername(t *testing.T) {
	index := fakeIndex{hasher.HashUsername("u1"): {acme.ID}}
	svc := newService(fakeMirror{}, index)

	got, err := svc.Discover(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if !got.Found || got.PrimaryTenant.Slug != "acme" {
		t.Errorf("got %+v", got)
	}
}

type brokenMirror struct{}

func (brokenMirror) ActiveByEmailHash(context.Context, string) ([]models.PublicMembership, error) {
	return nil, errors.New("mongo down")
}

func TestDiscover_ErrorReturnsEmptyShape(t *testing.T) {
	svc := discovery.New(brokenMirror{}, fakeIndex{}, fakeTenants{}, hasher, nil)
	got, err := svc.Discover(context.Background(), "u1@x.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if got.Tenants == nil || got.Found {
		t.Errorf("expected empty result shape, got %+v", got)
	}
}
