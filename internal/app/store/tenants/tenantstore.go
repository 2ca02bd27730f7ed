// internal/app/store/tenants/tenantstore.go
package tenantstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	"github.com/dalemusser/climatrak/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound      = errors.New("tenant not found")
	ErrDuplicate     = errors.New("a tenant with this schema, slug or domain already exists")
	ErrInvalidTenant = errors.New("invalid tenant")
)

// Store is the schema registry. It lives in the shared partition.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("tenants")}
}

// EnsureIndexes creates the uniqueness guarantees the registry relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "schema_name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_tenants_schema"),
		},
		{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_tenants_slug"),
		},
		// Multikey: each domain maps to at most one tenant.
		{
			Keys:    bson.D{{Key: "domains", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_tenants_domains"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// NormalizeHost lower-cases host and strips any port and trailing dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

var slugRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidSlug reports whether slug is a lower-case DNS label.
func ValidSlug(slug string) bool {
	return slugRE.MatchString(slug)
}

// validHost reports whether host could be a routed domain: a normalised
// name of at most 253 characters from the host name alphabet (colons allow
// IPv6 literals).
func validHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, c := range host {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == ':':
		default:
			return false
		}
	}
	return true
}

// Create inserts a new tenant. SchemaName must be a valid, unused schema name.
func (s *Store) Create(ctx context.Context, t models.Tenant) (models.Tenant, error) {
	if !partitions.ValidSchemaName(t.SchemaName) {
		return models.Tenant{}, fmt.Errorf("%w: schema name %q", ErrInvalidTenant, t.SchemaName)
	}
	if strings.TrimSpace(t.Name) == "" {
		return models.Tenant{}, fmt.Errorf("%w: name is required", ErrInvalidTenant)
	}
	t.Slug = strings.ToLower(strings.TrimSpace(t.Slug))
	if t.Slug == "" {
		t.Slug = strings.Trim(strings.ReplaceAll(t.SchemaName, "_", "-"), "-")
	}
	if !ValidSlug(t.Slug) {
		return models.Tenant{}, fmt.Errorf("%w: slug %q", ErrInvalidTenant, t.Slug)
	}
	domains := make([]string, 0, len(t.Domains))
	for _, d := range t.Domains {
		if d = NormalizeHost(d); d != "" {
			domains = append(domains, d)
		}
	}

	now := time.Now().UTC()
	t.ID = primitive.NewObjectID()
	t.Domains = domains
	if t.Status == "" {
		t.Status = models.TenantActive
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, t); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Tenant{}, ErrDuplicate
		}
		return models.Tenant{}, err
	}
	return t, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.Tenant, error) {
	var t models.Tenant
	if err := s.c.FindOne(ctx, filter).Decode(&t); err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Tenant{}, ErrNotFound
		}
		return models.Tenant{}, err
	}
	return t, nil
}

// GetByID retrieves a tenant by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetBySchema retrieves a tenant by its schema name.
func (s *Store) GetBySchema(ctx context.Context, schema string) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"schema_name": schema})
}

// GetBySlug retrieves a tenant by its slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"slug": slug})
}

// GetByDomain retrieves the tenant routed to host.
func (s *Store) GetByDomain(ctx context.Context, host string) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"domains": NormalizeHost(host)})
}

// List returns all tenants ordered by schema name.
func (s *Store) List(ctx context.Context) ([]models.Tenant, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "schema_name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Tenant
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddDomain routes an additional host to the tenant.
func (s *Store) AddDomain(ctx context.Context, id primitive.ObjectID, host string) error {
	host = NormalizeHost(host)
	if host == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidTenant)
	}
	res, err := s.c.UpdateByID(ctx, id, bson.M{
		"$addToSet": bson.M{"domains": host},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus changes a tenant's status. The schema name is never updated.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	if status != models.TenantActive && status != models.TenantSuspended {
		return fmt.Errorf("%w: status %q", ErrInvalidTenant, status)
	}
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
