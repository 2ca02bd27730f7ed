// Package partitions maps tenant schema names to MongoDB databases.
//
// Every tenant's data lives in its own database named <prefix><schema>. The
// shared partition ("public") is the configured main database. Nothing outside
// this package builds database names from user input.
package partitions

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrInvalidSchema is returned for schema names that cannot name a partition.
var ErrInvalidSchema = errors.New("invalid schema name")

var schemaRE = regexp.MustCompile(`^[a-z][a-z0-9_]{2,47}$`)

// ValidSchemaName reports whether name is usable as a tenant schema name.
// "public" is reserved for the shared partition.
func ValidSchemaName(name string) bool {
	return name != models.PublicSchema && schemaRE.MatchString(name)
}

// Provider hands out partition databases from a single client.
type Provider struct {
	client *mongo.Client
	public string
	prefix string
}

// New returns a Provider. publicDB is the shared partition's database name
// and prefix is prepended to tenant schema names.
func New(client *mongo.Client, publicDB, prefix string) *Provider {
	return &Provider{client: client, public: publicDB, prefix: prefix}
}

// Client returns the underlying Mongo client.
func (p *Provider) Client() *mongo.Client { return p.client }

// Public returns the shared partition.
func (p *Provider) Public() *mongo.Database {
	return p.client.Database(p.public)
}

// For returns the partition for schema. "public" maps to the shared partition.
func (p *Provider) For(schema string) (*mongo.Database, error) {
	if schema == models.PublicSchema {
		return p.Public(), nil
	}
	if !ValidSchemaName(schema) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchema, schema)
	}
	return p.client.Database(p.DatabaseName(schema)), nil
}

// ForTenant returns t's partition database.
func (p *Provider) ForTenant(t models.Tenant) (*mongo.Database, error) {
	return p.For(t.SchemaName)
}

// DatabaseName returns the database name backing schema.
func (p *Provider) DatabaseName(schema string) string {
	if schema == models.PublicSchema {
		return p.public
	}
	return p.prefix + schema
}

// EnsureTenantIndexes creates the per-partition indexes for schema. It is
// idempotent and runs at startup for every registered tenant and right after
// a tenant is provisioned.
func (p *Provider) EnsureTenantIndexes(ctx context.Context, schema string) error {
	db, err := p.For(schema)
	if err != nil {
		return err
	}
	return EnsureIndexes(ctx, db)
}

// EnsureIndexes creates the indexes every partition needs (users,
// memberships, devices). The shared partition uses them for platform users.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "email_ci", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_users_email_ci")},
			{Keys: bson.D{{Key: "username_ci", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_users_username_ci")},
		},
		"tenant_memberships": {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "tenant_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_membership_user_tenant")},
		},
		"devices": {
			{Keys: bson.D{{Key: "client_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_devices_client_id")},
		},
		"audit_events": {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}, Options: options.Index().SetName("idx_audit_timestamp")},
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}}, Options: options.Index().SetName("idx_audit_type_time")},
		},
	}
	for coll, idx := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("%s: %w", coll, err)
		}
	}
	return nil
}
