// internal/domain/models/tenant.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PublicSchema is the schema name of the shared partition. It holds the tenant
// registry, the membership mirror, the discovery index and platform users.
const PublicSchema = "public"

// Tenant status values.
const (
	TenantActive    = "active"
	TenantSuspended = "suspended"
)

// Tenant is a customer organization whose operational data lives in its own
// partition. It is stored in the shared partition's tenants collection.
//
// SchemaName names the tenant's partition and never changes after creation.
type Tenant struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Slug       string             `bson:"slug" json:"slug"`
	SchemaName string             `bson:"schema_name" json:"schema_name"`

	// Domains are lower-case host names routed to this tenant
	// (e.g., "acme.climatrak.com"). The first entry is the primary domain.
	Domains []string `bson:"domains" json:"domains"`

	Status    string    `bson:"status" json:"status"` // active | suspended
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// PrimaryDomain returns the first configured domain or "".
func (t Tenant) PrimaryDomain() string {
	if len(t.Domains) == 0 {
		return ""
	}
	return t.Domains[0]
}

// IsActive reports whether requests may be routed to the tenant.
func (t Tenant) IsActive() bool {
	return t.Status == TenantActive
}
