// internal/domain/models/membership.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Membership roles.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleOperator   = "operator"
	RoleTechnician = "technician"
	RoleViewer     = "viewer"
)

// Membership status values.
const (
	MembershipActive    = "active"
	MembershipInactive  = "inactive"
	MembershipInvited   = "invited"
	MembershipSuspended = "suspended"
)

// ValidRole reports whether role is a known membership role.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleOperator, RoleTechnician, RoleViewer:
		return true
	}
	return false
}

// TenantMembership grants a user a role inside one tenant. It lives in the
// tenant's partition and is the source of truth for the public mirror.
// Exactly one document per (user_id, tenant_id).
type TenantMembership struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	TenantID  primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	Role      string             `bson:"role" json:"role"`
	Status    string             `bson:"status" json:"status"`
	JoinedAt  time.Time          `bson:"joined_at" json:"joined_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// IsActive reports whether the membership currently grants access.
func (m TenantMembership) IsActive() bool {
	return m.Status == MembershipActive
}

// PublicMembership is the privacy-reduced mirror of a TenantMembership kept in
// the shared partition. It is keyed by (email_hash, tenant_id) and never holds
// plaintext email, display names or tenant-local user ids.
type PublicMembership struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	EmailHash string             `bson:"email_hash" json:"-"`
	TenantID  primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	Role      string             `bson:"role" json:"role"`
	Status    string             `bson:"status" json:"status"`
	JoinedAt  time.Time          `bson:"joined_at" json:"joined_at"`
	SyncedAt  time.Time          `bson:"synced_at" json:"-"`
}

// IsActive reports whether the mirrored membership is active.
func (m PublicMembership) IsActive() bool {
	return m.Status == MembershipActive
}

// DiscoveryEntry maps a hashed identifier to a tenant for pre-login discovery.
type DiscoveryEntry struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	IdentifierHash string             `bson:"identifier_hash"`
	TenantID       primitive.ObjectID `bson:"tenant_id"`
	IsActive       bool               `bson:"is_active"`
	JoinedAt       time.Time          `bson:"joined_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}
