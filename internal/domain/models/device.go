// internal/domain/models/device.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Device is a field device (sensor gateway, controller) that pushes data with
// HMAC-signed requests. Devices live in their tenant's partition.
type Device struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientID   string             `bson:"client_id" json:"client_id"`
	Name       string             `bson:"name" json:"name"`
	Secret     string             `bson:"secret" json:"-"`
	IsActive   bool               `bson:"is_active" json:"is_active"`
	LastSeenAt *time.Time         `bson:"last_seen_at,omitempty" json:"last_seen_at,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}
