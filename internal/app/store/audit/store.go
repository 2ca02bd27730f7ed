// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Categories.
const (
	CategoryAuth     = "auth"
	CategoryDevice   = "device"
	CategorySecurity = "security"
	CategoryAdmin    = "admin"
)

// Auth events.
const (
	EventLoginSuccess            = "login_success"
	EventLoginFailedCredentials  = "login_failed_invalid_credentials"
	EventLoginFailedNoMembership = "login_failed_no_membership"
	EventLoginFailedRateLimit    = "login_failed_rate_limit"
	EventLogout                  = "logout"
	EventTokenRefreshed          = "token_refreshed"
	EventTokenRejected           = "token_rejected"
)

// Security events.
const (
	EventTenantOverrideDenied = "tenant_override_denied"
	EventDiscoveryRateLimited = "discovery_rate_limited"
)

// Device events.
const (
	EventDeviceSignatureRejected = "device_signature_rejected"
	EventDeviceReplayDetected    = "device_replay_detected"
)

// Admin events, written by the CLI and workers.
const (
	EventTenantCreated       = "tenant_created"
	EventTenantStatusChanged = "tenant_status_changed"
	EventTenantDomainAdded   = "tenant_domain_added"
	EventUserCreated         = "user_created"
	EventUserStatusChanged   = "user_status_changed"
	EventMembershipUpdated   = "membership_updated"
	EventDeviceCreated       = "device_created"
	EventDeviceStatusChanged = "device_status_changed"
	EventMembershipSynced    = "membership_synced"
)

// Event is one audit record. Events stored in the shared partition identify
// users only by email hash.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
	Category  string             `bson:"category" json:"category"`
	EventType string             `bson:"event_type" json:"event_type"`

	TenantSchema string              `bson:"tenant_schema,omitempty" json:"tenant_schema,omitempty"`
	UserID       *primitive.ObjectID `bson:"user_id,omitempty" json:"user_id,omitempty"`
	EmailHash    string              `bson:"email_hash,omitempty" json:"email_hash,omitempty"`
	DeviceID     string              `bson:"device_id,omitempty" json:"device_id,omitempty"`
	IP           string              `bson:"ip" json:"ip"`
	UserAgent    string              `bson:"user_agent,omitempty" json:"user_agent,omitempty"`

	Success       bool              `bson:"success" json:"success"`
	FailureReason string            `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	Details       map[string]string `bson:"details,omitempty" json:"details,omitempty"`
}

// QueryFilter narrows Query. Zero fields match everything.
type QueryFilter struct {
	UserID     *primitive.ObjectID
	DeviceID   string
	Category   string
	EventType  string
	Since      *time.Time
	FailedOnly bool
	Limit      int64 // default 100
}

func (f QueryFilter) bson() bson.M {
	q := bson.M{}
	if f.UserID != nil {
		q["user_id"] = *f.UserID
	}
	if f.DeviceID != "" {
		q["device_id"] = f.DeviceID
	}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.EventType != "" {
		q["event_type"] = f.EventType
	}
	if f.Since != nil {
		q["timestamp"] = bson.M{"$gte": *f.Since}
	}
	if f.FailedOnly {
		q["success"] = false
	}
	return q
}

// Store reads and writes audit_events in one partition.
type Store struct {
	c *mongo.Collection
}

// New returns a Store on db.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_events")}
}

// Log inserts event, filling in the id and timestamp when unset.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	cur, err := s.c.Find(ctx, f.bson(), options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(f.Limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	events := []Event{}
	if err := cur.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
