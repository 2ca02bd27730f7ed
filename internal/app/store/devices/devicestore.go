// internal/app/store/devices/devicestore.go
package devicestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/climatrak/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound  = errors.New("device not found")
	ErrDuplicate = errors.New("a device with this client id already exists")
)

// Store manages devices in one tenant partition.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("devices")}
}

// NewSecret returns a random 32-byte hex-encoded signing secret.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Create registers a device. A client id and secret are generated when empty.
func (s *Store) Create(ctx context.Context, d models.Device) (models.Device, error) {
	d.ClientID = strings.TrimSpace(d.ClientID)
	if d.ClientID == "" {
		d.ClientID = "dev_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if d.Secret == "" {
		secret, err := NewSecret()
		if err != nil {
			return models.Device{}, err
		}
		d.Secret = secret
	}
	now := time.Now().UTC()
	d.ID = primitive.NewObjectID()
	d.CreatedAt = now
	d.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, d); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Device{}, ErrDuplicate
		}
		return models.Device{}, err
	}
	return d, nil
}

// GetByClientID loads a device by its client id.
func (s *Store) GetByClientID(ctx context.Context, clientID string) (models.Device, error) {
	var d models.Device
	if err := s.c.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Device{}, ErrNotFound
		}
		return models.Device{}, err
	}
	return d, nil
}

// Touch records that the device was just seen.
func (s *Store) Touch(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{"last_seen_at": at.UTC()}})
	return err
}

// SetActive enables or disables a device.
func (s *Store) SetActive(ctx context.Context, id primitive.ObjectID, active bool) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"is_active":  active,
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
