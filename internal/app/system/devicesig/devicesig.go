// Package devicesig authenticates device requests signed with a per-device
// shared secret.
//
// A device sends X-Device-Id, X-Timestamp (unix seconds) and X-Signature,
// where the signature is hex(HMAC-SHA256(secret, timestamp + "." + body)),
// optionally prefixed with "sha256=". Each accepted signature is remembered
// for twice the allowed clock skew; a second use is a replay.
package devicesig

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	devicestore "github.com/dalemusser/climatrak/internal/app/store/devices"
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Request headers.
const (
	HeaderDeviceID  = "X-Device-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// DefaultSkew is the allowed distance between the device clock and ours.
const DefaultSkew = 5 * time.Minute

// Devices looks up devices in a tenant partition.
type Devices interface {
	Lookup(ctx context.Context, schema, clientID string) (models.Device, error)
	Touch(ctx context.Context, schema string, id primitive.ObjectID, at time.Time) error
}

// ReplayCache is an atomic set-if-absent with expiry. Remember returns true
// the first time key is seen within ttl.
type ReplayCache interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// PartitionDevices reads devices from partition databases.
type PartitionDevices struct {
	Parts *partitions.Provider
}

// Lookup implements Devices.
func (p PartitionDevices) Lookup(ctx context.Context, schema, clientID string) (models.Device, error) {
	db, err := p.Parts.For(schema)
	if err != nil {
		return models.Device{}, err
	}
	return devicestore.New(db).GetByClientID(ctx, clientID)
}

// Touch implements Devices.
func (p PartitionDevices) Touch(ctx context.Context, schema string, id primitive.ObjectID, at time.Time) error {
	db, err := p.Parts.For(schema)
	if err != nil {
		return err
	}
	return devicestore.New(db).Touch(ctx, id, at)
}

// Verifier checks device signatures.
type Verifier struct {
	devices Devices
	replay  ReplayCache
	skew    time.Duration
	now     func() time.Time
}

// NewVerifier returns a Verifier. A zero skew means DefaultSkew.
func NewVerifier(devices Devices, replay ReplayCache, skew time.Duration) *Verifier {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Verifier{devices: devices, replay: replay, skew: skew, now: time.Now}
}

// SetClock overrides the time source.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// Skew returns the allowed clock skew.
func (v *Verifier) Skew() time.Duration { return v.skew }

// Sign computes the signature a device would send. Used by device tooling
// and tests.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify authenticates one signed request for the device clientID in
// schema's partition. Errors are apierr values:
//
//   - invalid_signature: unknown or inactive device, malformed headers,
//     signature mismatch
//   - expired_timestamp: timestamp outside the skew window, checked before
//     the device is looked up, so known and unknown devices answer alike
//   - replay_detected: the same signature was already accepted
//
// Other errors come from the device store or the replay cache.
func (v *Verifier) Verify(ctx context.Context, schema, clientID string, body []byte, timestampHeader, signatureHeader string) (models.Device, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return models.Device{}, apierr.ErrInvalidSignature
	}

	// Header checks come before the lookup so the answer for a stale or
	// malformed request does not depend on whether the device exists.
	ts, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
	if err != nil {
		return models.Device{}, apierr.ErrInvalidSignature
	}
	if diff := v.now().Sub(time.Unix(ts, 0)); diff > v.skew || diff < -v.skew {
		return models.Device{}, apierr.ErrExpiredTimestamp
	}

	d, err := v.devices.Lookup(ctx, schema, clientID)
	if err != nil {
		if errors.Is(err, devicestore.ErrNotFound) || errors.Is(err, partitions.ErrInvalidSchema) {
			return models.Device{}, apierr.ErrInvalidSignature
		}
		return models.Device{}, fmt.Errorf("lookup device: %w", err)
	}
	if !d.IsActive {
		return models.Device{}, apierr.ErrInvalidSignature
	}

	got, err := decodeSignature(signatureHeader)
	if err != nil {
		return models.Device{}, apierr.ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(d.Secret, ts, body))
	if !hmac.Equal(got, want) {
		return models.Device{}, apierr.ErrInvalidSignature
	}

	key := schema + "|" + d.ClientID + "|" + hex.EncodeToString(got)
	fresh, err := v.replay.Remember(ctx, key, 2*v.skew)
	if err != nil {
		return models.Device{}, fmt.Errorf("replay cache: %w", err)
	}
	if !fresh {
		return models.Device{}, apierr.ErrReplayDetected
	}
	return d, nil
}

// Touch records that the device was seen. Failures are returned for logging;
// they never reject the request.
func (v *Verifier) Touch(ctx context.Context, schema string, d models.Device) error {
	return v.devices.Touch(ctx, schema, d.ID, v.now())
}

func decodeSignature(h string) ([]byte, error) {
	h = strings.TrimSpace(h)
	if len(h) > 7 && strings.EqualFold(h[:7], "sha256=") {
		h = h[7:]
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, err
	}
	if len(b) != sha256.Size {
		return nil, errors.New("signature has wrong length")
	}
	return b, nil
}
