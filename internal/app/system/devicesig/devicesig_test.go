package devicesig_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	devicestore "github.com/dalemusser/climatrak/internal/app/store/devices"
	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/devicesig"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	secretS = "S"
	t0      = int64(1700000000)
)

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]models.Device // schema|client_id
	touched int
}

func (f *fakeDevices) Lookup(_ context.Context, schema, clientID string) (models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[schema+"|"+clientID]; ok {
		return d, nil
	}
	return models.Device{}, devicestore.ErrNotFound
}

func (f *fakeDevices) Touch(context.Context, string, primitive.ObjectID, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func newACME() *fakeDevices {
	return &fakeDevices{devices: map[string]models.Device{
		"acme|D1":  {ID: primitive.NewObjectID(), ClientID: "D1", Secret: secretS, IsActive: true},
		"acme|OFF": {ID: primitive.NewObjectID(), ClientID: "OFF", Secret: secretS, IsActive: false},
	}}
}

func newVerifier(devs devicesig.Devices) *devicesig.Verifier {
	cache := devicesig.NewMemoryReplayCache()
	cache.SetClock(func() time.Time { return time.Unix(t0, 0) })
	v := devicesig.NewVerifier(devs, cache, 0)
	v.SetClock(func() time.Time { return time.Unix(t0, 0) })
	return v
}

func TestVerify(t *testing.T) {
	body := []byte(`{"v":1}`)
	good := devicesig.Sign(secretS, t0, body)

	tests := []struct {
		name     string
		schema   string
		clientID string
		ts       string
		sig      string
		body     []byte
		want     error
	}{
		{"valid", "acme", "D1", "1700000000", good, body, nil},
		{"valid with prefix", "acme", "D1", "1700000000", "sha256=" + devicesig.Sign(secretS, t0, []byte(`{"v":2}`)), []byte(`{"v":2}`), nil},
		{"unknown device", "acme", "D9", "1700000000", good, body, apierr.ErrInvalidSignature},
		{"device in other tenant", "beta", "D1", "1700000000", good, body, apierr.ErrInvalidSignature},
		{"inactive device", "acme", "OFF", "1700000000", good, body, apierr.ErrInvalidSignature},
		{"malformed timestamp", "acme", "D1", "yesterday", good, body, apierr.ErrInvalidSignature},
		{"tampered body", "acme", "D1", "1700000000", good, []byte(`{"v":9}`), apierr.ErrInvalidSignature},
		{"wrong secret", "acme", "D1", "1700000000", devicesig.Sign("other", t0, body), body, apierr.ErrInvalidSignature},
		{"garbage signature", "acme", "D1", "1700000000", "zz", body, apierr.ErrInvalidSignature},
		{"future timestamp", "acme", "D1", strconv.FormatInt(t0+9999, 10), devicesig.Sign(secretS, t0+9999, body), body, apierr.ErrExpiredTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(newACME())
			_, err := v.Verify(context.Background(), tt.schema, tt.clientID, tt.body, tt.ts, tt.sig)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerify_ReplayDetected(t *testing.T) {
	v := newVerifier(newACME())
	body := []byte(`{"v":1}`)
	sig := devicesig.Sign(secretS, t0, body)

	if _, err := v.Verify(context.Background(), "acme", "D1", body, "1700000000", sig); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := v.Verify(context.Background(), "acme", "D1", body, "1700000000", sig)
	if !errors.Is(err, apierr.ErrReplayDetected) {
		t.Fatalf("second call: got %v, want replay_detected", err)
	}
	if apierr.From(err).Status != http.StatusConflict {
		t.Errorf("replay status: got %d", apierr.From(err).Status)
	}
}

func TestVerify_StaleTimestampRejectedEvenWhenSigned(t *testing.T) {
	v := newVerifier(newACME())
	body := []byte(`{"v":1}`)
	stale := t0 - 9999
	_, err := v.Verify(context.Background(), "acme", "D1", body, strconv.FormatInt(stale, 10), devicesig.Sign(secretS, stale, body))
	if !errors.Is(err, apierr.ErrExpiredTimestamp) {
		t.Fatalf("got %v, want expired_timestamp", err)
	}
	if apierr.From(err).Status != http.StatusUnauthorized {
		t.Errorf("status: got %d", apierr.From(err).Status)
	}
}

func TestVerify_StaleTimestampSameForUnknownDevice(t *testing.T) {
	v := newVerifier(newACME())
	body := []byte(`{}`)
	stale := strconv.FormatInt(t0-9999, 10)

	for _, clientID := range []string{"D1", "OFF", "no-such-device"} {
		_, err := v.Verify(context.Background(), "acme", clientID, body, stale, "00")
		if !errors.Is(err, apierr.ErrExpiredTimestamp) {
			t.Errorf("%s: got %v, want expired_timestamp", clientID, err)
		}
	}
	_, err := v.Verify(context.Background(), "ghost", "D1", body, stale, "00")
	if !errors.Is(err, apierr.ErrExpiredTimestamp) {
		t.Errorf("unknown tenant: got %v, want expired_timestamp", err)
	}
}

func TestVerify_ConcurrentReplayOnlyOneWins(t *testing.T) {
	v := newVerifier(newACME())
	body := []byte(`{"v":1}`)
	sig := devicesig.Sign(secretS, t0, body)

	var ok, replays int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), "acme", "D1", body, "1700000000", sig)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, apierr.ErrReplayDetected):
				atomic.AddInt32(&replays, 1)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || replays != 31 {
		t.Errorf("accepted %d, replays %d; want 1 and 31", ok, replays)
	}
}

type failingCache struct{}

func (failingCache) Remember(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("cache down")
}

func TestVerify_CacheFailureIsInternal(t *testing.T) {
	v := devicesig.NewVerifier(newACME(), failingCache{}, 0)
	v.SetClock(func() time.Time { return time.Unix(t0, 0) })
	body := []byte(`{"v":1}`)
	_, err := v.Verify(context.Background(), "acme", "D1", body, "1700000000", devicesig.Sign(secretS, t0, body))
	if err == nil || apierr.CodeOf(err) != apierr.CodeInternal {
		t.Errorf("got %v, want internal error", err)
	}
}

func TestMemoryReplayCache_Expires(t *testing.T) {
	now := time.Unix(t0, 0)
	c := devicesig.NewMemoryReplayCache()
	c.SetClock(func() time.Time { return now })

	if fresh, _ := c.Remember(context.Background(), "k", time.Minute); !fresh {
		t.Fatal("first Remember should be fresh")
	}
	if fresh, _ := c.Remember(context.Background(), "k", time.Minute); fresh {
		t.Fatal("second Remember within ttl should not be fresh")
	}
	now = now.Add(2 * time.Minute)
	if fresh, _ := c.Remember(context.Background(), "k", time.Minute); !fresh {
		t.Fatal("Remember after ttl should be fresh")
	}
}

// signedRequest builds an ingest request for the ACME tenant.
func signedRequest(body []byte, ts int64, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/telemetry", bytes.NewReader(body))
	req = tenantctx.WithTestPartition(req, "acme", primitive.NewObjectID())
	req.Header.Set(devicesig.HeaderDeviceID, "D1")
	req.Header.Set(devicesig.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(devicesig.HeaderSignature, sig)
	return req
}

func TestMiddleware_ACMEScenario(t *testing.T) {
	devs := newACME()
	v := newVerifier(devs)

	var outcomes []string
	var seenBody string
	h := devicesig.Middleware(v, 0, func(_ *http.Request, _, _, outcome string) {
		outcomes = append(outcomes, outcome)
	}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, ok := devicesig.DeviceFromRequest(r)
		if !ok || d.ClientID != "D1" {
			t.Errorf("device not in context: %+v", d)
		}
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	body := []byte(`{"v":1}`)
	sig := devicesig.Sign(secretS, t0, body)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(body, t0, sig))
	if rec.Code != http.StatusOK {
		t.Fatalf("first post: got %d %s", rec.Code, rec.Body.String())
	}
	if seenBody != `{"v":1}` {
		t.Errorf("body not restored: %q", seenBody)
	}
	if devs.touched != 1 {
		t.Errorf("last_seen not updated")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(body, t0, sig))
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeat post: got %d, want 409", rec.Code)
	}

	stale := t0 - 9999
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(body, stale, devicesig.Sign(secretS, stale, body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale post: got %d, want 401", rec.Code)
	}
	var errBody struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &errBody)
	if errBody.Error.Code != "expired_timestamp" {
		t.Errorf("stale code: got %q", errBody.Error.Code)
	}

	want := []string{"ok", "replay_detected", "expired_timestamp"}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes: got %v", outcomes)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome %d: got %q, want %q", i, outcomes[i], want[i])
		}
	}
}

func TestMiddleware_RequiresTenant(t *testing.T) {
	v := newVerifier(newACME())
	h := devicesig.Middleware(v, 0, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/telemetry", bytes.NewReader([]byte("{}")))
	req = tenantctx.WithInfo(req, &tenantctx.Info{Schema: models.PublicSchema})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestMiddleware_BodyTooLarge(t *testing.T) {
	v := newVerifier(newACME())
	h := devicesig.Middleware(v, 8, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	body := bytes.Repeat([]byte("x"), 64)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(body, t0, devicesig.Sign(secretS, t0, body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}
