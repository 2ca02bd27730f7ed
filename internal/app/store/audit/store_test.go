package audit_test

import (
	"testing"
	"time"

	"github.com/dalemusser/climatrak/internal/app/store/audit"
	"github.com/dalemusser/climatrak/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_LogAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	err := store.Log(ctx, audit.Event{
		Category:     audit.CategoryAuth,
		EventType:    audit.EventLoginSuccess,
		TenantSchema: "acme",
		UserID:       &userID,
		IP:           "192.168.1.1",
		UserAgent:    "TestBrowser/1.0",
		Success:      true,
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := store.Query(ctx, audit.QueryFilter{UserID: &userID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID.IsZero() {
		t.Error("expected ID to be generated")
	}
	if events[0].Timestamp.IsZero() {
		t.Error("expected Timestamp to be set")
	}
}

func TestStore_Query_Filters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	old := time.Now().Add(-2 * time.Hour)
	_ = store.Log(ctx, audit.Event{Category: audit.CategoryAuth, EventType: audit.EventLoginFailedCredentials, Timestamp: old})
	_ = store.Log(ctx, audit.Event{Category: audit.CategoryAuth, EventType: audit.EventLoginFailedCredentials})
	_ = store.Log(ctx, audit.Event{Category: audit.CategoryDevice, EventType: audit.EventDeviceReplayDetected})

	since := time.Now().Add(-time.Hour)
	events, err := store.Query(ctx, audit.QueryFilter{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLoginFailedCredentials,
		Since:     &since,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 recent failed login, got %d", len(events))
	}

	all, err := store.Query(ctx, audit.QueryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("limit not applied: got %d", len(all))
	}
}

func TestStore_Query_DeviceAndFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_ = store.Log(ctx, audit.Event{Category: audit.CategoryDevice, EventType: audit.EventDeviceReplayDetected, DeviceID: "D1"})
	_ = store.Log(ctx, audit.Event{Category: audit.CategoryDevice, EventType: audit.EventDeviceSignatureRejected, DeviceID: "D2"})
	_ = store.Log(ctx, audit.Event{Category: audit.CategoryAuth, EventType: audit.EventLoginSuccess, Success: true})

	d1, err := store.Query(ctx, audit.QueryFilter{DeviceID: "D1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(d1) != 1 || d1[0].EventType != audit.EventDeviceReplayDetected {
		t.Errorf("device filter: got %+v", d1)
	}

	failed, err := store.Query(ctx, audit.QueryFilter{FailedOnly: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(failed) != 2 {
		t.Errorf("failed only: got %d, want 2", len(failed))
	}

	none, err := store.Query(ctx, audit.QueryFilter{DeviceID: "D9"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("empty result should be a non-nil empty slice, got %#v", none)
	}
}
