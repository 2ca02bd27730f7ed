package auditlog_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/climatrak/internal/app/store/audit"
	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type noPartitions struct{}

func (noPartitions) For(string) (*mongo.Database, error) { return nil, errors.New("no partitions") }

func TestLogger_NilLogger(t *testing.T) {
	var logger *auditlog.Logger
	ctx := context.Background()
	req := httptest.NewRequest("GET", "/", nil)

	logger.Log(ctx, audit.Event{EventType: "test"})
	logger.LoginSuccess(ctx, req, "acme", primitive.NewObjectID())
	logger.Logout(ctx, req, "acme", nil)
}

func TestLogger_LogMode_WritesZapOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := auditlog.New(noPartitions{}, zap.New(core), auditlog.Config{Auth: auditlog.ModeLog})

	req := httptest.NewRequest("POST", "/api/auth/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	logger.LoginFailed(context.Background(), req, "acme", "hash123")

	entries := logs.FilterMessage("audit event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event_type"] != audit.EventLoginFailedCredentials {
		t.Errorf("event_type: got %v", fields["event_type"])
	}
	if fields["ip"] != "203.0.113.5" {
		t.Errorf("ip: got %v", fields["ip"])
	}
	if fields["email_hash"] != "hash123" {
		t.Errorf("email_hash: got %v", fields["email_hash"])
	}
	if logs.FilterMessage("audit event has no partition").Len() != 0 {
		t.Error("log mode must not touch the database")
	}
}

func TestLogger_OffMode(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := auditlog.New(noPartitions{}, zap.New(core), auditlog.Config{Device: auditlog.ModeOff})

	logger.DeviceReplay(context.Background(), httptest.NewRequest("POST", "/", nil), "acme", "D1")

	if logs.Len() != 0 {
		t.Errorf("expected no output, got %d entries", logs.Len())
	}
}

func TestLogger_DBMode_StoresInTenantPartition(t *testing.T) {
	parts := testutil.SetupPartitions(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger := auditlog.New(parts, zap.NewNop(), auditlog.Config{Auth: auditlog.ModeDB, Security: auditlog.ModeDB})

	userID := primitive.NewObjectID()
	req := httptest.NewRequest("POST", "/api/auth/login", nil)
	logger.LoginSuccess(ctx, req, "acme", userID)
	logger.TenantOverrideDenied(ctx, req, "acme", "hash")

	acmeDB, _ := parts.For("acme")
	events, err := audit.New(acmeDB).Query(ctx, audit.QueryFilter{UserID: &userID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 tenant event, got %d", len(events))
	}

	public, err := audit.New(parts.Public()).Query(ctx, audit.QueryFilter{Category: audit.CategorySecurity})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(public) != 1 {
		t.Fatalf("expected 1 public event, got %d", len(public))
	}
	if public[0].UserID != nil {
		t.Error("public event must not carry a tenant-local user id")
	}
}
