// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"

	"github.com/dalemusser/climatrak/internal/app/store/audit"
	"github.com/dalemusser/climatrak/internal/app/system/ratelimit"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Destination settings accepted by Config fields.
const (
	ModeAll = "all" // MongoDB + zap
	ModeDB  = "db"
	ModeLog = "log"
	ModeOff = "off"
)

// Config holds audit logging configuration. Each field is one of
// "all", "db", "log" or "off".
type Config struct {
	Auth     string
	Device   string
	Security string
	Admin    string
}

// Partitions resolves the database an event is stored in.
type Partitions interface {
	For(schema string) (*mongo.Database, error)
}

// Logger records audit events to the partition they concern and to zap.
// Events without a tenant go to the shared partition and must not carry
// plaintext email addresses.
type Logger struct {
	parts  Partitions
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(parts Partitions, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{parts: parts, zapLog: zapLog, config: config}
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.TenantSchema != "" {
		fields = append(fields, zap.String("tenant_schema", event.TenantSchema))
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.EmailHash != "" {
		fields = append(fields, zap.String("email_hash", event.EmailHash))
	}
	if event.DeviceID != "" {
		fields = append(fields, zap.String("device_id", event.DeviceID))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

func (l *Logger) setting(category string) string {
	var s string
	switch category {
	case audit.CategoryAuth:
		s = l.config.Auth
	case audit.CategoryDevice:
		s = l.config.Device
	case audit.CategorySecurity:
		s = l.config.Security
	case audit.CategoryAdmin:
		s = l.config.Admin
	}
	if s == "" {
		return ModeAll
	}
	return s
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	setting := l.setting(event.Category)
	if setting == ModeOff {
		return
	}
	if setting == ModeAll || setting == ModeLog {
		l.logToZap(event)
	}
	if setting != ModeAll && setting != ModeDB {
		return
	}
	if l.parts == nil {
		return
	}

	schema := event.TenantSchema
	if schema == "" {
		schema = models.PublicSchema
	}
	db, err := l.parts.For(schema)
	if err != nil {
		l.zapLog.Error("audit event has no partition",
			zap.Error(err),
			zap.String("tenant_schema", schema),
			zap.String("event_type", event.EventType))
		return
	}
	if err := audit.New(db).Log(ctx, event); err != nil {
		l.zapLog.Error("failed to store audit event",
			zap.Error(err),
			zap.String("event_type", event.EventType),
		)
	}
}

func fromRequest(r *http.Request, category, eventType, schema string, success bool) audit.Event {
	return audit.Event{
		Category:     category,
		EventType:    eventType,
		TenantSchema: schema,
		IP:           ratelimit.ClientIP(r),
		UserAgent:    r.UserAgent(),
		Success:      success,
	}
}

// --- Authentication Events ---

// LoginSuccess logs a successful login.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, schema string, userID primitive.ObjectID) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventLoginSuccess, schema, true)
	e.UserID = &userID
	l.Log(ctx, e)
}

// LoginFailed logs a rejected credential check. The attempted identifier is
// recorded only as a hash.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, schema, identifierHash string) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventLoginFailedCredentials, schema, false)
	e.EmailHash = identifierHash
	e.FailureReason = "invalid credentials"
	l.Log(ctx, e)
}

// LoginNoMembership logs valid credentials without an active membership.
func (l *Logger) LoginNoMembership(ctx context.Context, r *http.Request, schema string, userID primitive.ObjectID) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventLoginFailedNoMembership, schema, false)
	e.UserID = &userID
	e.FailureReason = "no active membership"
	l.Log(ctx, e)
}

// LoginRateLimited logs a throttled login attempt.
func (l *Logger) LoginRateLimited(ctx context.Context, r *http.Request, schema, identifierHash string) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventLoginFailedRateLimit, schema, false)
	e.EmailHash = identifierHash
	e.FailureReason = "rate limited"
	l.Log(ctx, e)
}

// Logout logs a logout.
func (l *Logger) Logout(ctx context.Context, r *http.Request, schema string, userID *primitive.ObjectID) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventLogout, schema, true)
	e.UserID = userID
	l.Log(ctx, e)
}

// TokenRefreshed logs a refresh-token rotation.
func (l *Logger) TokenRefreshed(ctx context.Context, r *http.Request, schema string, userID primitive.ObjectID) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventTokenRefreshed, schema, true)
	e.UserID = &userID
	l.Log(ctx, e)
}

// TokenRejected logs a session token that failed validation.
func (l *Logger) TokenRejected(ctx context.Context, r *http.Request, schema, code string) {
	e := fromRequest(r, audit.CategoryAuth, audit.EventTokenRejected, schema, false)
	e.FailureReason = code
	l.Log(ctx, e)
}

// --- Security Events ---

// TenantOverrideDenied logs an override header naming a tenant the caller
// has no active membership in.
func (l *Logger) TenantOverrideDenied(ctx context.Context, r *http.Request, schema, emailHash string) {
	e := fromRequest(r, audit.CategorySecurity, audit.EventTenantOverrideDenied, "", false)
	e.EmailHash = emailHash
	e.FailureReason = "no_tenant_membership"
	e.Details = map[string]string{"requested_tenant": schema}
	l.Log(ctx, e)
}

// DiscoveryRateLimited logs a throttled tenant discovery request.
func (l *Logger) DiscoveryRateLimited(ctx context.Context, r *http.Request) {
	e := fromRequest(r, audit.CategorySecurity, audit.EventDiscoveryRateLimited, "", false)
	e.FailureReason = "rate limited"
	l.Log(ctx, e)
}

// --- Device Events ---

// DeviceRejected logs a device request that failed signature verification.
func (l *Logger) DeviceRejected(ctx context.Context, r *http.Request, schema, clientID, code string) {
	e := fromRequest(r, audit.CategoryDevice, audit.EventDeviceSignatureRejected, schema, false)
	e.DeviceID = clientID
	e.FailureReason = code
	l.Log(ctx, e)
}

// DeviceReplay logs a replayed device signature.
func (l *Logger) DeviceReplay(ctx context.Context, r *http.Request, schema, clientID string) {
	e := fromRequest(r, audit.CategoryDevice, audit.EventDeviceReplayDetected, schema, false)
	e.DeviceID = clientID
	e.FailureReason = "replay"
	l.Log(ctx, e)
}

// --- Admin Events ---

// Admin logs an operator action that has no HTTP request (CLI, workers).
func (l *Logger) Admin(ctx context.Context, schema, eventType string, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:     audit.CategoryAdmin,
		EventType:    eventType,
		TenantSchema: schema,
		IP:           "local",
		Success:      true,
		Details:      details,
	})
}
