// Package provision creates and updates tenants, users and devices for
// operators. Every write that changes a membership or its user is followed by
// an explicit mirror sync so discovery and override checks see it
// immediately. Tenant writes go through the registry so its cache is
// invalidated in this process; servers pick them up when their own cache
// entries expire.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/climatrak/internal/app/store/audit"
	devicestore "github.com/dalemusser/climatrak/internal/app/store/devices"
	membershipstore "github.com/dalemusser/climatrak/internal/app/store/memberships"
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/membersync"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrInvalidInput reports a rejected provisioning request.
var ErrInvalidInput = errors.New("invalid input")

// PasswordHasher hashes new passwords. *credentials.Authenticator
// satisfies it.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

// Service runs provisioning operations.
type Service struct {
	parts     *partitions.Provider
	store     *tenantstore.Store
	tenants   *tenantstore.Registry
	passwords PasswordHasher
	sync      *membersync.Service
	audit     *auditlog.Logger
	log       *zap.Logger
}

// New returns a Service. audit may be nil.
func New(parts *partitions.Provider, passwords PasswordHasher, sync *membersync.Service, audit *auditlog.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := tenantstore.New(parts.Public())
	return &Service{
		parts:     parts,
		store:     store,
		tenants:   tenantstore.NewRegistry(store, 0),
		passwords: passwords,
		sync:      sync,
		audit:     audit,
		log:       logger,
	}
}

// TenantInput describes a new tenant.
type TenantInput struct {
	Name    string
	Slug    string
	Schema  string
	Domains []string
}

// CreateTenant registers a tenant and prepares its partition.
func (s *Service) CreateTenant(ctx context.Context, in TenantInput) (models.Tenant, error) {
	if err := s.store.EnsureIndexes(ctx); err != nil {
		return models.Tenant{}, fmt.Errorf("tenant indexes: %w", err)
	}
	t, err := s.tenants.Create(ctx, models.Tenant{
		Name:       strings.TrimSpace(in.Name),
		Slug:       in.Slug,
		SchemaName: strings.TrimSpace(in.Schema),
		Domains:    in.Domains,
	})
	if err != nil {
		return models.Tenant{}, err
	}
	if err := s.parts.EnsureTenantIndexes(ctx, t.SchemaName); err != nil {
		return t, fmt.Errorf("partition indexes: %w", err)
	}
	s.audit.Admin(ctx, t.SchemaName, audit.EventTenantCreated, map[string]string{
		"tenant_id": t.ID.Hex(),
		"slug":      t.Slug,
	})
	return t, nil
}

// SetTenantStatus activates or suspends the tenant with schema.
func (s *Service) SetTenantStatus(ctx context.Context, schema, status string) (models.Tenant, error) {
	t, err := s.tenants.BySchema(ctx, schema)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("tenant %q: %w", schema, err)
	}
	if err := s.tenants.SetStatus(ctx, t.ID, status); err != nil {
		return models.Tenant{}, err
	}
	s.audit.Admin(ctx, t.SchemaName, audit.EventTenantStatusChanged, map[string]string{
		"tenant_id": t.ID.Hex(),
		"status":    status,
	})
	return s.tenants.BySchema(ctx, schema)
}

// AddDomain routes host to the tenant with schema.
func (s *Service) AddDomain(ctx context.Context, schema, host string) (models.Tenant, error) {
	t, err := s.tenants.BySchema(ctx, schema)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("tenant %q: %w", schema, err)
	}
	if err := s.tenants.AddDomain(ctx, t.ID, host); err != nil {
		return models.Tenant{}, err
	}
	s.audit.Admin(ctx, t.SchemaName, audit.EventTenantDomainAdded, map[string]string{
		"tenant_id": t.ID.Hex(),
		"domain":    tenantstore.NormalizeHost(host),
	})
	return s.tenants.BySchema(ctx, schema)
}

// UserInput describes a new tenant user.
type UserInput struct {
	Schema   string
	Email    string
	Username string
	FullName string
	Password string
	Role     string // models.RoleViewer when empty
}

// CreateUser creates a user in the tenant's partition, gives it an active
// membership and syncs that membership to the mirror.
func (s *Service) CreateUser(ctx context.Context, in UserInput) (models.User, models.TenantMembership, error) {
	role := in.Role
	if role == "" {
		role = models.RoleViewer
	}
	if !models.ValidRole(role) {
		return models.User{}, models.TenantMembership{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if len(in.Password) < 8 {
		return models.User{}, models.TenantMembership{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	t, err := s.tenants.BySchema(ctx, in.Schema)
	if err != nil {
		return models.User{}, models.TenantMembership{}, fmt.Errorf("tenant %q: %w", in.Schema, err)
	}
	db, err := s.parts.ForTenant(t)
	if err != nil {
		return models.User{}, models.TenantMembership{}, err
	}

	hash, err := s.passwords.HashPassword(in.Password)
	if err != nil {
		return models.User{}, models.TenantMembership{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := userstore.New(db).Create(ctx, models.User{
		Email:        in.Email,
		Username:     strings.TrimSpace(in.Username),
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		return models.User{}, models.TenantMembership{}, err
	}

	m, err := membershipstore.New(db).Add(ctx, models.TenantMembership{
		UserID:   u.ID,
		TenantID: t.ID,
		Role:     role,
		Status:   models.MembershipActive,
		JoinedAt: time.Now().UTC(),
	})
	if err != nil {
		return u, models.TenantMembership{}, fmt.Errorf("add membership: %w", err)
	}
	if err := s.sync.SyncMembership(ctx, t.SchemaName, m.ID); err != nil {
		return u, m, fmt.Errorf("sync membership: %w", err)
	}

	s.audit.Admin(ctx, t.SchemaName, audit.EventUserCreated, map[string]string{
		"user_id": u.ID.Hex(),
		"role":    role,
	})
	return u, m, nil
}

// MembershipInput changes a user's membership. Empty Role or Status leaves
// that field unchanged. User is an email address or username.
type MembershipInput struct {
	Schema string
	User   string
	Role   string
	Status string
}

// SetMembership updates the user's membership in the tenant and re-mirrors
// it.
func (s *Service) SetMembership(ctx context.Context, in MembershipInput) (models.TenantMembership, error) {
	if in.Role == "" && in.Status == "" {
		return models.TenantMembership{}, fmt.Errorf("%w: nothing to change", ErrInvalidInput)
	}
	if in.Role != "" && !models.ValidRole(in.Role) {
		return models.TenantMembership{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if in.Status != "" && !membershipstore.ValidStatus(in.Status) {
		return models.TenantMembership{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}

	t, db, u, err := s.user(ctx, in.Schema, in.User)
	if err != nil {
		return models.TenantMembership{}, err
	}
	members := membershipstore.New(db)
	m, err := members.Get(ctx, u.ID, t.ID)
	if err != nil {
		return models.TenantMembership{}, fmt.Errorf("membership: %w", err)
	}
	if err := members.Update(ctx, m.ID, in.Role, in.Status); err != nil {
		return models.TenantMembership{}, err
	}
	if err := s.sync.SyncMembership(ctx, t.SchemaName, m.ID); err != nil {
		return models.TenantMembership{}, fmt.Errorf("sync membership: %w", err)
	}
	m, err = members.GetByID(ctx, m.ID)
	if err != nil {
		return models.TenantMembership{}, err
	}
	s.audit.Admin(ctx, t.SchemaName, audit.EventMembershipUpdated, map[string]string{
		"user_id": u.ID.Hex(),
		"role":    m.Role,
		"status":  m.Status,
	})
	return m, nil
}

// SetUserActive enables or disables a user and re-mirrors its membership. A
// disabled user's mirror row is inactive whatever the membership status.
func (s *Service) SetUserActive(ctx context.Context, schema, user string, active bool) error {
	t, db, u, err := s.user(ctx, schema, user)
	if err != nil {
		return err
	}
	if err := userstore.New(db).SetActive(ctx, u.ID, active); err != nil {
		return err
	}
	m, err := membershipstore.New(db).Get(ctx, u.ID, t.ID)
	switch {
	case errors.Is(err, membershipstore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("membership: %w", err)
	default:
		if err := s.sync.SyncMembership(ctx, t.SchemaName, m.ID); err != nil {
			return fmt.Errorf("sync membership: %w", err)
		}
	}
	s.audit.Admin(ctx, t.SchemaName, audit.EventUserStatusChanged, map[string]string{
		"user_id": u.ID.Hex(),
		"active":  fmt.Sprint(active),
	})
	return nil
}

func (s *Service) user(ctx context.Context, schema, identifier string) (models.Tenant, *mongo.Database, *models.User, error) {
	t, err := s.tenants.BySchema(ctx, schema)
	if err != nil {
		return models.Tenant{}, nil, nil, fmt.Errorf("tenant %q: %w", schema, err)
	}
	db, err := s.parts.ForTenant(t)
	if err != nil {
		return models.Tenant{}, nil, nil, err
	}
	u, err := userstore.New(db).FindByLogin(ctx, identifier)
	if err != nil {
		return models.Tenant{}, nil, nil, fmt.Errorf("user %q: %w", identifier, err)
	}
	return t, db, u, nil
}

// CreateDevice registers a device in the tenant's partition. The returned
// device carries the generated client id and secret; the secret is not
// retrievable later.
func (s *Service) CreateDevice(ctx context.Context, schema, name string) (models.Device, error) {
	t, err := s.tenants.BySchema(ctx, schema)
	if err != nil {
		return models.Device{}, fmt.Errorf("tenant %q: %w", schema, err)
	}
	db, err := s.parts.ForTenant(t)
	if err != nil {
		return models.Device{}, err
	}
	d, err := devicestore.New(db).Create(ctx, models.Device{
		Name:     strings.TrimSpace(name),
		IsActive: true,
	})
	if err != nil {
		return models.Device{}, err
	}
	s.audit.Admin(ctx, t.SchemaName, audit.EventDeviceCreated, map[string]string{
		"client_id": d.ClientID,
	})
	return d, nil
}

// SetDeviceActive enables or disables the device with clientID. Disabled
// devices fail signature checks.
func (s *Service) SetDeviceActive(ctx context.Context, schema, clientID string, active bool) error {
	t, err := s.tenants.BySchema(ctx, schema)
	if err != nil {
		return fmt.Errorf("tenant %q: %w", schema, err)
	}
	db, err := s.parts.ForTenant(t)
	if err != nil {
		return err
	}
	devices := devicestore.New(db)
	d, err := devices.GetByClientID(ctx, clientID)
	if err != nil {
		return fmt.Errorf("device %q: %w", clientID, err)
	}
	if err := devices.SetActive(ctx, d.ID, active); err != nil {
		return err
	}
	s.audit.Admin(ctx, t.SchemaName, audit.EventDeviceStatusChanged, map[string]string{
		"client_id": d.ClientID,
		"active":    fmt.Sprint(active),
	})
	return nil
}

// Sync re-mirrors one tenant's memberships, or every tenant's when schema
// is empty.
func (s *Service) Sync(ctx context.Context, schema string) (membersync.Result, error) {
	var (
		res membersync.Result
		err error
	)
	if schema == "" {
		res, err = s.sync.SyncAll(ctx)
	} else {
		res, err = s.sync.SyncPartition(ctx, schema)
	}
	if res.Synced > 0 {
		target := schema
		if target == "" {
			target = models.PublicSchema
		}
		s.audit.Admin(ctx, target, audit.EventMembershipSynced, map[string]string{
			"synced": fmt.Sprint(res.Synced),
		})
	}
	return res, err
}

// Events returns recent audit events from a tenant partition, or from the
// shared partition when schema is empty.
func (s *Service) Events(ctx context.Context, schema string, f audit.QueryFilter) ([]audit.Event, error) {
	if schema == "" {
		schema = models.PublicSchema
	}
	db, err := s.parts.For(schema)
	if err != nil {
		return nil, err
	}
	return audit.New(db).Query(ctx, f)
}
