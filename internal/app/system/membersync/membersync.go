// Package membersync copies tenant memberships into the shared partition's
// privacy-reduced mirror and discovery index.
//
// Sync is an upsert keyed by (email_hash, tenant_id), so it can be repeated
// safely. Only hashes, role, status and join time leave the tenant
// partition; plaintext email, names and tenant-local user ids never do.
package membersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	discoveryindex "github.com/dalemusser/climatrak/internal/app/store/discoveryindex"
	membershipstore "github.com/dalemusser/climatrak/internal/app/store/memberships"
	mirrorstore "github.com/dalemusser/climatrak/internal/app/store/mirror"
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/app/system/authmetrics"
	"github.com/dalemusser/climatrak/internal/app/system/emailhash"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Tenants lists and finds tenants. *tenantstore.Store satisfies it.
type Tenants interface {
	GetBySchema(ctx context.Context, schema string) (models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
}

// Result counts what one sync did.
type Result struct {
	Tenant         string `json:"tenant"`
	Memberships    int    `json:"memberships"`
	Synced         int    `json:"synced"`
	SkippedNoEmail int    `json:"skipped_no_email"`
	MissingUser    int    `json:"missing_user"`
	Deactivated    int64  `json:"deactivated"`
}

func (r *Result) add(o Result) {
	r.Memberships += o.Memberships
	r.Synced += o.Synced
	r.SkippedNoEmail += o.SkippedNoEmail
	r.MissingUser += o.MissingUser
	r.Deactivated += o.Deactivated
}

// Service runs membership syncs.
type Service struct {
	parts   *partitions.Provider
	tenants Tenants
	mirror  *mirrorstore.Store
	index   *discoveryindex.Store
	hasher  *emailhash.Hasher
	metrics *authmetrics.Metrics
	logger  *zap.Logger
}

// New returns a Service writing to parts' shared partition. metrics may be nil.
func New(parts *partitions.Provider, tenants Tenants, hasher *emailhash.Hasher, metrics *authmetrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		parts:   parts,
		tenants: tenants,
		mirror:  mirrorstore.New(parts.Public()),
		index:   discoveryindex.New(parts.Public()),
		hasher:  hasher,
		metrics: metrics,
		logger:  logger,
	}
}

// SyncPartition mirrors every membership of the tenant with schema. Mirror
// rows and discovery entries for the tenant that this pass did not write
// (deleted users, removed memberships, cleared emails, renamed usernames)
// are marked inactive afterwards.
func (s *Service) SyncPartition(ctx context.Context, schema string) (Result, error) {
	// Mongo stores milliseconds; truncating keeps rows written during this
	// pass from comparing as older than its start.
	start := time.Now().UTC().Truncate(time.Millisecond)

	t, err := s.tenants.GetBySchema(ctx, schema)
	if err != nil {
		return Result{Tenant: schema}, fmt.Errorf("load tenant %q: %w", schema, err)
	}
	db, err := s.parts.ForTenant(t)
	if err != nil {
		return Result{Tenant: schema}, err
	}

	ms, err := membershipstore.New(db).List(ctx, t.ID)
	if err != nil {
		return Result{Tenant: schema}, fmt.Errorf("list memberships: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.UserID)
	}
	users, err := userstore.New(db).GetByIDs(ctx, ids)
	if err != nil {
		return Result{Tenant: schema}, fmt.Errorf("load users: %w", err)
	}

	res := Result{Tenant: schema, Memberships: len(ms)}
	for _, m := range ms {
		u, ok := users[m.UserID]
		if !ok {
			res.MissingUser++
			continue
		}
		synced, err := s.write(ctx, t, m, u)
		if err != nil {
			return res, err
		}
		if !synced {
			res.SkippedNoEmail++
			continue
		}
		res.Synced++
	}

	n, err := s.mirror.DeactivateStale(ctx, t.ID, start)
	if err != nil {
		return res, fmt.Errorf("deactivate stale mirror rows: %w", err)
	}
	res.Deactivated = n
	if _, err := s.index.DeactivateStale(ctx, t.ID, start); err != nil {
		return res, fmt.Errorf("deactivate stale discovery entries: %w", err)
	}

	s.metrics.MembershipsSynced(res.Synced)
	s.logger.Info("membership sync finished",
		zap.String("schema", schema),
		zap.Int("memberships", res.Memberships),
		zap.Int("synced", res.Synced),
		zap.Int("skipped_no_email", res.SkippedNoEmail),
		zap.Int("missing_user", res.MissingUser),
		zap.Int64("deactivated", res.Deactivated))
	return res, nil
}

// SyncMembership mirrors one membership. Write paths call it right after the
// membership or its user is committed.
func (s *Service) SyncMembership(ctx context.Context, schema string, membershipID primitive.ObjectID) error {
	t, err := s.tenants.GetBySchema(ctx, schema)
	if err != nil {
		return fmt.Errorf("load tenant %q: %w", schema, err)
	}
	db, err := s.parts.ForTenant(t)
	if err != nil {
		return err
	}
	m, err := membershipstore.New(db).GetByID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	u, err := userstore.New(db).GetByID(ctx, m.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	synced, err := s.write(ctx, t, m, *u)
	if err != nil {
		return err
	}
	if synced {
		s.metrics.MembershipsSynced(1)
	}
	return nil
}

// SyncAll syncs every tenant. It keeps going past failing tenants and
// returns their errors joined.
func (s *Service) SyncAll(ctx context.Context) (Result, error) {
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list tenants: %w", err)
	}
	var (
		total Result
		errs  []error
	)
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.SyncPartition(ctx, t.SchemaName)
		total.add(res)
		if err != nil {
			s.logger.Error("membership sync failed", zap.String("schema", t.SchemaName), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// write upserts the mirror row and discovery entries for m. It reports false
// when the user has no email to hash.
func (s *Service) write(ctx context.Context, t models.Tenant, m models.TenantMembership, u models.User) (bool, error) {
	if emailhash.Normalize(u.Email) == "" {
		return false, nil
	}

	status := m.Status
	if !u.IsActive && status == models.MembershipActive {
		status = models.MembershipInactive
	}
	hash := s.hasher.Hash(u.Email)

	if err := s.mirror.Upsert(ctx, models.PublicMembership{
		EmailHash: hash,
		TenantID:  t.ID,
		Role:      m.Role,
		Status:    status,
		JoinedAt:  m.JoinedAt,
	}); err != nil {
		return false, fmt.Errorf("upsert mirror: %w", err)
	}

	active := status == models.MembershipActive
	if err := s.index.Upsert(ctx, hash, t.ID, active, m.JoinedAt); err != nil {
		return false, fmt.Errorf("upsert discovery index: %w", err)
	}
	if u.Username != "" {
		if err := s.index.Upsert(ctx, s.hasher.HashUsername(u.Username), t.ID, active, m.JoinedAt); err != nil {
			return false, fmt.Errorf("upsert discovery index: %w", err)
		}
	}
	return true, nil
}
