// Package discovery answers "which tenants can this person sign in to?"
// before any tenant is known.
//
// Unknown and known identifiers produce the same response shape and run the
// same hash and indexed lookup, so the answer does not reveal account
// existence through status, field presence or timing class.
package discovery

import (
	"context"
	"errors"
	"strings"

	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Mirror lists active mirrored memberships for an email hash, oldest first.
type Mirror interface {
	ActiveByEmailHash(ctx context.Context, emailHash string) ([]models.PublicMembership, error)
}

// Index lists tenants reachable by a hashed username, oldest membership first.
type Index interface {
	ActiveTenants(ctx context.Context, identifierHash string) ([]primitive.ObjectID, error)
}

// Tenants resolves tenant ids.
type Tenants interface {
	ByID(ctx context.Context, id primitive.ObjectID) (models.Tenant, error)
}

// Hasher computes identifier hashes.
type Hasher interface {
	Hash(email string) string
	HashUsername(username string) string
}

// TenantSummary is the public view of a tenant.
type TenantSummary struct {
	Schema string `json:"schema"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Result has the same keys whether or not anything was found.
type Result struct {
	Found         bool            `json:"found"`
	Tenants       []TenantSummary `json:"tenants"`
	PrimaryTenant *TenantSummary  `json:"primary_tenant"`
	HasMultiple   bool            `json:"has_multiple"`
}

// Empty is the not-found result.
func Empty() Result {
	return Result{Tenants: []TenantSummary{}}
}

// Service runs discovery lookups.
type Service struct {
	mirror  Mirror
	index   Index
	tenants Tenants
	hasher  Hasher
	logger  *zap.Logger
}

// New returns a Service.
func New(mirror Mirror, index Index, tenants Tenants, hasher Hasher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{mirror: mirror, index: index, tenants: tenants, hasher: hasher, logger: logger}
}

// Discover looks up identifier, an email address or a username. Results are
// ordered by join date, earliest first, and the earliest is the primary
// tenant. Suspended tenants are left out.
func (s *Service) Discover(ctx context.Context, identifier string) (Result, error) {
	identifier = strings.TrimSpace(identifier)

	var ids []primitive.ObjectID
	if strings.Contains(identifier, "@") {
		rows, err := s.mirror.ActiveByEmailHash(ctx, s.hasher.Hash(identifier))
		if err != nil {
			return Empty(), err
		}
		for _, m := range rows {
			ids = append(ids, m.TenantID)
		}
	} else {
		found, err := s.index.ActiveTenants(ctx, s.hasher.HashUsername(identifier))
		if err != nil {
			return Empty(), err
		}
		ids = found
	}

	res := Empty()
	seen := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		t, err := s.tenants.ByID(ctx, id)
		if err != nil {
			if errors.Is(err, tenantstore.ErrNotFound) {
				s.logger.Warn("mirror row references missing tenant", zap.String("tenant_id", id.Hex()))
				continue
			}
			return Empty(), err
		}
		if !t.IsActive() {
			continue
		}
		res.Tenants = append(res.Tenants, TenantSummary{
			Schema: t.SchemaName,
			Slug:   t.Slug,
			Name:   t.Name,
			Domain: t.PrimaryDomain(),
		})
	}

	if len(res.Tenants) > 0 {
		res.Found = true
		primary := res.Tenants[0]
		res.PrimaryTenant = &primary
		res.HasMultiple = len(res.Tenants) > 1
	}
	return res, nil
}
