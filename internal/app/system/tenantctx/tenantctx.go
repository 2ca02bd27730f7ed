// Package tenantctx binds each request to a tenant partition.
//
// Resolution runs once per request: the host (or, when enabled, the override
// header) selects a tenant, and the result is stored as an immutable *Info in
// the request context. Nothing is kept outside the context, so a bound
// partition ends with the request.
package tenantctx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type ctxKey string

const tenantKey ctxKey = "tenant"

// DefaultHeader is the override header name.
const DefaultHeader = "X-Tenant"

// DefaultExemptPaths must work before any tenant is known. Entries ending in
// "/" match as prefixes; the rest match exactly.
var DefaultExemptPaths = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/refresh",
	"/api/auth/logout",
	"/api/auth/discover-tenant",
	"/health",
	"/metrics",
	"/admin/",
	"/api/docs/",
	"/api/schema/",
}

// Info is the partition bound to one request.
type Info struct {
	Schema   string             // partition key; models.PublicSchema for the shared partition
	TenantID primitive.ObjectID // zero for the shared partition
	Name     string
	Slug     string
	Override bool // bound through the override header
	Exempt   bool // path is on the exemption list
}

// IsPublic reports whether the request is bound to the shared partition.
func (i *Info) IsPublic() bool {
	return i == nil || i.Schema == models.PublicSchema
}

// Registry resolves tenants. *tenantstore.Registry satisfies it.
type Registry interface {
	ByDomain(ctx context.Context, host string) (models.Tenant, error)
	Resolve(ctx context.Context, identifier string) (models.Tenant, error)
}

// Config controls resolution.
type Config struct {
	PublicDomains []string // hosts bound to the shared partition
	AllowOverride bool     // honour the override header
	Header        string   // override header name (DefaultHeader when empty)
	ExemptPaths   []string // DefaultExemptPaths when nil
}

// Resolver is the Unresolved → PartitionBound step.
type Resolver struct {
	reg    Registry
	header string
	allow  bool
	exempt []string
	public map[string]bool
	logger *zap.Logger
}

// New returns a Resolver.
func New(reg Registry, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	header := cfg.Header
	if header == "" {
		header = DefaultHeader
	}
	exempt := cfg.ExemptPaths
	if exempt == nil {
		exempt = DefaultExemptPaths
	}
	public := make(map[string]bool, len(cfg.PublicDomains))
	for _, d := range cfg.PublicDomains {
		if h := tenantstore.NormalizeHost(d); h != "" {
			public[h] = true
		}
	}
	return &Resolver{
		reg:    reg,
		header: header,
		allow:  cfg.AllowOverride,
		exempt: exempt,
		public: public,
		logger: logger,
	}
}

// IsExempt reports whether path is on the exemption list.
func IsExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) || path == strings.TrimSuffix(p, "/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// Middleware binds the partition or rejects the request.
//
//   - configured public domains bind the shared partition
//   - other hosts must belong to a tenant, else 404 tenant_not_found
//   - suspended tenants answer 403 tenant_inactive
//   - the override header, when allowed, replaces the host binding; an
//     unknown value is 404 on non-exempt paths and ignored on exempt ones
func (rs *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := rs.resolve(r)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		next.ServeHTTP(w, WithInfo(r, info))
	})
}

func (rs *Resolver) resolve(r *http.Request) (*Info, error) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	exempt := IsExempt(r.URL.Path, rs.exempt)

	if rs.allow {
		if override := strings.TrimSpace(r.Header.Get(rs.header)); override != "" {
			info, err := rs.fromOverride(ctx, override)
			switch {
			case err == nil:
				info.Exempt = exempt
				return info, nil
			case exempt:
				rs.logger.Debug("ignoring unresolved tenant override on exempt path",
					zap.String("path", r.URL.Path),
					zap.String("override", override))
			default:
				return nil, err
			}
		}
	}

	info, err := rs.fromHost(ctx, r.Host)
	if err != nil {
		return nil, err
	}
	info.Exempt = exempt
	return info, nil
}

func (rs *Resolver) fromOverride(ctx context.Context, identifier string) (*Info, error) {
	if strings.EqualFold(identifier, models.PublicSchema) {
		return &Info{Schema: models.PublicSchema, Override: true}, nil
	}
	t, err := rs.reg.Resolve(ctx, strings.ToLower(identifier))
	if err != nil {
		return nil, rs.lookupErr(err, "override", identifier)
	}
	info, err := rs.bind(t)
	if err != nil {
		return nil, err
	}
	info.Override = true
	return info, nil
}

func (rs *Resolver) fromHost(ctx context.Context, rawHost string) (*Info, error) {
	host := tenantstore.NormalizeHost(rawHost)
	if rs.public[host] {
		return &Info{Schema: models.PublicSchema}, nil
	}
	t, err := rs.reg.ByDomain(ctx, host)
	if err != nil {
		return nil, rs.lookupErr(err, "host", host)
	}
	return rs.bind(t)
}

func (rs *Resolver) bind(t models.Tenant) (*Info, error) {
	if !t.IsActive() {
		rs.logger.Info("request to non-active tenant",
			zap.String("schema", t.SchemaName),
			zap.String("status", t.Status))
		return nil, apierr.ErrTenantInactive
	}
	return &Info{
		Schema:   t.SchemaName,
		TenantID: t.ID,
		Name:     t.Name,
		Slug:     t.Slug,
	}, nil
}

func (rs *Resolver) lookupErr(err error, source, value string) error {
	if errors.Is(err, tenantstore.ErrNotFound) {
		rs.logger.Debug("tenant not found", zap.String("source", source), zap.String("value", value))
		return apierr.ErrTenantNotFound
	}
	rs.logger.Error("tenant lookup failed", zap.String("source", source), zap.Error(err))
	return err
}

// FromRequest returns the bound partition.
func FromRequest(r *http.Request) (*Info, bool) {
	return FromContext(r.Context())
}

// FromContext returns the bound partition.
func FromContext(ctx context.Context) (*Info, bool) {
	info, ok := ctx.Value(tenantKey).(*Info)
	return info, ok && info != nil
}

// MustFromContext panics when no partition is bound. Handlers mounted behind
// Middleware may use it.
func MustFromContext(ctx context.Context) *Info {
	info, ok := FromContext(ctx)
	if !ok {
		panic("tenantctx: no partition bound to context")
	}
	return info
}

// SchemaOf returns the bound partition key, or the shared partition when none
// is bound.
func SchemaOf(r *http.Request) string {
	if info, ok := FromRequest(r); ok {
		return info.Schema
	}
	return models.PublicSchema
}

// WithInfo returns r with info bound.
func WithInfo(r *http.Request, info *Info) *http.Request {
	return r.WithContext(NewContext(r.Context(), info))
}

// NewContext returns ctx with info bound.
func NewContext(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, tenantKey, info)
}

// WithTestPartition binds schema directly, for handler tests.
func WithTestPartition(r *http.Request, schema string, tenantID primitive.ObjectID) *http.Request {
	return WithInfo(r, &Info{Schema: schema, TenantID: tenantID, Slug: schema})
}

// RequireTenant rejects requests bound to the shared partition with 400
// tenant_required.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromRequest(r)
		if !ok || info.IsPublic() {
			apierr.Write(w, apierr.ErrTenantRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}
