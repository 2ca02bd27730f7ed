package tenantctx

import (
	"context"
	"net/http"

	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// IdentityFunc returns the email of the authenticated caller, or false for
// anonymous requests.
type IdentityFunc func(r *http.Request) (email string, ok bool)

// MembershipChecker answers whether an email hash has an active mirror row
// for a tenant. *mirrorstore.Store satisfies it.
type MembershipChecker interface {
	HasActive(ctx context.Context, emailHash string, tenantID primitive.ObjectID) (bool, error)
}

// Hasher computes email hashes. *emailhash.Hasher satisfies it.
type Hasher interface {
	Hash(email string) string
}

// DenyFunc is notified when an override is rejected.
type DenyFunc func(r *http.Request, info *Info, emailHash string)

// Enforcer re-validates an override once identity is known
// (PartitionBound → Authorized | Rejected).
type Enforcer struct {
	identity IdentityFunc
	mirror   MembershipChecker
	hasher   Hasher
	onDeny   DenyFunc
	logger   *zap.Logger
}

// NewEnforcer returns an Enforcer. onDeny may be nil.
func NewEnforcer(identity IdentityFunc, mirror MembershipChecker, hasher Hasher, onDeny DenyFunc, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{identity: identity, mirror: mirror, hasher: hasher, onDeny: onDeny, logger: logger}
}

// Middleware must run after identity middleware. Overridden requests on
// non-exempt paths from an authenticated caller without an active mirror row
// for the tenant get 403 no_tenant_membership. Anonymous callers pass so
// downstream handlers can answer with their own 401.
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromRequest(r)
		if !ok || !info.Override || info.Exempt || info.IsPublic() {
			next.ServeHTTP(w, r)
			return
		}
		email, ok := e.identity(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
		defer cancel()

		hash := e.hasher.Hash(email)
		member, err := e.mirror.HasActive(ctx, hash, info.TenantID)
		if err != nil {
			e.logger.Error("mirror membership lookup failed", zap.String("schema", info.Schema), zap.Error(err))
			apierr.Write(w, err)
			return
		}
		if !member {
			if e.onDeny != nil {
				e.onDeny(r, info, hash)
			}
			apierr.Write(w, apierr.ErrNoTenantMembership)
			return
		}
		next.ServeHTTP(w, r)
	})
}
