// Package auth establishes the caller's identity from a session token.
//
// Identity is resolved by an ordered Chain of strategies (cookie first, then
// bearer header) and stored in the request context. All strategies share the
// SessionAuthenticator, which enforces the tenant claim rules.
package auth

import (
	"context"
	"net/http"

	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/app/system/tokens"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Identity is an authenticated caller.
type Identity struct {
	UserID   primitive.ObjectID
	Email    string
	Username string
	FullName string
	Schema   string // partition the user record lives in
	Source   string // strategy that produced the identity
	Claims   *tokens.Claims
}

// Legacy reports whether the identity came from a token without a tenant
// claim.
func (id *Identity) Legacy() bool {
	return id.Claims != nil && !id.Claims.HasTenant()
}

func newIdentity(u *models.User, schema string, claims *tokens.Claims) *Identity {
	return &Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		FullName: u.FullName,
		Schema:   schema,
		Claims:   claims,
	}
}

type ctxKey string

const identityKey ctxKey = "identity"

// CurrentIdentity returns the authenticated caller, if any.
func CurrentIdentity(r *http.Request) (*Identity, bool) {
	return IdentityFromContext(r.Context())
}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// CurrentEmail returns the caller's email. It matches tenantctx.IdentityFunc.
func CurrentEmail(r *http.Request) (string, bool) {
	id, ok := CurrentIdentity(r)
	if !ok {
		return "", false
	}
	return id.Email, true
}

// WithIdentity returns r carrying id.
func WithIdentity(r *http.Request, id *Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, id))
}

// FailureFunc is told about every rejected token.
type FailureFunc func(r *http.Request, err error)

// Middleware resolves the caller through chain. Requests without a token pass
// through anonymously. A token that fails validation is answered with 401 and
// its error code, except on exempt paths (login, refresh, discovery), where
// the request continues anonymously so a stale cookie cannot lock the caller
// out of signing in again.
func Middleware(chain Chain, onFail FailureFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := chain.Authenticate(r)
			if err != nil {
				if onFail != nil {
					onFail(r, err)
				}
				if info, ok := tenantctx.FromRequest(r); ok && info.Exempt {
					next.ServeHTTP(w, r)
					return
				}
				apierr.Write(w, err)
				return
			}
			if id != nil {
				r = WithIdentity(r, id)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSignedIn answers 401 not_authenticated when there is no identity.
func RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentIdentity(r); !ok {
			apierr.Write(w, apierr.ErrNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}
