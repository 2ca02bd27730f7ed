// internal/app/features/login/handler.go
package login

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	membershipstore "github.com/dalemusser/climatrak/internal/app/store/memberships"
	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	tenantstore "github.com/dalemusser/climatrak/internal/app/store/tenants"
	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/dalemusser/climatrak/internal/app/system/authmetrics"
	"github.com/dalemusser/climatrak/internal/app/system/credentials"
	"github.com/dalemusser/climatrak/internal/app/system/emailhash"
	"github.com/dalemusser/climatrak/internal/app/system/ratelimit"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/app/system/tenanthint"
	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"github.com/dalemusser/climatrak/internal/app/system/tokens"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves login and token refresh.
type Handler struct {
	Parts       *partitions.Provider
	Tenants     *tenantstore.Registry
	Credentials *credentials.Authenticator
	Tokens      *tokens.Issuer
	Sessions    *auth.SessionAuthenticator
	Hasher      *emailhash.Hasher
	Limiter     *ratelimit.LoginLimiter
	Hints       *tenanthint.Codec
	Cookies     auth.CookieConfig
	AuditLog    *auditlog.Logger
	Metrics     *authmetrics.Metrics
	Log         *zap.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserView is the user as returned to the browser.
type UserView struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// TenantView is the tenant summary returned after login.
type TenantView struct {
	Schema string `json:"schema"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
}

type loginResponse struct {
	User            UserView   `json:"user"`
	Tenant          TenantView `json:"tenant"`
	AccessExpiresAt time.Time  `json:"access_expires_at"`
}

func userView(u *models.User) UserView {
	return UserView{ID: u.ID.Hex(), Email: u.Email, Username: u.Username, FullName: u.FullName}
}

// ServeLogin handles POST /api/auth/login.
//
// The request must be bound to a tenant partition. Bad credentials, inactive
// users and users without an active membership in the tenant all answer 401
// invalid_credentials.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	info, ok := tenantctx.FromRequest(r)
	if !ok || info.IsPublic() {
		apierr.Write(w, apierr.ErrTenantRequired)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.InvalidInput("Request body must be JSON."))
		return
	}
	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Username)
	}
	if identifier == "" || req.Password == "" {
		apierr.Write(w, apierr.InvalidInput("Email and password are required."))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "login")
	defer cancel()

	idHash := h.Hasher.Hash(identifier)
	if err := h.Limiter.Check(r, info.Schema, identifier); err != nil {
		h.AuditLog.LoginRateLimited(ctx, r, info.Schema, idHash)
		h.Metrics.Login(apierr.CodeRateLimited)
		apierr.Write(w, err)
		return
	}

	u, err := h.Credentials.Authenticate(ctx, info.Schema, identifier, req.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			h.AuditLog.LoginFailed(ctx, r, info.Schema, idHash)
			h.Metrics.Login(apierr.CodeInvalidCredentials)
			apierr.Write(w, apierr.ErrInvalidCredentials)
			return
		}
		h.Log.Error("credential check failed", zap.String("schema", info.Schema), zap.Error(err))
		apierr.Write(w, err)
		return
	}

	member, err := h.hasMembership(r, info.Schema, u.ID, info.TenantID)
	if err != nil {
		h.Log.Error("membership lookup failed", zap.String("schema", info.Schema), zap.Error(err))
		apierr.Write(w, err)
		return
	}
	if !member {
		h.AuditLog.LoginNoMembership(ctx, r, info.Schema, u.ID)
		h.Metrics.Login(apierr.CodeNoTenantMembership)
		apierr.Write(w, apierr.ErrInvalidCredentials)
		return
	}

	pair, err := h.Tokens.Mint(u.ID.Hex(), info.Schema)
	if err != nil {
		h.Log.Error("mint tokens", zap.Error(err))
		apierr.Write(w, err)
		return
	}
	auth.SetSessionCookies(w, h.Cookies, pair)
	h.setHint(w, info.Schema, info.Name)

	if db, err := h.Parts.For(info.Schema); err == nil {
		if err := userstore.New(db).RecordLogin(ctx, u.ID, ratelimit.ClientIP(r), time.Now()); err != nil {
			h.Log.Warn("record login", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		}
	}
	h.Limiter.ResetLogin(info.Schema, identifier)
	h.AuditLog.LoginSuccess(ctx, r, info.Schema, u.ID)
	h.Metrics.Login("success")

	apierr.WriteJSON(w, http.StatusOK, loginResponse{
		User:            userView(u),
		Tenant:          TenantView{Schema: info.Schema, Slug: info.Slug, Name: info.Name},
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

type refreshResponse struct {
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// ServeRefresh handles POST /api/auth/refresh. The refresh token goes
// through the same partition cross-check as access tokens, the user and
// membership are re-validated and both cookies are rotated.
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(auth.RefreshCookie)
	if err != nil || c.Value == "" {
		apierr.Write(w, apierr.ErrNotAuthenticated)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "refresh")
	defer cancel()

	requestSchema := tenantctx.SchemaOf(r)
	id, err := h.Sessions.Authenticate(ctx, c.Value, tokens.TypeRefresh, requestSchema)
	if err != nil {
		h.reject(w, r, requestSchema, err)
		return
	}

	var pair tokens.Pair
	if id.Schema == models.PublicSchema {
		pair, err = h.Tokens.MintLegacy(id.UserID.Hex())
	} else {
		t, terr := h.Tenants.BySchema(ctx, id.Schema)
		if terr != nil {
			if errors.Is(terr, tenantstore.ErrNotFound) {
				h.reject(w, r, requestSchema, apierr.ErrTenantNotFound)
				return
			}
			apierr.Write(w, terr)
			return
		}
		if !t.IsActive() {
			h.reject(w, r, requestSchema, apierr.ErrTenantInactive)
			return
		}
		member, merr := h.hasMembership(r, id.Schema, id.UserID, t.ID)
		if merr != nil {
			apierr.Write(w, merr)
			return
		}
		if !member {
			h.reject(w, r, requestSchema, apierr.ErrNoTenantMembership)
			return
		}
		pair, err = h.Tokens.Mint(id.UserID.Hex(), id.Schema)
	}
	if err != nil {
		h.Log.Error("mint tokens", zap.Error(err))
		apierr.Write(w, err)
		return
	}

	auth.SetSessionCookies(w, h.Cookies, pair)
	h.AuditLog.TokenRefreshed(ctx, r, id.Schema, id.UserID)
	apierr.WriteJSON(w, http.StatusOK, refreshResponse{AccessExpiresAt: pair.AccessExpiresAt})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, schema string, err error) {
	code := apierr.CodeOf(err)
	if code != apierr.CodeInternal {
		h.AuditLog.TokenRejected(r.Context(), r, schema, code)
		h.Metrics.AuthFailure(code)
		auth.ClearSessionCookies(w, h.Cookies)
	}
	apierr.Write(w, err)
}

func (h *Handler) hasMembership(r *http.Request, schema string, userID, tenantID primitive.ObjectID) (bool, error) {
	db, err := h.Parts.For(schema)
	if err != nil {
		return false, err
	}
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "membership lookup")
	defer cancel()
	return membershipstore.New(db).HasActive(ctx, userID, tenantID)
}

func (h *Handler) setHint(w http.ResponseWriter, schema, name string) {
	if h.Hints == nil {
		return
	}
	if err := h.Hints.Set(w, tenanthint.Hint{Schema: schema, Name: name}); err != nil {
		h.Log.Warn("set tenant hint", zap.Error(err))
	}
}
