// internal/app/features/logout/handler.go
package logout

import (
	"net/http"

	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Handler struct {
	Cookies  auth.CookieConfig
	AuditLog *auditlog.Logger
	Log      *zap.Logger
}

func NewHandler(cookies auth.CookieConfig, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Cookies:  cookies,
		AuditLog: audit,
		Log:      logger,
	}
}

// ServeLogout handles POST /api/auth/logout.
//
// Tokens are stateless, so logging out only expires the session cookies.
// The call succeeds whether or not the caller was signed in.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookies(w, h.Cookies)

	var userID *primitive.ObjectID
	schema := tenantctx.SchemaOf(r)
	if id, ok := auth.CurrentIdentity(r); ok {
		uid := id.UserID
		userID = &uid
		schema = id.Schema
	}
	h.AuditLog.Logout(r.Context(), r, schema, userID)

	w.WriteHeader(http.StatusNoContent)
}
