// internal/app/features/tenantdiscovery/handler.go
package tenantdiscovery

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/authmetrics"
	"github.com/dalemusser/climatrak/internal/app/system/discovery"
	"github.com/dalemusser/climatrak/internal/app/system/tenanthint"
	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Discoverer finds the tenants an identifier belongs to.
type Discoverer interface {
	Discover(ctx context.Context, identifier string) (discovery.Result, error)
}

// Handler serves tenant discovery for the sign-in page.
type Handler struct {
	Service  Discoverer
	Hints    *tenanthint.Codec
	AuditLog *auditlog.Logger
	Metrics  *authmetrics.Metrics
	Log      *zap.Logger
}

func NewHandler(svc Discoverer, hints *tenanthint.Codec, audit *auditlog.Logger, metrics *authmetrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		Service:  svc,
		Hints:    hints,
		AuditLog: audit,
		Metrics:  metrics,
		Log:      logger,
	}
}

type discoverRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// ServeDiscover handles POST /api/auth/discover-tenant.
//
// Every well-formed request gets 200 with the same response keys, whether the
// identifier is unknown, blank or the lookup failed. Only a body that is not
// JSON is rejected.
func (h *Handler) ServeDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.InvalidInput("Request body must be JSON."))
		return
	}
	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Username)
	}
	if identifier == "" {
		h.Metrics.Discovery(false)
		apierr.WriteJSON(w, http.StatusOK, discovery.Empty())
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "tenant discovery")
	defer cancel()

	res, err := h.Service.Discover(ctx, identifier)
	if err != nil {
		h.Log.Error("tenant discovery failed", zap.Error(err))
		res = discovery.Empty()
	}
	h.Metrics.Discovery(res.Found)
	apierr.WriteJSON(w, http.StatusOK, res)
}

type hintResponse struct {
	Hint *tenanthint.Hint `json:"hint"`
}

// ServeHint handles GET /api/auth/discover-tenant and returns the tenant
// this browser last signed in to, or null.
func (h *Handler) ServeHint(w http.ResponseWriter, r *http.Request) {
	var resp hintResponse
	if h.Hints != nil {
		if hint, ok := h.Hints.Get(r); ok {
			resp.Hint = &hint
		}
	}
	apierr.WriteJSON(w, http.StatusOK, resp)
}

// OnLimited records a throttled discovery request.
func (h *Handler) OnLimited(r *http.Request) {
	h.AuditLog.DiscoveryRateLimited(r.Context(), r)
}
