// internal/app/features/me/handler.go
package me

import (
	"net/http"
	"time"

	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"go.uber.org/zap"
)

type Handler struct {
	Log *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{Log: logger}
}

type userView struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Schema   string `json:"schema"`
}

type tenantView struct {
	Schema   string `json:"schema"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Override bool   `json:"override"`
}

type claimsView struct {
	Subject      string     `json:"sub"`
	TenantSchema string     `json:"tenant_schema,omitempty"`
	TokenType    string     `json:"token_type"`
	Legacy       bool       `json:"legacy"`
	IssuedAt     *time.Time `json:"iat,omitempty"`
	ExpiresAt    *time.Time `json:"exp,omitempty"`
}

type meResponse struct {
	User   userView    `json:"user"`
	Tenant *tenantView `json:"tenant"`
	Claims *claimsView `json:"claims"`
	Source string      `json:"source"`
}

// ServeMe handles GET /api/auth/me. Tenant is null on the shared partition.
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentIdentity(r)
	if !ok {
		apierr.Write(w, apierr.ErrNotAuthenticated)
		return
	}

	resp := meResponse{
		User: userView{
			ID:       id.UserID.Hex(),
			Email:    id.Email,
			Username: id.Username,
			FullName: id.FullName,
			Schema:   id.Schema,
		},
		Source: id.Source,
	}
	if info, ok := tenantctx.FromRequest(r); ok && !info.IsPublic() {
		resp.Tenant = &tenantView{Schema: info.Schema, Slug: info.Slug, Name: info.Name, Override: info.Override}
	}
	if c := id.Claims; c != nil {
		cv := &claimsView{
			Subject:      c.Subject,
			TenantSchema: c.TenantSchema,
			TokenType:    c.TokenType,
			Legacy:       id.Legacy(),
		}
		if c.IssuedAt != nil {
			t := c.IssuedAt.Time
			cv.IssuedAt = &t
		}
		if c.ExpiresAt != nil {
			t := c.ExpiresAt.Time
			cv.ExpiresAt = &t
		}
		resp.Claims = cv
	}

	apierr.WriteJSON(w, http.StatusOK, resp)
}
