// internal/app/features/tenantdiscovery/routes.go
package tenantdiscovery

import (
	"github.com/dalemusser/climatrak/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/auth/discover-tenant. Lookups
// are throttled per client IP by limiter.
func Routes(h *Handler, limiter *ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeHint)
	r.Group(func(pr chi.Router) {
		if limiter != nil {
			pr.Use(ratelimit.Middleware(limiter, h.OnLimited))
		}
		pr.Post("/", h.ServeDiscover)
	})
	return r
}
