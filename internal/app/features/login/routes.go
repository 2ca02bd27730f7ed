// internal/app/features/login/routes.go
package login

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter that serves login. Mounted at /api/auth/login.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.ServeLogin)
	return r
}

// RefreshRoutes returns a subrouter that rotates session cookies. Mounted
// at /api/auth/refresh.
func RefreshRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.ServeRefresh)
	return r
}
