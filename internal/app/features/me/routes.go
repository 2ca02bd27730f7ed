// internal/app/features/me/routes.go
package me

import (
	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/auth/me.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireSignedIn)
		pr.Get("/", h.ServeMe)
	})
	return r
}
