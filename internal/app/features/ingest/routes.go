// internal/app/features/ingest/routes.go
package ingest

import (
	"github.com/dalemusser/climatrak/internal/app/system/devicesig"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/ingest. Every route requires a
// signed device request.
func Routes(h *Handler, v *devicesig.Verifier, maxBody int64) chi.Router {
	r := chi.NewRouter()
	r.Use(devicesig.Middleware(v, maxBody, h.OnOutcome, h.Log))
	r.Post("/telemetry", h.ServeTelemetry)
	return r
}
