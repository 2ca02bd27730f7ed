package devicesig

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/app/system/timeouts"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.uber.org/zap"
)

// DefaultMaxBody bounds buffered ingest bodies.
const DefaultMaxBody int64 = 1 << 20

type ctxKey string

const deviceKey ctxKey = "device"

// DeviceFromRequest returns the device authenticated by Middleware.
func DeviceFromRequest(r *http.Request) (models.Device, bool) {
	d, ok := r.Context().Value(deviceKey).(models.Device)
	return d, ok
}

// WithDevice returns r carrying d.
func WithDevice(r *http.Request, d models.Device) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), deviceKey, d))
}

// Outcome reports the result of one verification: "ok" or the error code.
type Outcome func(r *http.Request, schema, clientID, outcome string)

// Middleware verifies signed device requests. The request must already be
// bound to a tenant partition. The body is read (up to maxBody bytes),
// verified and restored for the next handler.
func Middleware(v *Verifier, maxBody int64, onOutcome Outcome, logger *zap.Logger) func(http.Handler) http.Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	report := func(r *http.Request, schema, clientID, outcome string) {
		if onOutcome != nil {
			onOutcome(r, schema, clientID, outcome)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := tenantctx.FromRequest(r)
			if !ok || info.IsPublic() {
				apierr.Write(w, apierr.ErrTenantRequired)
				return
			}
			clientID := r.Header.Get(HeaderDeviceID)

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					apierr.Write(w, apierr.InvalidInput("Request body too large."))
					return
				}
				apierr.Write(w, apierr.InvalidInput("Could not read request body."))
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
			defer cancel()

			d, err := v.Verify(ctx, info.Schema, clientID, body,
				r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature))
			if err != nil {
				code := apierr.CodeOf(err)
				report(r, info.Schema, clientID, code)
				if code == apierr.CodeInternal {
					logger.Error("device verification failed",
						zap.String("schema", info.Schema),
						zap.String("client_id", clientID),
						zap.Error(err))
				}
				apierr.Write(w, err)
				return
			}
			report(r, info.Schema, d.ClientID, "ok")

			if err := v.Touch(ctx, info.Schema, d); err != nil {
				logger.Warn("device touch failed", zap.String("client_id", d.ClientID), zap.Error(err))
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, WithDevice(r, d))
		})
	}
}
