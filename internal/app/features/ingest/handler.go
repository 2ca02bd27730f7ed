// internal/app/features/ingest/handler.go
package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/auditlog"
	"github.com/dalemusser/climatrak/internal/app/system/authmetrics"
	"github.com/dalemusser/climatrak/internal/app/system/devicesig"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.uber.org/zap"
)

// Ingestor accepts a verified device payload.
type Ingestor interface {
	Ingest(ctx context.Context, schema string, device models.Device, payload []byte) error
}

// LogIngestor logs payload metadata and discards the payload.
type LogIngestor struct {
	Log *zap.Logger
}

// Ingest implements Ingestor.
func (l LogIngestor) Ingest(_ context.Context, schema string, device models.Device, payload []byte) error {
	l.Log.Info("telemetry received",
		zap.String("schema", schema),
		zap.String("client_id", device.ClientID),
		zap.Int("bytes", len(payload)))
	return nil
}

type Handler struct {
	Ingestor Ingestor
	AuditLog *auditlog.Logger
	Metrics  *authmetrics.Metrics
	Log      *zap.Logger
}

func NewHandler(ingestor Ingestor, audit *auditlog.Logger, metrics *authmetrics.Metrics, logger *zap.Logger) *Handler {
	if ingestor == nil {
		ingestor = LogIngestor{Log: logger}
	}
	return &Handler{
		Ingestor: ingestor,
		AuditLog: audit,
		Metrics:  metrics,
		Log:      logger,
	}
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// ServeTelemetry handles POST /api/ingest/telemetry. It runs behind
// devicesig.Middleware, so the device is authenticated and the body has been
// checked against its signature.
func (h *Handler) ServeTelemetry(w http.ResponseWriter, r *http.Request) {
	device, ok := devicesig.DeviceFromRequest(r)
	if !ok {
		apierr.Write(w, apierr.ErrInvalidSignature)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(w, apierr.InvalidInput("Could not read request body."))
		return
	}
	if !json.Valid(payload) {
		apierr.Write(w, apierr.InvalidInput("Payload must be JSON."))
		return
	}

	schema := tenantctx.SchemaOf(r)
	if err := h.Ingestor.Ingest(r.Context(), schema, device, payload); err != nil {
		h.Log.Error("ingest failed",
			zap.String("schema", schema),
			zap.String("client_id", device.ClientID),
			zap.Error(err))
		apierr.Write(w, err)
		return
	}
	apierr.WriteJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// OnOutcome records each device verification. It matches devicesig.Outcome.
func (h *Handler) OnOutcome(r *http.Request, schema, clientID, outcome string) {
	h.Metrics.DeviceVerification(outcome)
	switch outcome {
	case "ok", apierr.CodeInternal:
	case apierr.CodeReplayDetected:
		h.AuditLog.DeviceReplay(r.Context(), r, schema, clientID)
	default:
		h.AuditLog.DeviceRejected(r.Context(), r, schema, clientID, outcome)
	}
}
