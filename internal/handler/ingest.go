package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/linkpulse/linkpulse/internal/analytics"
	"github.com/linkpulse/linkpulse/internal/attribution"
)

// EventRecorder accepts a validated click event payload for delivery.
// The outbox Emitter and the stream Publisher both satisfy it via adapters.
type EventRecorder interface {
	Record(ctx context.Context, payload analytics.ClickEventPayload) error
}

// EmitterRecorder adapts the outbox Emitter to EventRecorder.
type EmitterRecorder struct {
	Emitter *analytics.Emitter
}

func (r EmitterRecorder) Record(ctx context.Context, payload analytics.ClickEventPayload) error {
	return r.Emitter.Emit(ctx, payload)
}

// PublisherRecorder adapts the stream Publisher to EventRecorder.
type PublisherRecorder struct {
	Publisher *analytics.Publisher
}

func (r PublisherRecorder) Record(ctx context.Context, payload analytics.ClickEventPayload) error {
	_, err := r.Publisher.PublishWithRetry(ctx, payload)
	return err
}

// IngestHandler receives click events from the edge redirect layer.
//
// The edge forwards the visitor's request context (referer, user agent, geo
// headers, original query string) so attribution is resolved here, on the
// pipeline side, keeping the edge handler trivial.
type IngestHandler struct {
	recorder EventRecorder
	logger   *slog.Logger
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(recorder EventRecorder, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		recorder: recorder,
		logger:   logger.With("component", "handler.ingest"),
	}
}

// IngestRequest is the edge-facing request body.
type IngestRequest struct {
	LinkID string `json:"link_id"`
	UserID string `json:"user_id"`
	// OccurredAt is the click time in Unix milliseconds. Zero means "now".
	OccurredAt int64 `json:"occurred_at,omitempty"`
}

// IngestResponse acknowledges acceptance with the resolved attribution,
// which the edge may use for debugging.
type IngestResponse struct {
	Accepted    bool                    `json:"accepted"`
	Attribution attribution.Attribution `json:"attribution"`
}

// Ingest records one click event.
// POST /internal/events
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "body must be JSON")
		return
	}

	attr := attribution.Resolve(r)
	occurredAt := req.OccurredAt
	if occurredAt <= 0 {
		occurredAt = time.Now().UTC().UnixMilli()
	}

	payload := analytics.ClickEventPayload{
		Type:       analytics.EventType,
		LinkID:     req.LinkID,
		UserID:     req.UserID,
		Country:    attr.Country,
		Source:     attr.Source,
		DeviceType: attr.DeviceType,
		UserAgent:  r.Header.Get("User-Agent"),
		Timestamp:  occurredAt,
	}

	if err := analytics.ValidateClickEventPayload(payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
		return
	}

	if err := h.recorder.Record(r.Context(), payload); err != nil {
		h.logger.Error("failed to record click event",
			"link_id", req.LinkID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "DELIVERY_FAILED", "event could not be recorded")
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{Accepted: true, Attribution: attr})
}
