package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/model"
)

// EmitTimeout is the max time an async emit waits for the durable write.
const EmitTimeout = 2 * time.Second

// EventSink is the durable append-only destination for click events.
type EventSink interface {
	Insert(ctx context.Context, event *model.ClickEvent) error
}

// Emitter appends normalized click events to the outbox.
//
// Emit awaits the durable write so the storage layer gives at-least-once
// delivery; EmitAsync is the fire-and-forget form used on the redirect hot
// path, where losing an individual event is acceptable but delaying the
// response is not.
type Emitter struct {
	sink    EventSink
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewEmitter creates a new outbox event emitter.
func NewEmitter(sink EventSink, logger *slog.Logger, recorder metrics.Recorder) *Emitter {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Emitter{
		sink:    sink,
		logger:  logger.With("component", "analytics.emitter"),
		metrics: recorder,
	}
}

// Emit validates and durably writes one click event.
func (e *Emitter) Emit(ctx context.Context, payload ClickEventPayload) error {
	if err := ValidateClickEventPayload(payload); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}

	event := payload.ToEvent(NewEventID())
	if err := e.sink.Insert(ctx, event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EmitAsync writes the event without blocking the caller.
// Failures are logged and swallowed; they must never fail the redirect.
func (e *Emitter) EmitAsync(payload ClickEventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), EmitTimeout)
		defer cancel()

		if err := e.Emit(ctx, payload); err != nil {
			e.logger.Warn("failed to emit click event",
				"link_id", payload.LinkID,
				"error", err,
			)
			e.metrics.IncEventEmitted("dropped")
			return
		}
		e.metrics.IncEventEmitted("success")
	}()
}
