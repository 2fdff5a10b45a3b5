package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/model"
)

const (
	// DefaultBatchSize is the max events claimed per aggregation pass.
	DefaultBatchSize = 5000

	// DefaultChunkSize bounds single bulk-write payloads against store limits.
	DefaultChunkSize = 700
)

// EventStore is the durable outbox the worker drains.
//
// ClaimBatch is a read, not a destructive dequeue: the caller must mark
// entries processed afterward. A crash between claim and mark means the same
// events are reclaimed by the next run; increments are pure addition, so
// replay over-counts rather than corrupts (accepted at-least-once behavior).
type EventStore interface {
	ClaimBatch(ctx context.Context, limit int) ([]*model.ClickEvent, error)
	MarkProcessed(ctx context.Context, ids []string) error
}

// Worker aggregates claimed click events into rollup counters.
// It is a batch job, invoked repeatedly by an external scheduler, not a
// long-lived loop.
type Worker struct {
	events    EventStore
	rollups   RollupStore
	logger    *slog.Logger
	metrics   metrics.Recorder
	batchSize int
	chunkSize int
}

// NewWorker creates a new aggregation worker.
func NewWorker(events EventStore, rollups RollupStore, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		events:    events,
		rollups:   rollups,
		logger:    logger.With("component", "analytics.worker"),
		metrics:   recorder,
		batchSize: DefaultBatchSize,
		chunkSize: DefaultChunkSize,
	}
}

// SetBatchSize overrides the default claim limit.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetChunkSize overrides the default bulk-write chunk size.
func (w *Worker) SetChunkSize(size int) {
	if size > 0 {
		w.chunkSize = size
	}
}

// RunBatch claims up to the batch size of unprocessed events, aggregates them
// in memory, persists the rollup increments and marks the events processed.
// Returns the number of events processed; zero with nil error is the normal
// steady state when the outbox is empty.
//
// Any persistence error aborts the batch without marking events processed, so
// they remain claimable on the next invocation.
func (w *Worker) RunBatch(ctx context.Context) (int, error) {
	batchID := uuid.NewString()
	start := time.Now()

	events, err := w.events.ClaimBatch(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	agg := buildBatchAggregates(events)

	if err := persistAggregates(ctx, w.rollups, agg, w.chunkSize); err != nil {
		w.logger.Error("batch persistence failed",
			"batch_id", batchID,
			"events_count", len(events),
			"error", err,
		)
		for range events {
			w.metrics.IncEventProcessed("failed")
		}
		return 0, err
	}

	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	if err := w.events.MarkProcessed(ctx, ids); err != nil {
		// Aggregates are already written; the events will be reclaimed and
		// reapplied next run. Surface the error so the caller sees the
		// over-count window.
		return 0, fmt.Errorf("mark processed: %w", err)
	}

	w.logger.Info("batch processed",
		"batch_id", batchID,
		"events_count", len(events),
		"links", len(agg.links),
		"daily_buckets", len(agg.daily),
		"monthly_buckets", len(agg.monthly),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)

	w.metrics.ObserveBatchSize(len(events))
	w.metrics.ObserveBatchDuration(time.Since(start))
	for _, event := range events {
		w.metrics.IncEventProcessed("success")
		w.metrics.ObserveIngestLag(time.Since(event.Timestamp))
	}

	return len(events), nil
}

// Drain repeats RunBatch until a claim returns empty, enabling full queue
// drain under backlog. Returns the total events processed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		processed, err := w.RunBatch(ctx)
		total += processed
		if err != nil {
			return total, err
		}
		if processed == 0 {
			return total, nil
		}
	}
}
