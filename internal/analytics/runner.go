package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/linkpulse/linkpulse/internal/metrics"
)

const (
	// DefaultPollInterval is the sleep between drain attempts when the
	// outbox is empty.
	DefaultPollInterval = 10 * time.Second

	// DefaultPurgeInterval is how often processed events past retention
	// are deleted.
	DefaultPurgeInterval = 1 * time.Hour

	// DefaultRetention matches the outbox retention window.
	DefaultRetention = 7 * 24 * time.Hour
)

// OutboxMaintenance covers the background bookkeeping around the outbox:
// backlog depth for metrics and TTL-style purging of processed events.
type OutboxMaintenance interface {
	PendingCount(ctx context.Context) (int64, error)
	PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error)
}

// Runner drives the batch Worker on an interval, standing in for an external
// scheduler: drain the outbox, sleep, repeat. It also owns the retention
// purge ticker.
type Runner struct {
	worker        *Worker
	maintenance   OutboxMaintenance
	logger        *slog.Logger
	metrics       metrics.Recorder
	pollInterval  time.Duration
	purgeInterval time.Duration
	retention     time.Duration

	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewRunner creates a new worker runner.
func NewRunner(worker *Worker, maintenance OutboxMaintenance, logger *slog.Logger, recorder metrics.Recorder) *Runner {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Runner{
		worker:        worker,
		maintenance:   maintenance,
		logger:        logger.With("component", "analytics.runner"),
		metrics:       recorder,
		pollInterval:  DefaultPollInterval,
		purgeInterval: DefaultPurgeInterval,
		retention:     DefaultRetention,
	}
}

// SetPollInterval overrides the default poll interval.
func (r *Runner) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		r.pollInterval = interval
	}
}

// SetPurgeInterval overrides the default purge interval.
func (r *Runner) SetPurgeInterval(interval time.Duration) {
	if interval > 0 {
		r.purgeInterval = interval
	}
}

// SetRetention overrides the default retention window.
func (r *Runner) SetRetention(retention time.Duration) {
	if retention > 0 {
		r.retention = retention
	}
}

// Run starts the poll loop. Blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	r.started = true
	r.done = make(chan struct{})
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	defer close(r.done)

	r.logger.Info("aggregation runner started",
		"poll_interval", r.pollInterval.String(),
		"retention", r.retention.String(),
	)

	poll := time.NewTicker(r.pollInterval)
	defer poll.Stop()
	purge := time.NewTicker(r.purgeInterval)
	defer purge.Stop()

	// Drain once at startup so a backlog is not left waiting a full tick.
	r.drainOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("aggregation runner stopping")
			return ctx.Err()
		case <-poll.C:
			r.drainOnce(ctx)
		case <-purge.C:
			r.purgeOnce(ctx)
		}
	}
}

// Shutdown gracefully stops the runner, completing any in-flight batch.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Runner) drainOnce(ctx context.Context) {
	processed, err := r.worker.Drain(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("drain failed", "processed", processed, "error", err)
	}

	depth, err := r.maintenance.PendingCount(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("failed to read backlog depth", "error", err)
		}
		return
	}
	r.metrics.SetQueueDepth(depth)
}

func (r *Runner) purgeOnce(ctx context.Context) {
	deleted, err := r.maintenance.PurgeProcessed(ctx, r.retention)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("purge failed", "error", err)
		}
		return
	}
	if deleted > 0 {
		r.logger.Info("purged processed events", "deleted", deleted)
	}
}
