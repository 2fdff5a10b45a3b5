package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkpulse/linkpulse/internal/metrics"
)

const (
	// StreamKey is the Redis stream for click events.
	StreamKey = "stream:click_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:click_events:dlq"

	// MaxStreamLen is the approximate max length of the stream. Acts as
	// backpressure: under sustained consumer lag the oldest entries are
	// trimmed instead of growing the stream unbounded.
	MaxStreamLen = 100000

	// PublishTimeout is the max time an async publish waits, retries included.
	PublishTimeout = 5 * time.Second

	// PublishRetries bounds publish attempts on transient failures.
	PublishRetries = 3

	// PublishBackoff is the fixed delay between publish attempts.
	PublishBackoff = 1 * time.Second
)

// Publisher enqueues click events to the Redis stream. This is the
// broker-backed alternative to the outbox Emitter for high click volume;
// both feed the same aggregation algorithm.
//
// The go-redis client re-establishes broken connections lazily on the next
// command, so the publisher holds no connection state of its own; transient
// failures surface as command errors and are absorbed by the bounded retry.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new stream publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "analytics.publisher"),
		metrics: recorder,
	}
}

// Publish adds a click event to the stream synchronously.
// Returns the broker-assigned stream ID.
func (p *Publisher) Publish(ctx context.Context, payload ClickEventPayload) (string, error) {
	if err := ValidateClickEventPayload(payload); err != nil {
		return "", fmt.Errorf("validate event: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return id, nil
}

// PublishWithRetry publishes with bounded retries and a fixed backoff,
// absorbing transient broker unavailability.
func (p *Publisher) PublishWithRetry(ctx context.Context, payload ClickEventPayload) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= PublishRetries; attempt++ {
		id, err := p.Publish(ctx, payload)
		if err == nil {
			return id, nil
		}
		lastErr = err

		if attempt == PublishRetries {
			break
		}
		p.logger.Warn("publish failed, retrying",
			"link_id", payload.LinkID,
			"attempt", attempt,
			"error", err,
		)
		timer := time.NewTimer(PublishBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", fmt.Errorf("publish after %d attempts: %w", PublishRetries, lastErr)
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) PublishAsync(payload ClickEventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		id, err := p.PublishWithRetry(ctx, payload)
		if err != nil {
			p.logger.Warn("failed to publish click event",
				"link_id", payload.LinkID,
				"error", err,
			)
			p.metrics.IncEventPublished("dropped")
			return
		}

		p.logger.Debug("click event published",
			"link_id", payload.LinkID,
			"stream_id", id,
		)
		p.metrics.IncEventPublished("success")
	}()
}
