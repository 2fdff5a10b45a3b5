package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "rollup_workers"

	// DefaultConsumerBatchSize is the max messages read per iteration.
	DefaultConsumerBatchSize = 500

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the max aggregation attempts per batch before the
	// messages are left pending for a later claim.
	DefaultMaxRetries = 3

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultQueueDepthInterval is how often to refresh queue depth metrics.
	DefaultQueueDepthInterval = 5 * time.Second
)

// Consumer is the broker-backed worker variant: a long-lived consumer-group
// loop over the click event stream, feeding the same aggregation passes as
// the outbox Worker.
//
// Messages are acknowledged only after their aggregation effect is persisted;
// poison messages route to the dead-letter stream and are then acked so they
// cannot wedge the group.
type Consumer struct {
	redis              *redis.Client
	rollups            RollupStore
	logger             *slog.Logger
	metrics            metrics.Recorder
	consumerID         string
	batchSize          int
	chunkSize          int
	blockTimeout       time.Duration
	maxRetries         int
	claimInterval      time.Duration
	claimIdle          time.Duration
	queueDepthInterval time.Duration
	claimStartID       string
	lastClaim          time.Time
	lastDepth          time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewConsumer creates a new stream consumer.
func NewConsumer(client *redis.Client, rollups RollupStore, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Consumer {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Consumer{
		redis:              client,
		rollups:            rollups,
		logger:             logger.With("component", "analytics.consumer", "consumer_id", consumerID),
		metrics:            recorder,
		consumerID:         consumerID,
		batchSize:          DefaultConsumerBatchSize,
		chunkSize:          DefaultChunkSize,
		blockTimeout:       DefaultBlockTimeout,
		maxRetries:         DefaultMaxRetries,
		claimInterval:      DefaultClaimInterval,
		claimIdle:          DefaultClaimIdle,
		queueDepthInterval: DefaultQueueDepthInterval,
		claimStartID:       "0-0",
	}
}

// SetBatchSize overrides the default read batch size.
func (c *Consumer) SetBatchSize(size int) {
	if size > 0 {
		c.batchSize = size
	}
}

// SetChunkSize overrides the default bulk-write chunk size.
func (c *Consumer) SetChunkSize(size int) {
	if size > 0 {
		c.chunkSize = size
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (c *Consumer) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.blockTimeout = timeout
	}
}

// SetClaimInterval overrides the default pending-claim interval.
func (c *Consumer) SetClaimInterval(interval time.Duration) {
	if interval > 0 {
		c.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (c *Consumer) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		c.claimIdle = idle
	}
}

// EnsureTopology asserts the stream and consumer group exist.
// Idempotent; safe to call on every process start.
func (c *Consumer) EnsureTopology(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run starts the consumer loop. Blocks until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("consumer already started")
	}
	c.started = true
	c.done = make(chan struct{})
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	defer close(c.done)

	if err := c.EnsureTopology(ctx); err != nil {
		return err
	}

	c.logger.Info("stream consumer started")

	for {
		c.mu.Lock()
		draining := c.draining
		c.mu.Unlock()

		if draining {
			c.logger.Info("stream consumer draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			c.logger.Info("stream consumer stopping")
			return ctx.Err()
		default:
			if err := c.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				c.logger.Error("process error", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Shutdown gracefully stops the consumer, completing any in-flight batch.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.draining = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	c.logger.Info("stream consumer shutdown initiated")

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			c.logger.Info("stream consumer shutdown complete")
			return nil
		case <-ctx.Done():
			c.logger.Warn("stream consumer shutdown timed out")
			return ctx.Err()
		}
	}
	return nil
}

// processOnce reads and processes a single batch of messages.
func (c *Consumer) processOnce(ctx context.Context) error {
	c.maybeUpdateQueueDepth(ctx)

	claimed, err := c.maybeClaimPending(ctx)
	if err != nil {
		c.logger.Warn("failed to claim pending messages", "error", err)
	}

	messages := claimed
	if len(messages) == 0 {
		messages, err = c.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	if len(messages) == 0 {
		return nil
	}

	events, validIDs, poisonIDs := c.parseMessages(ctx, messages)

	// Ack poison messages right away: they are dead-lettered already, and
	// tying their ack to the batch outcome would dead-letter them again on
	// every reclaim after an aggregation failure.
	if err := c.ackMessages(ctx, poisonIDs); err != nil {
		c.logger.Warn("failed to ack dead-lettered messages", "error", err)
	}

	if len(events) == 0 {
		return nil
	}

	if err := c.aggregateWithRetry(ctx, events); err != nil {
		c.logger.Error("batch aggregation failed after retries",
			"batch_size", len(events),
			"error", err,
		)
		// Do not ack: the messages stay pending and will be reclaimed.
		return err
	}

	return c.ackMessages(ctx, validIDs)
}

// readBatch reads new messages from the stream using XREADGROUP.
func (c *Consumer) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: c.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(c.batchSize),
		Block:    c.blockTimeout,
	}).Result()

	if err == redis.Nil || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return streams[0].Messages, nil
}

// maybeClaimPending reclaims messages another consumer claimed but never acked.
func (c *Consumer) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if c.claimInterval <= 0 || c.claimIdle <= 0 {
		return nil, nil
	}
	if !c.lastClaim.IsZero() && time.Since(c.lastClaim) < c.claimInterval {
		return nil, nil
	}

	c.lastClaim = time.Now()
	messages, start, err := c.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: c.consumerID,
		MinIdle:  c.claimIdle,
		Start:    c.claimStartID,
		Count:    int64(c.batchSize),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		c.claimStartID = start
	}
	return messages, nil
}

func (c *Consumer) maybeUpdateQueueDepth(ctx context.Context) {
	if c.queueDepthInterval <= 0 {
		return
	}
	if !c.lastDepth.IsZero() && time.Since(c.lastDepth) < c.queueDepthInterval {
		return
	}
	c.lastDepth = time.Now()

	groups, err := c.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && err != redis.Nil {
		c.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			c.metrics.SetQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

// parseMessages converts stream messages to domain events. Malformed or
// invalid messages are moved to the dead-letter stream and their IDs returned
// separately so they can be acked independently of the batch outcome.
func (c *Consumer) parseMessages(ctx context.Context, messages []redis.XMessage) ([]*model.ClickEvent, []string, []string) {
	events := make([]*model.ClickEvent, 0, len(messages))
	validIDs := make([]string, 0, len(messages))
	var poisonIDs []string

	for _, msg := range messages {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			c.deadLetterMessage(ctx, msg, "invalid_format", "payload field missing or not a string")
			poisonIDs = append(poisonIDs, msg.ID)
			continue
		}

		var eventPayload ClickEventPayload
		if err := json.Unmarshal([]byte(payload), &eventPayload); err != nil {
			c.deadLetterMessage(ctx, msg, "unmarshal_error", err.Error())
			poisonIDs = append(poisonIDs, msg.ID)
			continue
		}
		if err := ValidateClickEventPayload(eventPayload); err != nil {
			c.deadLetterMessage(ctx, msg, "validation_error", err.Error())
			poisonIDs = append(poisonIDs, msg.ID)
			continue
		}

		// Stream ID doubles as the event ID on this path.
		events = append(events, eventPayload.ToEvent(msg.ID))
		validIDs = append(validIDs, msg.ID)
	}

	return events, validIDs, poisonIDs
}

// deadLetterMessage moves a poison message to the dead-letter stream.
func (c *Consumer) deadLetterMessage(ctx context.Context, msg redis.XMessage, reason, detail string) {
	c.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: 10000, // keep last 10k poison messages
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()

	if err != nil {
		c.logger.Error("failed to write to dead-letter stream",
			"message_id", msg.ID,
			"error", err,
		)
	}

	c.metrics.IncEventProcessed("dead_lettered")
}

// aggregateWithRetry runs the aggregation passes with exponential backoff.
func (c *Consumer) aggregateWithRetry(ctx context.Context, events []*model.ClickEvent) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.aggregateBatch(ctx, events); err != nil {
			lastErr = err
			backoff := time.Duration(1<<attempt) * time.Second
			c.logger.Warn("batch aggregation failed, retrying",
				"attempt", attempt,
				"backoff_seconds", backoff.Seconds(),
				"error", err,
			)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		return nil
	}

	for range events {
		c.metrics.IncEventProcessed("failed")
	}
	return lastErr
}

// aggregateBatch runs the shared aggregation passes for one message batch.
func (c *Consumer) aggregateBatch(ctx context.Context, events []*model.ClickEvent) error {
	start := time.Now()

	agg := buildBatchAggregates(events)
	if err := persistAggregates(ctx, c.rollups, agg, c.chunkSize); err != nil {
		return err
	}

	c.logger.Info("batch aggregated",
		"events_count", len(events),
		"links", len(agg.links),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)

	c.metrics.ObserveBatchSize(len(events))
	c.metrics.ObserveBatchDuration(time.Since(start))
	for _, event := range events {
		c.metrics.IncEventProcessed("success")
		c.metrics.ObserveIngestLag(time.Since(event.Timestamp))
	}

	return nil
}

// ackMessages acknowledges processed messages.
func (c *Consumer) ackMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	if _, err := c.redis.XAck(ctx, StreamKey, ConsumerGroup, messageIDs...).Result(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// isConsumerGroupExistsError checks for the "BUSYGROUP" reply (group exists).
func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
