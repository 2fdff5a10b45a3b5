package analytics_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkpulse/linkpulse/internal/analytics"
	"github.com/linkpulse/linkpulse/internal/broker"
	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/model"
	"github.com/linkpulse/linkpulse/internal/testutil"
)

func streamTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingRollupStore counts aggregated clicks without a database.
type recordingRollupStore struct {
	mu     sync.Mutex
	global int64
}

func (s *recordingRollupStore) IncrementLinkCounters(ctx context.Context, deltas []*model.LinkDelta, chunkSize int) error {
	return nil
}

func (s *recordingRollupStore) UpsertDailyRollups(ctx context.Context, deltas []*model.RollupDelta, chunkSize int) error {
	return nil
}

func (s *recordingRollupStore) UpsertMonthlyRollups(ctx context.Context, deltas []*model.RollupDelta, chunkSize int) error {
	return nil
}

func (s *recordingRollupStore) IncrementGlobalClicks(ctx context.Context, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global += n
	return nil
}

func (s *recordingRollupStore) globalTotal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global
}

// Stream round-trip tests run against a real Redis. Set TEST_REDIS_URL to
// enable:
//
//	TEST_REDIS_URL=redis://localhost:6379/15 go test ./internal/analytics/
func setupBroker(t *testing.T) (*broker.Broker, context.Context) {
	t.Helper()

	url := testutil.RequireEnv(t, "TEST_REDIS_URL")
	ctx := context.Background()

	b, err := broker.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	if err := testutil.FlushRedis(ctx, b.Client()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	return b, ctx
}

func streamPayload(linkID string) analytics.ClickEventPayload {
	return analytics.ClickEventPayload{
		Type:       analytics.EventType,
		LinkID:     linkID,
		UserID:     "usr_test",
		Country:    "US",
		Source:     "instagram",
		DeviceType: "mobile",
		Timestamp:  time.Now().UTC().UnixMilli(),
	}
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	b, ctx := setupBroker(t)

	logger := streamTestLogger()
	publisher := analytics.NewPublisher(b.Client(), logger, nil)

	for i := 0; i < 3; i++ {
		if _, err := publisher.Publish(ctx, streamPayload("lnk_a")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	rollups := &recordingRollupStore{}
	recorder := metrics.NewInMemory()
	consumer := analytics.NewConsumer(b.Client(), rollups, logger, "test-consumer", recorder)
	consumer.SetBlockTimeout(200 * time.Millisecond)

	if err := consumer.EnsureTopology(ctx); err != nil {
		t.Fatalf("topology: %v", err)
	}
	// Idempotent on repeat.
	if err := consumer.EnsureTopology(ctx); err != nil {
		t.Fatalf("repeat topology: %v", err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- consumer.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if recorder.Snapshot().EventsProcessed["success"] == 3 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := consumer.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	<-runErr

	if got := recorder.Snapshot().EventsProcessed["success"]; got != 3 {
		t.Fatalf("expected 3 processed events, got %d", got)
	}
	if rollups.globalTotal() != 3 {
		t.Errorf("expected 3 aggregated clicks, got %d", rollups.globalTotal())
	}

	// Everything acked: no pending entries remain in the group.
	pending, err := b.Client().XPending(ctx, analytics.StreamKey, analytics.ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("expected 0 pending messages, got %d", pending.Count)
	}
}

func TestPoisonMessageRoutesToDeadLetter(t *testing.T) {
	b, ctx := setupBroker(t)

	logger := streamTestLogger()

	// Raw XADD bypasses publisher validation.
	err := b.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: analytics.StreamKey,
		ID:     "*",
		Values: map[string]interface{}{"payload": "{broken"},
	}).Err()
	if err != nil {
		t.Fatalf("xadd: %v", err)
	}

	rollups := &recordingRollupStore{}
	recorder := metrics.NewInMemory()
	consumer := analytics.NewConsumer(b.Client(), rollups, logger, "test-consumer", recorder)
	consumer.SetBlockTimeout(200 * time.Millisecond)

	runErr := make(chan error, 1)
	go func() {
		runErr <- consumer.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if recorder.Snapshot().EventsProcessed["dead_lettered"] == 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := consumer.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	<-runErr

	if got := recorder.Snapshot().EventsProcessed["dead_lettered"]; got != 1 {
		t.Fatalf("expected 1 dead-lettered message, got %d", got)
	}

	dlq, err := b.Client().XLen(ctx, analytics.DeadLetterStreamKey).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if dlq != 1 {
		t.Errorf("expected 1 dead-letter entry, got %d", dlq)
	}
}
