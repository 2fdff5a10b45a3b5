package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/model"
)

type fakeMaintenance struct {
	store  *fakeEventStore
	purged int64
}

func (m *fakeMaintenance) PendingCount(ctx context.Context) (int64, error) {
	return int64(m.store.pending()), nil
}

func (m *fakeMaintenance) PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	m.purged++
	return 0, nil
}

func TestRunnerDrainsOnStartupAndShutsDown(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	store := &fakeEventStore{events: []*model.ClickEvent{
		testEvent("e1", "lnk_a", "US", "direct", "desktop", day),
		testEvent("e2", "lnk_a", "US", "direct", "desktop", day),
	}}
	rollups := newFakeRollupStore()
	recorder := metrics.NewInMemory()

	worker := NewWorker(store, rollups, testLogger(), recorder)
	runner := NewRunner(worker, &fakeMaintenance{store: store}, testLogger(), recorder)
	runner.SetPollInterval(10 * time.Millisecond)

	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(context.Background())
	}()

	waitFor(t, func() bool {
		return store.pending() == 0
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}

	select {
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after shutdown")
	}

	if rollups.links["lnk_a"] == nil || rollups.links["lnk_a"].TotalClicks != 2 {
		t.Errorf("expected 2 clicks aggregated, got %+v", rollups.links["lnk_a"])
	}
	if recorder.Snapshot().QueueDepth != 0 {
		t.Errorf("expected queue depth 0, got %d", recorder.Snapshot().QueueDepth)
	}
}

func TestRunnerShutdownBeforeStart(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeEventStore{}, newFakeRollupStore(), testLogger(), nil)
	runner := NewRunner(worker, &fakeMaintenance{store: &fakeEventStore{}}, testLogger(), nil)

	if err := runner.Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil shutdown before start, got %v", err)
	}
}
