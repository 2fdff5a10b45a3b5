package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/model"
)

type fakeSink struct {
	inserted []*model.ClickEvent
	err      error
	done     chan struct{}
}

func (s *fakeSink) Insert(ctx context.Context, event *model.ClickEvent) error {
	if s.done != nil {
		defer close(s.done)
	}
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, event)
	return nil
}

func TestEmit(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	emitter := NewEmitter(sink, testLogger(), nil)

	if err := emitter.Emit(context.Background(), validPayload()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.inserted) != 1 {
		t.Fatalf("expected 1 inserted event, got %d", len(sink.inserted))
	}
	if sink.inserted[0].ID == "" {
		t.Error("expected generated event ID")
	}
	if sink.inserted[0].LinkID != "lnk_abc123" {
		t.Errorf("unexpected link ID %s", sink.inserted[0].LinkID)
	}
}

func TestEmitRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	emitter := NewEmitter(sink, testLogger(), nil)

	payload := validPayload()
	payload.LinkID = ""

	if err := emitter.Emit(context.Background(), payload); err == nil {
		t.Fatal("expected validation error")
	}
	if len(sink.inserted) != 0 {
		t.Errorf("expected no inserts, got %d", len(sink.inserted))
	}
}

func TestEmitWrapsSinkError(t *testing.T) {
	t.Parallel()

	sinkErr := errors.New("outbox unavailable")
	emitter := NewEmitter(&fakeSink{err: sinkErr}, testLogger(), nil)

	err := emitter.Emit(context.Background(), validPayload())
	if !errors.Is(err, sinkErr) {
		t.Errorf("expected wrapped sink error, got %v", err)
	}
}

func TestEmitAsyncSwallowsFailure(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{err: errors.New("outbox unavailable"), done: make(chan struct{})}
	recorder := metrics.NewInMemory()
	emitter := NewEmitter(sink, testLogger(), recorder)

	emitter.EmitAsync(validPayload())

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("async emit never reached the sink")
	}

	waitFor(t, func() bool {
		return recorder.Snapshot().EventsEmitted["dropped"] == 1
	})
}

func TestEmitAsyncRecordsSuccess(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{done: make(chan struct{})}
	recorder := metrics.NewInMemory()
	emitter := NewEmitter(sink, testLogger(), recorder)

	emitter.EmitAsync(validPayload())

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("async emit never reached the sink")
	}

	waitFor(t, func() bool {
		return recorder.Snapshot().EventsEmitted["success"] == 1
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
