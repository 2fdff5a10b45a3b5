package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncEventEmitted is a no-op.
func (n *NoopRecorder) IncEventEmitted(status string) {}

// IncEventPublished is a no-op.
func (n *NoopRecorder) IncEventPublished(status string) {}

// IncEventProcessed is a no-op.
func (n *NoopRecorder) IncEventProcessed(status string) {}

// ObserveBatchSize is a no-op.
func (n *NoopRecorder) ObserveBatchSize(size int) {}

// ObserveBatchDuration is a no-op.
func (n *NoopRecorder) ObserveBatchDuration(duration time.Duration) {}

// ObserveIngestLag is a no-op.
func (n *NoopRecorder) ObserveIngestLag(lag time.Duration) {}

// SetQueueDepth is a no-op.
func (n *NoopRecorder) SetQueueDepth(depth int64) {}

// IncRollupWriteError is a no-op.
func (n *NoopRecorder) IncRollupWriteError(pass string) {}
