// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the analytics pipeline.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Ingestion metrics
	IncEventEmitted(status string)   // status: "success" or "dropped"
	IncEventPublished(status string) // status: "success" or "dropped"

	// Aggregation metrics
	IncEventProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveBatchSize(size int)
	ObserveBatchDuration(duration time.Duration)
	ObserveIngestLag(lag time.Duration)
	SetQueueDepth(depth int64)
	IncRollupWriteError(pass string) // pass: "links", "daily", "monthly", "global"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
