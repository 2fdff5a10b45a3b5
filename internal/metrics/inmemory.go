package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	EventsEmitted      map[string]uint64
	EventsPublished    map[string]uint64
	EventsProcessed    map[string]uint64
	BatchCount         uint64
	BatchSizeTotal     uint64
	BatchDurationTotal time.Duration
	IngestLagTotal     time.Duration
	IngestLagCount     uint64
	QueueDepth         int64
	RollupWriteErrors  map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests and the ops endpoint.
type InMemoryRecorder struct {
	mu                 sync.Mutex
	eventsEmitted      map[string]uint64
	eventsPublished    map[string]uint64
	eventsProcessed    map[string]uint64
	batchCount         uint64
	batchSizeTotal     uint64
	batchDurationTotal time.Duration
	ingestLagTotal     time.Duration
	ingestLagCount     uint64
	queueDepth         int64
	rollupWriteErrors  map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		eventsEmitted:     make(map[string]uint64),
		eventsPublished:   make(map[string]uint64),
		eventsProcessed:   make(map[string]uint64),
		rollupWriteErrors: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		EventsEmitted:      copyCounts(m.eventsEmitted),
		EventsPublished:    copyCounts(m.eventsPublished),
		EventsProcessed:    copyCounts(m.eventsProcessed),
		BatchCount:         m.batchCount,
		BatchSizeTotal:     m.batchSizeTotal,
		BatchDurationTotal: m.batchDurationTotal,
		IngestLagTotal:     m.ingestLagTotal,
		IngestLagCount:     m.ingestLagCount,
		QueueDepth:         m.queueDepth,
		RollupWriteErrors:  copyCounts(m.rollupWriteErrors),
	}
}

// IncEventEmitted increments the emitted counter for a status.
func (m *InMemoryRecorder) IncEventEmitted(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsEmitted[status]++
}

// IncEventPublished increments the published counter for a status.
func (m *InMemoryRecorder) IncEventPublished(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsPublished[status]++
}

// IncEventProcessed increments the processed counter for a status.
func (m *InMemoryRecorder) IncEventProcessed(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsProcessed[status]++
}

// ObserveBatchSize records one batch's event count.
func (m *InMemoryRecorder) ObserveBatchSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCount++
	m.batchSizeTotal += uint64(size)
}

// ObserveBatchDuration records one batch's processing duration.
func (m *InMemoryRecorder) ObserveBatchDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchDurationTotal += duration
}

// ObserveIngestLag records event-time to processing-time lag.
func (m *InMemoryRecorder) ObserveIngestLag(lag time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestLagTotal += lag
	m.ingestLagCount++
}

// SetQueueDepth records the current unprocessed backlog size.
func (m *InMemoryRecorder) SetQueueDepth(depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = depth
}

// IncRollupWriteError increments the write error counter for a pass.
func (m *InMemoryRecorder) IncRollupWriteError(pass string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollupWriteErrors[pass]++
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
