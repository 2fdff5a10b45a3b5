package analytics

import (
	"context"
	"fmt"

	"github.com/linkpulse/linkpulse/internal/model"
)

// RollupStore persists batch aggregates. All mutations are additive
// upsert-increments so overlapping batches never lose updates.
type RollupStore interface {
	IncrementLinkCounters(ctx context.Context, deltas []*model.LinkDelta, chunkSize int) error
	UpsertDailyRollups(ctx context.Context, deltas []*model.RollupDelta, chunkSize int) error
	UpsertMonthlyRollups(ctx context.Context, deltas []*model.RollupDelta, chunkSize int) error
	IncrementGlobalClicks(ctx context.Context, n int64) error
}

// batchAggregates holds the in-memory accumulation of one claimed batch.
//
// All counters are plain additions over string-keyed maps, so the result is
// independent of event order within the batch. Claim order is not FIFO and
// must not matter.
type batchAggregates struct {
	links   map[string]*model.LinkDelta   // keyed by linkID
	daily   map[string]*model.RollupDelta // keyed by linkID:YYYY-MM-DD
	monthly map[string]*model.RollupDelta // keyed by linkID:YYYY-MM
	total   int64
}

// buildBatchAggregates groups a claimed batch in a single pass.
//
// Calendar keys derive from each event's own timestamp in UTC, never from
// ingestion time, so delayed processing still lands in the correct bucket.
// Missing categories degrade to the unknown/direct buckets.
func buildBatchAggregates(events []*model.ClickEvent) *batchAggregates {
	agg := &batchAggregates{
		links:   make(map[string]*model.LinkDelta),
		daily:   make(map[string]*model.RollupDelta),
		monthly: make(map[string]*model.RollupDelta),
	}

	for _, event := range events {
		country := event.CountryOrDefault()
		source := event.SourceOrDefault()
		device := event.DeviceOrDefault()

		link, ok := agg.links[event.LinkID]
		if !ok {
			link = &model.LinkDelta{
				LinkID:    event.LinkID,
				ByCountry: make(map[string]int64),
			}
			agg.links[event.LinkID] = link
		}
		link.TotalClicks++
		link.ByCountry[country]++

		incrementRollup(agg.daily, event.LinkID, event.DayKey(), country, source, device)
		incrementRollup(agg.monthly, event.LinkID, event.MonthKey(), country, source, device)

		agg.total++
	}

	return agg
}

func incrementRollup(buckets map[string]*model.RollupDelta, linkID, bucket, country, source, device string) {
	key := fmt.Sprintf("%s:%s", linkID, bucket)
	delta, ok := buckets[key]
	if !ok {
		delta = &model.RollupDelta{
			LinkID:    linkID,
			Bucket:    bucket,
			ByCountry: make(map[string]int64),
			BySource:  make(map[string]int64),
			ByDevice:  make(map[string]int64),
		}
		buckets[key] = delta
	}
	delta.TotalClicks++
	delta.ByCountry[country]++
	delta.BySource[source]++
	delta.ByDevice[device]++
}

func (a *batchAggregates) linkDeltas() []*model.LinkDelta {
	deltas := make([]*model.LinkDelta, 0, len(a.links))
	for _, d := range a.links {
		deltas = append(deltas, d)
	}
	return deltas
}

func (a *batchAggregates) dailyDeltas() []*model.RollupDelta {
	return rollupDeltas(a.daily)
}

func (a *batchAggregates) monthlyDeltas() []*model.RollupDelta {
	return rollupDeltas(a.monthly)
}

func rollupDeltas(buckets map[string]*model.RollupDelta) []*model.RollupDelta {
	deltas := make([]*model.RollupDelta, 0, len(buckets))
	for _, d := range buckets {
		deltas = append(deltas, d)
	}
	return deltas
}

// persistAggregates writes one batch's aggregates as independent passes:
// link counters, daily rollups, monthly rollups, then the global singleton.
//
// The passes are not wrapped in a cross-table transaction. A failing pass
// aborts and leaves the batch unmarked, so its events are reclaimed and
// reapplied; passes that already succeeded will be incremented again on the
// retry. That over-count window is accepted rather than hidden.
func persistAggregates(ctx context.Context, store RollupStore, agg *batchAggregates, chunkSize int) error {
	if agg.total == 0 {
		return nil
	}

	if err := store.IncrementLinkCounters(ctx, agg.linkDeltas(), chunkSize); err != nil {
		return fmt.Errorf("increment link counters: %w", err)
	}
	if err := store.UpsertDailyRollups(ctx, agg.dailyDeltas(), chunkSize); err != nil {
		return fmt.Errorf("upsert daily rollups: %w", err)
	}
	if err := store.UpsertMonthlyRollups(ctx, agg.monthlyDeltas(), chunkSize); err != nil {
		return fmt.Errorf("upsert monthly rollups: %w", err)
	}
	if err := store.IncrementGlobalClicks(ctx, agg.total); err != nil {
		return fmt.Errorf("increment global clicks: %w", err)
	}
	return nil
}
