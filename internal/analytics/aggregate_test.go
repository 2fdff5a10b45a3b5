package analytics

import (
	"context"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/linkpulse/linkpulse/internal/model"
)

func testEvent(id, linkID, country, source, device string, at time.Time) *model.ClickEvent {
	return &model.ClickEvent{
		ID:         id,
		LinkID:     linkID,
		UserID:     "usr_1",
		Country:    country,
		Source:     source,
		DeviceType: device,
		Timestamp:  at,
	}
}

func TestBuildBatchAggregates(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	events := []*model.ClickEvent{
		testEvent("e1", "lnk_a", "US", "instagram", "mobile", day),
		testEvent("e2", "lnk_a", "US", "instagram", "desktop", day.Add(time.Hour)),
		testEvent("e3", "lnk_a", "AR", "direct", "mobile", day.Add(2*time.Hour)),
	}

	agg := buildBatchAggregates(events)

	if agg.total != 3 {
		t.Fatalf("expected total 3, got %d", agg.total)
	}

	link, ok := agg.links["lnk_a"]
	if !ok {
		t.Fatal("expected link delta for lnk_a")
	}
	if link.TotalClicks != 3 {
		t.Errorf("expected 3 link clicks, got %d", link.TotalClicks)
	}
	if link.ByCountry["US"] != 2 || link.ByCountry["AR"] != 1 {
		t.Errorf("unexpected country breakdown: %v", link.ByCountry)
	}

	daily, ok := agg.daily["lnk_a:2025-06-15"]
	if !ok {
		t.Fatalf("expected daily bucket lnk_a:2025-06-15, got %v", agg.daily)
	}
	if daily.TotalClicks != 3 {
		t.Errorf("expected 3 daily clicks, got %d", daily.TotalClicks)
	}
	if daily.BySource["instagram"] != 2 || daily.BySource["direct"] != 1 {
		t.Errorf("unexpected source breakdown: %v", daily.BySource)
	}
	if daily.ByDevice["mobile"] != 2 || daily.ByDevice["desktop"] != 1 {
		t.Errorf("unexpected device breakdown: %v", daily.ByDevice)
	}

	monthly, ok := agg.monthly["lnk_a:2025-06"]
	if !ok {
		t.Fatalf("expected monthly bucket lnk_a:2025-06, got %v", agg.monthly)
	}
	if monthly.TotalClicks != 3 {
		t.Errorf("expected 3 monthly clicks, got %d", monthly.TotalClicks)
	}
}

func TestBuildBatchAggregatesMissingCategories(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	events := []*model.ClickEvent{
		testEvent("e1", "lnk_a", "", "", "", day),
	}

	agg := buildBatchAggregates(events)

	daily := agg.daily["lnk_a:2025-06-15"]
	if daily == nil {
		t.Fatal("expected daily bucket")
	}
	if daily.ByCountry[model.CountryUnknown] != 1 {
		t.Errorf("expected country bucketed as %s, got %v", model.CountryUnknown, daily.ByCountry)
	}
	if daily.BySource[model.SourceDirect] != 1 {
		t.Errorf("expected source bucketed as %s, got %v", model.SourceDirect, daily.BySource)
	}
	if daily.ByDevice[model.DeviceUnknown] != 1 {
		t.Errorf("expected device bucketed as %s, got %v", model.DeviceUnknown, daily.ByDevice)
	}
}

func TestBuildBatchAggregatesSpansBuckets(t *testing.T) {
	t.Parallel()

	// Two calendar days inside the same month.
	events := []*model.ClickEvent{
		testEvent("e1", "lnk_a", "US", "direct", "desktop", time.Date(2025, 6, 15, 23, 59, 0, 0, time.UTC)),
		testEvent("e2", "lnk_a", "US", "direct", "desktop", time.Date(2025, 6, 16, 0, 1, 0, 0, time.UTC)),
	}

	agg := buildBatchAggregates(events)

	if len(agg.daily) != 2 {
		t.Errorf("expected 2 daily buckets, got %d", len(agg.daily))
	}
	if len(agg.monthly) != 1 {
		t.Errorf("expected 1 monthly bucket, got %d", len(agg.monthly))
	}
	monthly := agg.monthly["lnk_a:2025-06"]
	if monthly == nil || monthly.TotalClicks != 2 {
		t.Errorf("expected monthly bucket with 2 clicks, got %+v", monthly)
	}
}

func TestBuildBatchAggregatesUsesEventTime(t *testing.T) {
	t.Parallel()

	// Event time in the past must bucket by its own timestamp regardless of
	// when the batch runs.
	old := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	agg := buildBatchAggregates([]*model.ClickEvent{
		testEvent("e1", "lnk_a", "US", "direct", "desktop", old),
	})

	if _, ok := agg.daily["lnk_a:2024-01-02"]; !ok {
		t.Errorf("expected bucket from event time, got %v", agg.daily)
	}
	if _, ok := agg.monthly["lnk_a:2024-01"]; !ok {
		t.Errorf("expected month from event time, got %v", agg.monthly)
	}
}

// Aggregation must not depend on claim order.
func TestBuildBatchAggregatesOrderIndependent(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	events := []*model.ClickEvent{
		testEvent("e1", "lnk_a", "US", "instagram", "mobile", base),
		testEvent("e2", "lnk_b", "BR", "whatsapp", "mobile", base.Add(time.Minute)),
		testEvent("e3", "lnk_a", "AR", "direct", "desktop", base.Add(25*time.Hour)),
		testEvent("e4", "lnk_a", "US", "qr_scan", "tablet", base.Add(2*time.Minute)),
		testEvent("e5", "lnk_b", "BR", "whatsapp", "desktop", base.Add(3*time.Minute)),
	}

	want := buildBatchAggregates(events)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := make([]*model.ClickEvent, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := buildBatchAggregates(shuffled)
		if !reflect.DeepEqual(got.links, want.links) {
			t.Fatalf("link deltas differ under permutation %d", i)
		}
		if !reflect.DeepEqual(got.daily, want.daily) {
			t.Fatalf("daily deltas differ under permutation %d", i)
		}
		if !reflect.DeepEqual(got.monthly, want.monthly) {
			t.Fatalf("monthly deltas differ under permutation %d", i)
		}
	}
}

// Total clicks must equal the sum of every breakdown in every bucket.
func TestBuildBatchAggregatesConservation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	countries := []string{"US", "BR", "AR", "DE", ""}
	sources := []string{"instagram", "whatsapp", "direct", "qr_scan", ""}
	devices := []string{"mobile", "desktop", "tablet", ""}
	links := []string{"lnk_a", "lnk_b", "lnk_c"}

	events := make([]*model.ClickEvent, 0, 200)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		events = append(events, testEvent(
			NewEventID(),
			links[rng.Intn(len(links))],
			countries[rng.Intn(len(countries))],
			sources[rng.Intn(len(sources))],
			devices[rng.Intn(len(devices))],
			base.Add(time.Duration(rng.Intn(60*24*40))*time.Minute),
		))
	}

	agg := buildBatchAggregates(events)

	if agg.total != int64(len(events)) {
		t.Fatalf("expected total %d, got %d", len(events), agg.total)
	}

	sum := func(m map[string]int64) int64 {
		var s int64
		for _, v := range m {
			s += v
		}
		return s
	}

	var linkTotal int64
	for id, link := range agg.links {
		linkTotal += link.TotalClicks
		if got := sum(link.ByCountry); got != link.TotalClicks {
			t.Errorf("link %s: country sum %d != total %d", id, got, link.TotalClicks)
		}
	}
	if linkTotal != agg.total {
		t.Errorf("link totals %d != batch total %d", linkTotal, agg.total)
	}

	for _, buckets := range []map[string]*model.RollupDelta{agg.daily, agg.monthly} {
		var bucketTotal int64
		for key, delta := range buckets {
			bucketTotal += delta.TotalClicks
			for name, m := range map[string]map[string]int64{
				"country": delta.ByCountry,
				"source":  delta.BySource,
				"device":  delta.ByDevice,
			} {
				if got := sum(m); got != delta.TotalClicks {
					t.Errorf("bucket %s: %s sum %d != total %d", key, name, got, delta.TotalClicks)
				}
			}
		}
		if bucketTotal != agg.total {
			t.Errorf("bucket totals %d != batch total %d", bucketTotal, agg.total)
		}
	}
}

func TestPersistAggregatesEmptyBatch(t *testing.T) {
	t.Parallel()

	store := newFakeRollupStore()
	agg := buildBatchAggregates(nil)

	if err := persistAggregates(context.Background(), store, agg, DefaultChunkSize); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 0 {
		t.Errorf("expected no store calls for empty batch, got %d", store.calls)
	}
}
