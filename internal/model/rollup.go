package model

import "time"

// DailyRollup is the pre-aggregated counter document for one (link, UTC day).
//
// Invariant: all counts are non-negative and TotalClicks equals the sum of
// ByCountry values (events without a country land in the "UNKNOWN" bucket,
// so the conservation property holds regardless).
type DailyRollup struct {
	LinkID string `json:"link_id"`
	Date   string `json:"date"` // YYYY-MM-DD, UTC

	TotalClicks int64            `json:"total_clicks"`
	ByCountry   map[string]int64 `json:"by_country"`
	BySource    map[string]int64 `json:"by_source"`
	ByDevice    map[string]int64 `json:"by_device"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MonthlyRollup has the same shape as DailyRollup but is keyed by
// (link, YYYY-MM), serving longer-range queries without rescanning days.
type MonthlyRollup struct {
	LinkID string `json:"link_id"`
	Month  string `json:"month"` // YYYY-MM, UTC

	TotalClicks int64            `json:"total_clicks"`
	ByCountry   map[string]int64 `json:"by_country"`
	BySource    map[string]int64 `json:"by_source"`
	ByDevice    map[string]int64 `json:"by_device"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkCounter is the all-time counter carried on the owning link record.
// It is the single source of truth for "all-time clicks per link".
type LinkCounter struct {
	LinkID      string           `json:"link_id"`
	TotalClicks int64            `json:"total_clicks"`
	ByCountry   map[string]int64 `json:"by_country"`
}

// GlobalClicks is the platform-wide singleton counter, incremented by the
// batch total on every aggregation pass.
type GlobalClicks struct {
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkDelta is one batch's increment for a link's all-time counters.
type LinkDelta struct {
	LinkID      string
	TotalClicks int64
	ByCountry   map[string]int64
}

// RollupDelta is one batch's increment for a single rollup bucket.
// Bucket is YYYY-MM-DD for daily rollups and YYYY-MM for monthly ones.
type RollupDelta struct {
	LinkID      string
	Bucket      string
	TotalClicks int64
	ByCountry   map[string]int64
	BySource    map[string]int64
	ByDevice    map[string]int64
}
