// Package model defines domain entities for the analytics pipeline.
package model

import "time"

// Device type categories. Source and country tokens are open-ended strings;
// device types are the only closed set.
const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceTablet  = "tablet"
	DeviceUnknown = "unknown"
)

// Default category buckets applied when an event arrives without attribution.
const (
	CountryUnknown = "UNKNOWN"
	SourceDirect   = "direct"
)

// ClickEvent represents a single observed redirect/click.
//
// Events live in the outbox until a worker aggregates them; ProcessedAt is
// set after aggregation and the row expires after the retention window.
type ClickEvent struct {
	ID     string `json:"id"`      // ULID (time-sortable)
	LinkID string `json:"link_id"` // owning link, required, immutable
	UserID string `json:"user_id"` // owning account, required, immutable

	// Attribution (normalized upstream by the resolver)
	Country    string `json:"country"`     // ISO 3166-1 alpha-2 or "UNKNOWN"
	Source     string `json:"source"`      // e.g. "instagram", "direct", "referral"
	DeviceType string `json:"device_type"` // mobile|desktop|tablet|unknown

	UserAgent string `json:"user_agent,omitempty"` // raw UA, truncated 500 chars

	// Timestamp is event time, never ingestion time, and never mutated.
	// Rollup calendar keys derive from it so delayed processing stays
	// historically accurate.
	Timestamp   time.Time  `json:"timestamp"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Processed reports whether the event has been aggregated.
func (e *ClickEvent) Processed() bool {
	return e.ProcessedAt != nil
}

// DayKey returns the UTC calendar-day bucket key (YYYY-MM-DD).
func (e *ClickEvent) DayKey() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// MonthKey returns the UTC calendar-month bucket key (YYYY-MM).
func (e *ClickEvent) MonthKey() string {
	return e.Timestamp.UTC().Format("2006-01")
}

// CountryOrDefault returns the event country, bucketing empty values.
func (e *ClickEvent) CountryOrDefault() string {
	if e.Country == "" {
		return CountryUnknown
	}
	return e.Country
}

// SourceOrDefault returns the event source, bucketing empty values.
func (e *ClickEvent) SourceOrDefault() string {
	if e.Source == "" {
		return SourceDirect
	}
	return e.Source
}

// DeviceOrDefault returns the event device type, bucketing empty values.
func (e *ClickEvent) DeviceOrDefault() string {
	if e.DeviceType == "" {
		return DeviceUnknown
	}
	return e.DeviceType
}
