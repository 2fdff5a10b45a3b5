// Package analytics provides click event ingestion and batch aggregation.
package analytics

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linkpulse/linkpulse/internal/model"
)

const (
	maxUserAgentLength = 500

	// EventType is the only event kind this pipeline carries.
	EventType = "click"
)

// ClickEventPayload is the compressed wire format for click events, shared by
// the outbox emitter and the stream publisher.
type ClickEventPayload struct {
	Type       string `json:"type"`
	LinkID     string `json:"lid"`
	UserID     string `json:"uid"`
	Country    string `json:"cc,omitempty"`  // ISO 3166-1 alpha-2 or "UNKNOWN"
	Source     string `json:"src,omitempty"` // normalized source token
	DeviceType string `json:"dev,omitempty"` // mobile|desktop|tablet|unknown
	UserAgent  string `json:"ua,omitempty"`  // truncated raw UA
	Timestamp  int64  `json:"t"`             // event time, Unix milliseconds
}

// ValidateClickEventPayload validates required payload fields.
func ValidateClickEventPayload(payload ClickEventPayload) error {
	if payload.Type != "" && payload.Type != EventType {
		return fmt.Errorf("unsupported event type %q", payload.Type)
	}
	if payload.LinkID == "" {
		return fmt.Errorf("link_id is required")
	}
	if payload.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if payload.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be set")
	}
	if payload.Country != "" && payload.Country != model.CountryUnknown && len(payload.Country) != 2 {
		return fmt.Errorf("country must be 2 chars or UNKNOWN")
	}
	if len(payload.UserAgent) > maxUserAgentLength {
		return fmt.Errorf("user_agent too long")
	}
	return nil
}

// ToEvent converts the wire payload into the domain event.
// The caller supplies the event ID (generator-assigned or broker-assigned).
func (p ClickEventPayload) ToEvent(id string) *model.ClickEvent {
	return &model.ClickEvent{
		ID:         id,
		LinkID:     p.LinkID,
		UserID:     p.UserID,
		Country:    p.Country,
		Source:     p.Source,
		DeviceType: p.DeviceType,
		UserAgent:  truncateUserAgent(p.UserAgent),
		Timestamp:  time.UnixMilli(p.Timestamp),
	}
}

// NewEventID generates a time-sortable event identifier.
func NewEventID() string {
	return ulid.Make().String()
}

func truncateUserAgent(ua string) string {
	if len(ua) > maxUserAgentLength {
		return ua[:maxUserAgentLength]
	}
	return ua
}
