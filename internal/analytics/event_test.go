package analytics

import (
	"strings"
	"testing"
	"time"
)

func validPayload() ClickEventPayload {
	return ClickEventPayload{
		Type:       EventType,
		LinkID:     "lnk_abc123",
		UserID:     "usr_xyz789",
		Country:    "US",
		Source:     "instagram",
		DeviceType: "mobile",
		UserAgent:  "Mozilla/5.0",
		Timestamp:  time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
}

func TestValidateClickEventPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *ClickEventPayload)
		wantErr bool
	}{
		{
			name:   "valid payload",
			mutate: func(p *ClickEventPayload) {},
		},
		{
			name:   "empty type is accepted",
			mutate: func(p *ClickEventPayload) { p.Type = "" },
		},
		{
			name:    "unknown type rejected",
			mutate:  func(p *ClickEventPayload) { p.Type = "pageview" },
			wantErr: true,
		},
		{
			name:    "missing link id",
			mutate:  func(p *ClickEventPayload) { p.LinkID = "" },
			wantErr: true,
		},
		{
			name:    "missing user id",
			mutate:  func(p *ClickEventPayload) { p.UserID = "" },
			wantErr: true,
		},
		{
			name:    "zero timestamp",
			mutate:  func(p *ClickEventPayload) { p.Timestamp = 0 },
			wantErr: true,
		},
		{
			name:    "negative timestamp",
			mutate:  func(p *ClickEventPayload) { p.Timestamp = -1 },
			wantErr: true,
		},
		{
			name:   "empty country allowed",
			mutate: func(p *ClickEventPayload) { p.Country = "" },
		},
		{
			name:   "UNKNOWN country allowed",
			mutate: func(p *ClickEventPayload) { p.Country = "UNKNOWN" },
		},
		{
			name:    "three letter country rejected",
			mutate:  func(p *ClickEventPayload) { p.Country = "USA" },
			wantErr: true,
		},
		{
			name:    "oversized user agent rejected",
			mutate:  func(p *ClickEventPayload) { p.UserAgent = strings.Repeat("x", maxUserAgentLength+1) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := validPayload()
			tt.mutate(&payload)

			err := ValidateClickEventPayload(payload)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestToEvent(t *testing.T) {
	t.Parallel()

	payload := validPayload()
	event := payload.ToEvent("evt-1")

	if event.ID != "evt-1" {
		t.Errorf("expected ID evt-1, got %s", event.ID)
	}
	if event.LinkID != payload.LinkID {
		t.Errorf("expected link ID %s, got %s", payload.LinkID, event.LinkID)
	}
	if event.UserID != payload.UserID {
		t.Errorf("expected user ID %s, got %s", payload.UserID, event.UserID)
	}
	if got := event.Timestamp.UTC(); got != time.UnixMilli(payload.Timestamp).UTC() {
		t.Errorf("expected timestamp %v, got %v", time.UnixMilli(payload.Timestamp).UTC(), got)
	}
}

func TestToEventTruncatesUserAgent(t *testing.T) {
	t.Parallel()

	payload := validPayload()
	payload.UserAgent = strings.Repeat("a", maxUserAgentLength+100)

	event := payload.ToEvent("evt-1")
	if len(event.UserAgent) != maxUserAgentLength {
		t.Errorf("expected user agent truncated to %d, got %d", maxUserAgentLength, len(event.UserAgent))
	}
}

func TestNewEventID(t *testing.T) {
	t.Parallel()

	a := NewEventID()
	b := NewEventID()

	if a == b {
		t.Error("expected unique IDs")
	}
	if len(a) != 26 {
		t.Errorf("expected 26-char ULID, got %d chars", len(a))
	}
}
