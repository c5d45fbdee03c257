// Package scan reads barcode scanner feeds and turns them into sample-entry
// calls.
//
// A feed is JSON lines, one object per scanner event:
//
//	{"type":"scan","barcode":"BC-1","section":"reception","user":"tech-1","at":"2026-05-04T08:00:00Z"}
//	{"type":"heartbeat","station":"bench-2"}
//
// Key types:
//   - [Parser]: Interface for parsing a JSON-lines feed
//   - [Event]: Parsed event with convenience methods for common checks
//   - [Feed]: Drives parsed scans into the sample-entry gate
package scan

import (
	"strings"
	"time"
)

// Event types.
const (
	TypeScan      = "scan"
	TypeHeartbeat = "heartbeat"
)

// StreamEvent is a raw JSON event from a scanner feed.
//
// Most users should work with [Event] instead, which trims fields and parses
// the timestamp. StreamEvent is available via [Event.Raw].
type StreamEvent struct {
	Type    string `json:"type"`
	Barcode string `json:"barcode,omitempty"`
	Section string `json:"section,omitempty"`
	Station string `json:"station,omitempty"`
	User    string `json:"user,omitempty"`
	At      string `json:"at,omitempty"`
}

// Event is a parsed scanner event.
type Event struct {
	// Raw is the original decoded line.
	Raw *StreamEvent

	// Type is the normalized event type.
	Type string

	// Barcode is the scanned specimen barcode.
	Barcode string

	// SectionID optionally restricts entry to one section's records.
	SectionID string

	// Station names the scanning bench, when reported.
	Station string

	// UserID is the technician who scanned.
	UserID string

	// ScannedAt is the scanner's timestamp; zero when absent or unparseable.
	ScannedAt time.Time

	// Err is set on the last event of a feed that could not be read to the
	// end. No other field is set.
	Err error
}

// NewEventFromStream converts a raw [StreamEvent] into an [Event].
func NewEventFromStream(raw *StreamEvent) Event {
	e := Event{
		Raw:       raw,
		Type:      strings.ToLower(strings.TrimSpace(raw.Type)),
		Barcode:   strings.TrimSpace(raw.Barcode),
		SectionID: strings.TrimSpace(raw.Section),
		Station:   strings.TrimSpace(raw.Station),
		UserID:    strings.TrimSpace(raw.User),
	}
	if raw.At != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.At); err == nil {
			e.ScannedAt = t.UTC()
		}
	}
	return e
}

// IsScan reports whether the event is a specimen scan with a barcode.
func (e Event) IsScan() bool {
	return e.Type == TypeScan && e.Barcode != ""
}

// IsHeartbeat reports whether the event is a scanner keep-alive.
func (e Event) IsHeartbeat() bool {
	return e.Type == TypeHeartbeat
}
