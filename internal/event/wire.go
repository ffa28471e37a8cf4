package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire is the external JSON representation of an event, used by the REST
// facade to ingest and serialize events.
type Wire struct {
	ID        string         `json:"id,omitempty"`
	EventType string         `json:"event_type"`
	Priority  string         `json:"priority"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ParseType resolves a wire type tag, case-insensitively. The original
// Python service serialized enum names (USER_ACTIVITY); both spellings
// are accepted on ingest.
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", "-")
	t := Type(norm)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// ParsePriority resolves a wire priority, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// FromWire validates a wire record and builds an Event. Unknown type or
// priority tags are rejected rather than defaulted; a bad timestamp is a
// client error too. Missing timestamps default to now, missing ids are
// derived from type+timestamp.
func FromWire(w Wire) (Event, error) {
	t, err := ParseType(w.EventType)
	if err != nil {
		return Event{}, err
	}
	p, err := ParsePriority(w.Priority)
	if err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(w.Source) == "" {
		return Event{}, fmt.Errorf("source is required")
	}

	e := New(t, p, w.Source, Payload(w.Data))
	if w.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return Event{}, fmt.Errorf("invalid timestamp %q: %w", w.Timestamp, err)
		}
		e = e.WithTimestamp(ts)
	}
	return e.WithID(w.ID), nil
}

// ToWire serializes an event for the REST facade.
func ToWire(e Event) Wire {
	return Wire{
		ID:        e.ID,
		EventType: string(e.Type),
		Priority:  e.Priority.String(),
		Source:    e.Source,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Data:      e.Payload,
	}
}

// MarshalJSON keeps Event itself JSON-friendly (history responses,
// debug dumps) without exposing internal field names.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToWire(e))
}
