package event

import (
	"fmt"
	"time"
)

// Type tags every event with one value from a closed set.
// Unknown tags are rejected at the ingest boundary (see ParseType).
type Type string

const (
	// User and system events
	TypeUserActivity Type = "user-activity"
	TypeSystemStatus Type = "system-status"

	// Communication events
	TypeWhatsAppCall  Type = "whatsapp-call"
	TypePhoneCall     Type = "phone-call"
	TypeSMSReceived   Type = "sms-received"
	TypeEmailReceived Type = "email-received"

	// Environment events
	TypeWeatherUpdate Type = "weather-update"
	TypeWeatherAlert  Type = "weather-alert"

	// Recommendation events
	TypeMedicationReminder Type = "medication-reminder"
	TypeMealReminder       Type = "meal-reminder"
	TypeActivitySuggestion Type = "activity-suggestion"

	// Control events
	TypeUIInteraction     Type = "ui-interaction"
	TypeAvatarStateChange Type = "avatar-state-change"

	TypeCustom Type = "custom"
)

var allTypes = []Type{
	TypeUserActivity, TypeSystemStatus,
	TypeWhatsAppCall, TypePhoneCall, TypeSMSReceived, TypeEmailReceived,
	TypeWeatherUpdate, TypeWeatherAlert,
	TypeMedicationReminder, TypeMealReminder, TypeActivitySuggestion,
	TypeUIInteraction, TypeAvatarStateChange,
	TypeCustom,
}

// Types returns the closed set of event types.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

func (t Type) Valid() bool {
	for _, k := range allTypes {
		if t == k {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Priority orders events: Low < Medium < High < Critical.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Payload is an opaque key/value map carried by an event.
type Payload map[string]any

// Event is an immutable record of something that happened.
//
// Construct with New (or the intrusive helpers); do not mutate after
// publishing. Payload maps are shared, not copied: producers must not
// write to a payload after handing the event to the bus.
type Event struct {
	ID        string
	Type      Type
	Priority  Priority
	Source    string
	Timestamp time.Time
	Payload   Payload
}

// New builds an event with defaulted timestamp, payload and id.
// The id is derived from type and timestamp when not supplied later
// via WithID.
func New(t Type, p Priority, source string, payload Payload) Event {
	now := time.Now()
	if payload == nil {
		payload = Payload{}
	}
	return Event{
		ID:        deriveID(t, now),
		Type:      t,
		Priority:  p,
		Source:    source,
		Timestamp: now,
		Payload:   payload,
	}
}

// WithID returns a copy of e with the given id. Empty ids are ignored.
func (e Event) WithID(id string) Event {
	if id != "" {
		e.ID = id
	}
	return e
}

// WithTimestamp returns a copy of e stamped at ts, with the id re-derived
// when it was auto-generated for the old timestamp.
func (e Event) WithTimestamp(ts time.Time) Event {
	if ts.IsZero() {
		return e
	}
	rederive := e.ID == deriveID(e.Type, e.Timestamp)
	e.Timestamp = ts
	if rederive {
		e.ID = deriveID(e.Type, ts)
	}
	return e
}

func deriveID(t Type, ts time.Time) string {
	return fmt.Sprintf("%s_%d", t, ts.UnixNano())
}

// PayloadString reads a string payload field, returning "" when absent or
// not a string.
func (e Event) PayloadString(key string) string {
	v, ok := e.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// PayloadBool reads a bool payload field.
func (e Event) PayloadBool(key string) bool {
	v, ok := e.Payload[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// PayloadFloat reads a numeric payload field. JSON decoding produces
// float64; ints set directly by Go producers are converted.
func (e Event) PayloadFloat(key string) (float64, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
