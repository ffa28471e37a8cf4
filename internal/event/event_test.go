package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	e := New(TypeUserActivity, PriorityMedium, "test", nil)
	if e.ID == "" {
		t.Fatalf("expected derived id")
	}
	if !strings.HasPrefix(e.ID, "user-activity_") {
		t.Fatalf("unexpected id %q", e.ID)
	}
	if e.Timestamp.IsZero() {
		t.Fatalf("expected timestamp")
	}
	if e.Payload == nil {
		t.Fatalf("expected non-nil payload")
	}
}

func TestWithTimestampRederivesAutoID(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	e := New(TypeMealReminder, PriorityLow, "test", nil).WithTimestamp(ts)
	if e.Timestamp != ts {
		t.Fatalf("timestamp not applied")
	}
	if !strings.Contains(e.ID, "meal-reminder_") {
		t.Fatalf("unexpected id %q", e.ID)
	}

	fixed := New(TypeMealReminder, PriorityLow, "test", nil).WithID("custom").WithTimestamp(ts)
	if fixed.ID != "custom" {
		t.Fatalf("explicit id must survive WithTimestamp, got %q", fixed.ID)
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"user-activity", TypeUserActivity, false},
		{"USER_ACTIVITY", TypeUserActivity, false},
		{"Weather-Alert", TypeWeatherAlert, false},
		{"activity_suggestion", TypeActivitySuggestion, false},
		{"bogus", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseType(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParseType(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseType(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Priority{
		"low":      PriorityLow,
		"MEDIUM":   PriorityMedium,
		"High":     PriorityHigh,
		"critical": PriorityCritical,
	} {
		got, err := ParsePriority(in)
		if err != nil {
			t.Fatalf("ParsePriority(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestFromWireRejections(t *testing.T) {
	t.Parallel()

	valid := Wire{
		EventType: "user-activity",
		Priority:  "medium",
		Source:    "test",
		Timestamp: "2026-03-01T08:00:00Z",
	}

	cases := []struct {
		name   string
		mutate func(*Wire)
	}{
		{"unknown type", func(w *Wire) { w.EventType = "nope" }},
		{"unknown priority", func(w *Wire) { w.Priority = "urgent" }},
		{"bad timestamp", func(w *Wire) { w.Timestamp = "yesterday" }},
		{"empty source", func(w *Wire) { w.Source = "" }},
	}
	for _, c := range cases {
		w := valid
		c.mutate(&w)
		if _, err := FromWire(w); err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}

	e, err := FromWire(valid)
	if err != nil {
		t.Fatalf("valid wire rejected: %v", err)
	}
	if e.Type != TypeUserActivity || e.Priority != PriorityMedium {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestMarshalJSONUsesWireShape(t *testing.T) {
	t.Parallel()

	e := New(TypeWeatherUpdate, PriorityLow, "test", Payload{"temperature": 12.5})
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var w Wire
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.EventType != "weather-update" || w.Priority != "low" {
		t.Fatalf("unexpected wire %+v", w)
	}
	if _, err := time.Parse(time.RFC3339, w.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", w.Timestamp)
	}
}

func TestIntrusiveConstructors(t *testing.T) {
	t.Parallel()

	if e := SMSReceived("ana", "hi", false); e.Priority != PriorityMedium {
		t.Fatalf("non-urgent sms priority = %v", e.Priority)
	}
	if e := SMSReceived("ana", "hi", true); e.Priority != PriorityHigh {
		t.Fatalf("urgent sms priority = %v", e.Priority)
	}
	if e := EmailReceived("bo", "news", false); e.Priority != PriorityLow {
		t.Fatalf("non-urgent email priority = %v", e.Priority)
	}
	if e := EmailReceived("bo", "news", true); e.Priority != PriorityHigh {
		t.Fatalf("urgent email priority = %v", e.Priority)
	}
	if e := PhoneCall("cleo"); e.Priority != PriorityHigh {
		t.Fatalf("phone call priority = %v", e.Priority)
	}

	for severity, want := range map[int]Priority{
		1: PriorityMedium,
		2: PriorityHigh,
		3: PriorityCritical,
		5: PriorityCritical,
	} {
		if e := WeatherAlert("STORM", "storm incoming", severity); e.Priority != want {
			t.Fatalf("severity %d priority = %v, want %v", severity, e.Priority, want)
		}
	}
}
