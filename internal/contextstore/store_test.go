package contextstore

import (
	"context"
	"testing"
	"time"

	"angeld/internal/event"
	"angeld/internal/eventbus"
	"angeld/pkg/logx"
)

func TestBucketFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		hour int
		want TimeOfDay
	}{
		{5, Morning}, {11, Morning},
		{12, Noon}, {13, Noon},
		{14, Afternoon}, {17, Afternoon},
		{18, Evening}, {21, Evening},
		{22, Night}, {3, Night},
	}
	for _, c := range cases {
		ts := time.Date(2026, 3, 2, c.hour, 0, 0, 0, time.UTC)
		if got := BucketFor(ts); got != c.want {
			t.Fatalf("BucketFor(%02d:00) = %v, want %v", c.hour, got, c.want)
		}
	}
}

func TestRecordActivityDetectsMealsAndMedication(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())

	mealAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	medAt := mealAt.Add(10 * time.Minute)
	s.RecordActivity(Activity{Type: "eating", Timestamp: mealAt})
	s.RecordActivity(Activity{Type: "pill_intake", Timestamp: medAt})
	s.RecordActivity(Activity{Type: "walking", Description: "around the block", Timestamp: medAt.Add(time.Minute)})

	snap := s.Snapshot()
	if !snap.LastMealAt.Equal(mealAt) {
		t.Fatalf("last meal = %v, want %v", snap.LastMealAt, mealAt)
	}
	if !snap.LastMedicationAt.Equal(medAt) {
		t.Fatalf("last medication = %v, want %v", snap.LastMedicationAt, medAt)
	}
	if len(snap.Activities) != 3 {
		t.Fatalf("activities = %d", len(snap.Activities))
	}
}

func TestRecordActivityDetectsByDescription(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	at := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	s.RecordActivity(Activity{Type: "kitchen", Description: "preparing food", Timestamp: at})

	if got := s.Snapshot().LastMealAt; !got.Equal(at) {
		t.Fatalf("last meal = %v, want %v", got, at)
	}
}

func TestRefreshPrunesOldActivities(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s := New(logx.Nop(), WithClock(func() time.Time { return now }))

	s.RecordActivity(Activity{Type: "reading", Timestamp: now.Add(-25 * time.Hour)})
	s.RecordActivity(Activity{Type: "walking", Timestamp: now.Add(-time.Hour)})

	s.Refresh()

	snap := s.Snapshot()
	if len(snap.Activities) != 1 || snap.Activities[0].Type != "walking" {
		t.Fatalf("activities after refresh = %+v", snap.Activities)
	}
	if snap.TimeOfDay != Noon {
		t.Fatalf("time of day = %v", snap.TimeOfDay)
	}
	if !snap.RefreshedAt.Equal(now) {
		t.Fatalf("refreshed at = %v", snap.RefreshedAt)
	}
}

func TestInactiveFor(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	empty := Snapshot{}
	if !empty.InactiveFor(15*time.Minute, now) {
		t.Fatalf("empty snapshot must count as inactive")
	}

	snap := Snapshot{Activities: []Activity{
		{Type: "reading", Timestamp: now.Add(-30 * time.Minute)},
		{Type: "walking", Timestamp: now.Add(-10 * time.Minute)},
	}}
	if snap.InactiveFor(15*time.Minute, now) {
		t.Fatalf("activity 10m ago is within a 15m threshold")
	}
	if !snap.InactiveFor(5*time.Minute, now) {
		t.Fatalf("no activity within 5m")
	}
}

func TestAttachBusConsumesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(eventbus.Config{}, logx.Nop())
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	s := New(logx.Nop())
	s.AttachBus(bus)

	if err := bus.Publish(event.New(event.TypeUserActivity, event.PriorityLow, "test", event.Payload{
		"activity_type": "eating",
		"description":   "lunch",
	})); err != nil {
		t.Fatalf("publish activity: %v", err)
	}
	if err := bus.Publish(event.New(event.TypeWeatherUpdate, event.PriorityLow, "test", event.Payload{
		"detailed_status": "light rain",
		"temperature":     12.5,
		"humidity":        80.0,
	})); err != nil {
		t.Fatalf("publish weather: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if len(snap.Activities) == 1 && snap.Weather != nil {
			if snap.Activities[0].Type != "eating" {
				t.Fatalf("activity = %+v", snap.Activities[0])
			}
			if snap.LastMealAt.IsZero() {
				t.Fatalf("meal marker not set")
			}
			if snap.Weather.DetailedStatus != "light rain" || snap.Weather.Temperature != 12.5 {
				t.Fatalf("weather = %+v", snap.Weather)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bus events never reached the store")
}

func TestActivityFromEventPayloadTimestamp(t *testing.T) {
	t.Parallel()
	evTime := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	e := event.New(event.TypeUserActivity, event.PriorityLow, "test", event.Payload{
		"activity_type": "reading",
		"timestamp":     "2026-03-02T08:30:00Z",
	}).WithTimestamp(evTime)

	a := activityFromEvent(e)
	want := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	if !a.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want payload override %v", a.Timestamp, want)
	}
}
