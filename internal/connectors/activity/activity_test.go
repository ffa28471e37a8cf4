package activity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"angeld/internal/event"
	"angeld/pkg/logx"
)

type capturePub struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePub) Publish(e event.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *capturePub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *capturePub) all() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Event(nil), p.events...)
}

func TestToEventPriorityMapping(t *testing.T) {
	t.Parallel()
	s := New(Config{URL: "http://localhost"}, &capturePub{}, logx.Nop())

	cases := []struct {
		name string
		rec  activityRecord
		want event.Priority
	}{
		{"low importance", activityRecord{ActivityType: "reading", Importance: 10}, event.PriorityLow},
		{"medium importance", activityRecord{ActivityType: "cooking", Importance: 55}, event.PriorityMedium},
		{"high importance", activityRecord{ActivityType: "door", Importance: 90}, event.PriorityHigh},
		{"fall forces high", activityRecord{ActivityType: "fall_detected", Importance: 5}, event.PriorityHigh},
		{"emergency wording in description", activityRecord{ActivityType: "motion", Description: "possible emergency", Importance: 5}, event.PriorityHigh},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			e := s.toEvent(c.rec)
			if e.Priority != c.want {
				t.Fatalf("priority = %v, want %v", e.Priority, c.want)
			}
			if e.Type != event.TypeUserActivity {
				t.Fatalf("type = %v", e.Type)
			}
		})
	}
}

func TestToEventCarriesTimestamp(t *testing.T) {
	t.Parallel()
	s := New(Config{URL: "http://localhost"}, &capturePub{}, logx.Nop())

	e := s.toEvent(activityRecord{
		ID:           "a1",
		ActivityType: "walking",
		Timestamp:    "2026-03-02T08:30:00Z",
	})
	want := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", e.Timestamp, want)
	}
	if got := e.PayloadString("activity_id"); got != "a1" {
		t.Fatalf("activity_id = %q", got)
	}
}

func TestStartAbortsOnFailedProbe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL}, &capturePub{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail on a broken endpoint")
	}
}

func TestPollPublishesNewActivitiesOnce(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		sinceIDs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/api/activities":
			since := r.URL.Query().Get("since_id")
			mu.Lock()
			sinceIDs = append(sinceIDs, since)
			mu.Unlock()

			resp := activitiesResponse{}
			if since == "" {
				resp.Activities = []activityRecord{
					{ID: "a1", ActivityType: "reading", Importance: 10},
					{ID: "a2", ActivityType: "fall detected", Importance: 95},
				}
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	pub := &capturePub{}
	s := New(Config{URL: srv.URL, PollInterval: 10 * time.Millisecond}, pub, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && pub.count() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	if events[1].Priority != event.PriorityHigh {
		t.Fatalf("fall event priority = %v", events[1].Priority)
	}

	// Give the poller another cycle: the cursor must advance so nothing
	// is republished.
	time.Sleep(50 * time.Millisecond)
	if got := pub.count(); got != 2 {
		t.Fatalf("activities republished, count = %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sinceIDs) < 2 || sinceIDs[len(sinceIDs)-1] != "a2" {
		t.Fatalf("cursor not advanced, since ids = %v", sinceIDs)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, PollInterval: time.Hour}, &capturePub{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	s.Stop(context.Background())
	s.Stop(context.Background())
}
