package contextstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"angeld/internal/event"
	"angeld/internal/eventbus"
	"angeld/pkg/logx"
)

// activityWindow bounds how far back recent activities are retained.
const activityWindow = 24 * time.Hour

// TimeOfDay buckets the wall clock for rule evaluation.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"   // 05:00-12:00
	Noon      TimeOfDay = "noon"      // 12:00-14:00
	Afternoon TimeOfDay = "afternoon" // 14:00-18:00
	Evening   TimeOfDay = "evening"   // 18:00-22:00
	Night     TimeOfDay = "night"
)

// BucketFor maps an instant to its time-of-day bucket.
func BucketFor(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 14:
		return Noon
	case h >= 14 && h < 18:
		return Afternoon
	case h >= 18 && h < 22:
		return Evening
	default:
		return Night
	}
}

// Activity is one observed user activity.
type Activity struct {
	Type        string    `json:"activity_type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Weather is the latest observed weather snapshot.
type Weather struct {
	DetailedStatus string    `json:"detailed_status"`
	Temperature    float64   `json:"temperature"` // Celsius
	Humidity       float64   `json:"humidity,omitempty"`
	Wind           float64   `json:"wind,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Snapshot is a consistent read-only copy of the context.
type Snapshot struct {
	Activities       []Activity `json:"recent_activities"`
	Weather          *Weather   `json:"current_weather,omitempty"`
	TimeOfDay        TimeOfDay  `json:"time_of_day"`
	LastMealAt       time.Time  `json:"last_meal_at,omitzero"`
	LastMedicationAt time.Time  `json:"last_medication_at,omitzero"`
	RefreshedAt      time.Time  `json:"refreshed_at,omitzero"`
}

// LatestActivity returns the most recent activity, or false when none.
func (s Snapshot) LatestActivity() (Activity, bool) {
	if len(s.Activities) == 0 {
		return Activity{}, false
	}
	latest := s.Activities[0]
	for _, a := range s.Activities[1:] {
		if a.Timestamp.After(latest.Timestamp) {
			latest = a
		}
	}
	return latest, true
}

// InactiveFor reports whether no activity is newer than now-d.
// An empty activity window counts as inactive.
func (s Snapshot) InactiveFor(d time.Duration, now time.Time) bool {
	latest, ok := s.LatestActivity()
	if !ok {
		return true
	}
	return now.Sub(latest.Timestamp) > d
}

// Store owns the rolling user context. All mutation happens under one
// mutex: bus handlers and scheduled refreshes never interleave partial
// updates, and Snapshot always observes a consistent state.
type Store struct {
	log logx.Logger
	now func() time.Time

	mu         sync.Mutex
	activities []Activity
	weather    *Weather
	timeOfDay  TimeOfDay
	lastMeal   time.Time
	lastMed    time.Time
	refreshed  time.Time
}

type Option func(*Store)

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(log logx.Logger, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.timeOfDay = BucketFor(s.now())
	return s
}

// AttachBus subscribes the store to the event types it consumes.
func (s *Store) AttachBus(bus *eventbus.Bus) {
	bus.Subscribe(event.TypeUserActivity, func(_ context.Context, e event.Event) error {
		s.RecordActivity(activityFromEvent(e))
		return nil
	})
	bus.Subscribe(event.TypeWeatherUpdate, func(_ context.Context, e event.Event) error {
		s.SetWeather(weatherFromEvent(e))
		return nil
	})
}

func activityFromEvent(e event.Event) Activity {
	a := Activity{
		Type:        e.PayloadString("activity_type"),
		Description: e.PayloadString("description"),
		Timestamp:   e.Timestamp,
	}
	if raw := e.PayloadString("timestamp"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			a.Timestamp = ts
		}
	}
	return a
}

func weatherFromEvent(e event.Event) Weather {
	w := Weather{
		DetailedStatus: e.PayloadString("detailed_status"),
		ObservedAt:     e.Timestamp,
	}
	if v, ok := e.PayloadFloat("temperature"); ok {
		w.Temperature = v
	}
	if v, ok := e.PayloadFloat("humidity"); ok {
		w.Humidity = v
	}
	if v, ok := e.PayloadFloat("wind"); ok {
		w.Wind = v
	}
	return w
}

// RecordActivity appends an activity and updates meal/medication markers
// when the record matches meal or medication semantics.
func (s *Store) RecordActivity(a Activity) {
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities = append(s.activities, a)

	kind := strings.ToLower(a.Type)
	desc := strings.ToLower(a.Description)

	if strings.Contains(kind, "eating") || strings.Contains(kind, "meal") || strings.Contains(desc, "food") {
		s.lastMeal = a.Timestamp
		s.log.Debug("meal detected", logx.String("description", a.Description))
	}
	if strings.Contains(kind, "medication") || strings.Contains(kind, "pill") || strings.Contains(desc, "medicine") {
		s.lastMed = a.Timestamp
		s.log.Debug("medication intake detected", logx.String("description", a.Description))
	}
}

// SetWeather replaces the current weather snapshot.
func (s *Store) SetWeather(w Weather) {
	if w.ObservedAt.IsZero() {
		w.ObservedAt = s.now()
	}
	s.mu.Lock()
	s.weather = &w
	s.mu.Unlock()
}

// Refresh recomputes the time-of-day bucket and prunes activities older
// than the 24h window. Invoked periodically by the scheduler.
func (s *Store) Refresh() {
	now := s.now()
	cutoff := now.Add(-activityWindow)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeOfDay = BucketFor(now)
	s.refreshed = now

	kept := s.activities[:0]
	for _, a := range s.activities {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	pruned := len(s.activities) - len(kept)
	s.activities = kept
	if pruned > 0 {
		s.log.Debug("pruned stale activities", logx.Int("pruned", pruned), logx.Int("kept", len(kept)))
	}
}

// Snapshot returns a consistent copy of the context.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Activities:       append([]Activity(nil), s.activities...),
		TimeOfDay:        s.timeOfDay,
		LastMealAt:       s.lastMeal,
		LastMedicationAt: s.lastMed,
		RefreshedAt:      s.refreshed,
	}
	if s.weather != nil {
		w := *s.weather
		snap.Weather = &w
	}
	return snap
}
