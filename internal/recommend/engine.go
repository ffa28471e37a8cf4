// Package recommend evaluates the companion's reminder and suggestion
// rules against the current user context and publishes the resulting
// recommendation events.
package recommend

import (
	"math/rand"
	"sync"
	"time"

	"angeld/internal/contextstore"
	"angeld/internal/event"
	"angeld/internal/eventbus"
	"angeld/pkg/logx"
)

// Publisher is the slice of the event bus the engine needs for output.
type Publisher interface {
	Publish(e event.Event) error
}

// Config carries the tunable parts of the rule engine.
type Config struct {
	// Times is the reminder schedule the checks validate against.
	Times Times
	// Cooldowns overrides per-category minimum intervals between
	// recommendations. Categories not listed keep their defaults.
	Cooldowns map[string]time.Duration
}

// Service runs the recommendation rules. Scheduled checks (medication,
// meal, weather) are invoked by the daily trigger scheduler; reactive
// rules run from bus subscriptions.
type Service struct {
	log   logx.Logger
	bus   Publisher
	store *contextstore.Store
	cool  *cooldowns

	timesMu   sync.Mutex
	medTimes  []clockTime
	mealTimes []clockTime

	now  func() time.Time
	pick func(n int) int
}

// Option customizes a Service.
type Option func(*Service)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPicker substitutes the random index source used for suggestion
// variety, for tests.
func WithPicker(pick func(n int) int) Option {
	return func(s *Service) { s.pick = pick }
}

func New(cfg Config, bus Publisher, store *contextstore.Store, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		bus:   bus,
		store: store,
		cool:  newCooldowns(cfg.Cooldowns),
		now:   time.Now,
		pick:  rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.SetTimes(cfg.Times)
	return s
}

// Apply updates runtime tunables in place. Safe to call while running.
func (s *Service) Apply(cfg Config) {
	s.SetTimes(cfg.Times)
	s.cool.setOverrides(cfg.Cooldowns)
	s.log.Debug("recommendation config applied", logx.Int("cooldown_overrides", len(cfg.Cooldowns)))
}

// AttachBus registers the reactive rule handlers. Scheduled checks are
// wired separately through the trigger scheduler.
func (s *Service) AttachBus(bus *eventbus.Bus) {
	bus.Subscribe(event.TypeUserActivity, s.handleUserActivity)
	bus.SubscribeByPriority(event.PriorityHigh, s.handleUrgent)
	bus.SubscribeByPriority(event.PriorityCritical, s.handleUrgent)
}

// LastFired exposes per-category last emission times for the status
// surface.
func (s *Service) LastFired() map[string]time.Time {
	return s.cool.snapshot()
}

// emit publishes a recommendation event if the category is off cooldown.
// Returns true when an event was published.
func (s *Service) emit(category, message string, p event.Priority, meta event.Payload) bool {
	now := s.now()
	if !s.cool.allow(category, now) {
		s.log.Debug("recommendation suppressed by cooldown", logx.String("category", category))
		return false
	}

	payload := event.Payload{
		"recommendation_type": category,
		"message":             message,
	}
	for k, v := range meta {
		payload[k] = v
	}

	e := event.New(event.TypeActivitySuggestion, p, "recommendation_engine", payload)
	if err := s.bus.Publish(e); err != nil {
		s.log.Warn("recommendation publish failed",
			logx.String("category", category), logx.Err(err))
		return false
	}

	s.cool.note(category, now)
	s.log.Info("recommendation published",
		logx.String("category", category),
		logx.String("message", message),
		logx.String("priority", p.String()))
	return true
}
