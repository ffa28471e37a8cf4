package recommend

import (
	"context"
	"fmt"
	"strings"

	"angeld/internal/event"
	"angeld/pkg/logx"
)

// handleUserActivity runs the activity-triggered rules. The context
// store's own subscription runs first, so the snapshot already reflects
// the activity being handled.
func (s *Service) handleUserActivity(ctx context.Context, e event.Event) error {
	activity := strings.ToLower(e.PayloadString("activity_type"))
	switch {
	case strings.Contains(activity, "eating") || strings.Contains(activity, "meal"):
		s.checkMedicationWithMeal()
	case strings.Contains(activity, "idle"):
		s.suggestActivity()
	}
	return nil
}

// checkMedicationWithMeal pairs a medication reminder with a meal when a
// configured medication time falls within an hour of now. The category
// cooldown is the only throttle; a recent medication activity does not
// suppress the pairing.
func (s *Service) checkMedicationWithMeal() {
	now := s.now()
	med, _ := s.scheduleTimes()
	if _, ok := s.nearAny(now, med, mealMedicationWindow); !ok {
		return
	}

	s.emit(CategoryMedicationWithMeal,
		"Since you're eating, remember to take your medication with the meal.",
		event.PriorityMedium, nil)
}

// suggestActivity proposes something to do when the user goes idle: a
// walk when the weather invites it, otherwise an indoor pastime.
func (s *Service) suggestActivity() {
	snap := s.store.Snapshot()

	if w := snap.Weather; w != nil && walkWeather(w.DetailedStatus) &&
		w.Temperature >= walkTempMin && w.Temperature <= walkTempMax {
		s.emit(CategoryActivity,
			fmt.Sprintf("The weather is lovely (%.0f°C). How about a short walk outside?", w.Temperature),
			event.PriorityLow, nil)
		return
	}

	msg := indoorSuggestions[s.pick(len(indoorSuggestions))]
	s.emit(CategoryActivity, msg, event.PriorityLow, nil)
}

// walkWeather reports whether the sky invites going outside.
func walkWeather(status string) bool {
	status = strings.ToLower(status)
	return strings.Contains(status, "clear") || strings.Contains(status, "sun")
}

// handleUrgent escalates intrusive high and critical priority events
// into immediate recommendations, bypassing category cooldowns. Events
// the engine itself publishes fall through the switch untouched, so
// escalation cannot feed back on itself.
func (s *Service) handleUrgent(ctx context.Context, e event.Event) error {
	var (
		category string
		message  string
	)
	switch e.Type {
	case event.TypePhoneCall, event.TypeWhatsAppCall:
		category = CategoryCommunication
		message = fmt.Sprintf("You have an incoming call from %s.", callerOf(e))
	case event.TypeSMSReceived:
		category = CategoryCommunication
		message = fmt.Sprintf("You received an urgent message from %s.", callerOf(e))
	case event.TypeEmailReceived:
		category = CategoryCommunication
		message = fmt.Sprintf("You received an urgent email from %s.", callerOf(e))
	case event.TypeWeatherAlert:
		category = CategoryWeatherAlert
		message = fmt.Sprintf("Weather alert: %s.", e.PayloadString("description"))
	default:
		return nil
	}

	s.escalate(category, message, e)
	return nil
}

func callerOf(e event.Event) string {
	for _, key := range []string{"caller", "sender"} {
		if v := e.PayloadString(key); v != "" {
			return v
		}
	}
	return "someone"
}

// escalate publishes a recommendation immediately at the originating
// event's priority, carrying its id for correlation. Cooldowns are not
// consulted; the last-fire timestamp is still recorded for the status
// surface.
func (s *Service) escalate(category, message string, origin event.Event) {
	payload := event.Payload{
		"recommendation_type": category,
		"message":             message,
		"source_event_id":     origin.ID,
		"source_event_type":   origin.Type.String(),
	}

	e := event.New(event.TypeActivitySuggestion, origin.Priority, "recommendation_engine", payload)
	if err := s.bus.Publish(e); err != nil {
		s.log.Warn("escalation publish failed",
			logx.String("category", category), logx.Err(err))
		return
	}

	s.cool.note(category, s.now())
	s.log.Info("recommendation escalated",
		logx.String("category", category),
		logx.String("source_event", origin.ID),
		logx.String("priority", origin.Priority.String()))
}
