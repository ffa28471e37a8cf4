package notify

import (
	"context"
	"fmt"

	"angeld/internal/event"
	"angeld/internal/eventbus"

	"github.com/google/uuid"
)

// AttachBus wires the pipeline to the bus: recommendation events by
// type, plus everything high or critical so urgent events still reach
// the user if the recommendation engine stays silent.
func (s *Service) AttachBus(bus *eventbus.Bus) {
	bus.Subscribe(event.TypeActivitySuggestion, s.handleSuggestion)
	bus.SubscribeByPriority(event.PriorityHigh, s.handleUrgent)
	bus.SubscribeByPriority(event.PriorityCritical, s.handleUrgent)
}

func (s *Service) handleSuggestion(ctx context.Context, e event.Event) error {
	return s.Enqueue(ctx, FromEvent(e))
}

// handleUrgent forwards urgent non-recommendation events. Suggestions
// arrive through the type subscription already.
func (s *Service) handleUrgent(ctx context.Context, e event.Event) error {
	if e.Type == event.TypeActivitySuggestion {
		return nil
	}
	return s.Enqueue(ctx, FromEvent(e))
}

// FromEvent builds a Notification from a bus event. Recommendation
// events carry category and message in their payload; anything else is
// labeled by its event type.
func FromEvent(e event.Event) Notification {
	category := e.PayloadString("recommendation_type")
	if category == "" {
		category = e.Type.String()
	}
	message := e.PayloadString("message")
	if message == "" {
		if d := e.PayloadString("description"); d != "" {
			message = d
		} else {
			message = fmt.Sprintf("New %s event.", e.Type)
		}
	}

	meta := make(event.Payload, len(e.Payload))
	for k, v := range e.Payload {
		if k == "recommendation_type" || k == "message" {
			continue
		}
		meta[k] = v
	}

	return Notification{
		ID:        uuid.NewString(),
		Category:  category,
		Message:   message,
		Priority:  e.Priority,
		EventID:   e.ID,
		Meta:      meta,
		CreatedAt: e.Timestamp,
	}
}
