package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"angeld/internal/contextstore"
	"angeld/internal/event"
	"angeld/internal/eventbus"
	"angeld/internal/notify"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps carries everything the handlers touch.
type Deps struct {
	Bus    *eventbus.Bus
	Store  *contextstore.Store
	Notify *notify.Service
	// Status assembles the per-service snapshots for GET /api/status.
	Status func() map[string]any
}

// NewHandler builds the REST facade router.
func NewHandler(deps Deps, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(token))

		r.Post("/events", handlePostEvent(deps))
		r.Get("/events", handleGetEvents(deps))
		r.Post("/activities", handlePostActivity(deps))
		r.Post("/notifications", handlePostNotification(deps))
		r.Get("/context", handleGetContext(deps))
		r.Get("/status", handleGetStatus(deps))
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handlePostEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var wire event.Wire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		e, err := event.FromWire(wire)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid event: %v", err)
			return
		}

		if err := publish(deps.Bus, w, e); err != nil {
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": e.ID, "status": "published"})
	}
}

// ActivityRequest is the shortcut body for POST /api/activities.
type ActivityRequest struct {
	ActivityType string `json:"activity_type"`
	Description  string `json:"description"`
	Timestamp    string `json:"timestamp,omitempty"`
}

func handlePostActivity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ActivityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ActivityType == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "activity_type is required")
			return
		}

		payload := event.Payload{
			"activity_type": req.ActivityType,
			"description":   req.Description,
		}
		if req.Timestamp != "" {
			if _, err := time.Parse(time.RFC3339, req.Timestamp); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid timestamp: %v", err)
				return
			}
			payload["timestamp"] = req.Timestamp
		}

		e := event.New(event.TypeUserActivity, event.PriorityMedium, "api", payload)
		if err := publish(deps.Bus, w, e); err != nil {
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": e.ID, "status": "published"})
	}
}

// NotificationRequest is the body for POST /api/notifications.
type NotificationRequest struct {
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Priority string `json:"priority,omitempty"`
}

func handlePostNotification(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req NotificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		p := event.PriorityMedium
		if req.Priority != "" {
			var err error
			p, err = event.ParsePriority(req.Priority)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid priority: %v", err)
				return
			}
		}
		category := req.Category
		if category == "" {
			category = "notification"
		}

		e := event.New(event.TypeCustom, p, "api", event.Payload{
			"recommendation_type": category,
			"message":             req.Message,
		})
		if err := publish(deps.Bus, w, e); err != nil {
			return
		}

		// Direct enqueue so low and medium priorities still reach the
		// user; for high and critical the bus subscription delivers the
		// same pair and the dedup window drops the duplicate.
		n := notify.Notification{
			ID:        uuid.NewString(),
			Category:  category,
			Message:   req.Message,
			Priority:  p,
			EventID:   e.ID,
			CreatedAt: e.Timestamp,
		}
		if err := deps.Notify.Enqueue(r.Context(), n); err != nil && !errors.Is(err, notify.ErrQueueFull) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "notification pipeline unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": n.ID, "status": "queued"})
	}
}

func handleGetEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			typeFilter  *event.Type
			sinceFilter *time.Time
		)
		if s := r.URL.Query().Get("type"); s != "" {
			t, err := event.ParseType(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid type: %v", err)
				return
			}
			typeFilter = &t
		}
		if s := r.URL.Query().Get("since"); s != "" {
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid since: %v", err)
				return
			}
			sinceFilter = &ts
		}
		limit := parseIntParam(r, "limit", 0, 100)

		events := deps.Bus.History(typeFilter, sinceFilter, limit)
		if events == nil {
			events = []event.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func handleGetContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Store.Snapshot())
	}
}

func handleGetStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{}
		if deps.Status != nil {
			status = deps.Status()
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// publish pushes e onto the bus and writes the HTTP error when it
// cannot be accepted.
func publish(bus *eventbus.Bus, w http.ResponseWriter, e event.Event) error {
	err := bus.Publish(e)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, eventbus.ErrClosed):
		httpError(w, http.StatusServiceUnavailable, "api_error", "event bus is not running")
	case errors.Is(err, eventbus.ErrQueueFull):
		httpError(w, http.StatusTooManyRequests, "api_error", "event queue is full")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "publish failed: %v", err)
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
