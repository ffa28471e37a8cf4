package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"angeld/internal/contextstore"
	"angeld/internal/event"
	"angeld/internal/eventbus"
	"angeld/internal/notify"
	"angeld/pkg/logx"
)

func newTestHandler(t *testing.T, token string) (http.Handler, *eventbus.Bus) {
	t.Helper()

	bus := eventbus.New(eventbus.Config{}, logx.Nop())
	bus.Start(context.Background())
	t.Cleanup(func() { bus.Stop(context.Background()) })

	store := contextstore.New(logx.Nop())
	store.AttachBus(bus)

	notif := notify.New(notify.Config{RatePerSec: 100}, logx.Nop())
	notif.Start(context.Background())
	t.Cleanup(func() { notif.Stop(context.Background()) })

	deps := Deps{
		Bus:    bus,
		Store:  store,
		Notify: notif,
		Status: func() map[string]any { return map[string]any{"bus": "running"} },
	}
	return NewHandler(deps, token), bus
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func waitForHistory(t *testing.T, bus *eventbus.Bus, want int) []event.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := bus.History(nil, nil, 0); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bus history never reached %d events", want)
	return nil
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, "secret")

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, "secret")

	if rec := doJSON(t, h, http.MethodGet, "/api/events", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/events", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/events", "secret", ""); rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec.Code)
	}

	// An empty configured token disables auth entirely.
	open, _ := newTestHandler(t, "")
	if rec := doJSON(t, open, http.MethodGet, "/api/events", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("open handler: status = %d", rec.Code)
	}
}

func TestPostEventRoundTrip(t *testing.T) {
	t.Parallel()
	h, bus := newTestHandler(t, "")

	body := `{"event_type":"user_activity","priority":"medium","source":"test","payload":{"activity_type":"reading"}}`
	rec := doJSON(t, h, http.MethodPost, "/api/events", "", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "published" || resp["id"] == "" {
		t.Fatalf("response = %+v", resp)
	}

	events := waitForHistory(t, bus, 1)
	if events[0].ID != resp["id"] {
		t.Fatalf("history id = %q, want %q", events[0].ID, resp["id"])
	}
	if events[0].Type != event.TypeUserActivity {
		t.Fatalf("history type = %v", events[0].Type)
	}
}

func TestPostEventRejectsUnknownType(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, "")

	body := `{"event_type":"teleport","priority":"medium","source":"test"}`
	rec := doJSON(t, h, http.MethodPost, "/api/events", "", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Type != "invalid_request_error" {
		t.Fatalf("error type = %q", resp.Error.Type)
	}
}

func TestPostActivityValidation(t *testing.T) {
	t.Parallel()
	h, bus := newTestHandler(t, "")

	if rec := doJSON(t, h, http.MethodPost, "/api/activities", "", `{"description":"no type"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing activity_type: status = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/activities", "", `{"activity_type":"eating","timestamp":"yesterday"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp: status = %d", rec.Code)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/activities", "", `{"activity_type":"eating","description":"lunch"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid activity: status = %d, body %s", rec.Code, rec.Body.String())
	}
	events := waitForHistory(t, bus, 1)
	if got := events[0].PayloadString("activity_type"); got != "eating" {
		t.Fatalf("payload activity_type = %q", got)
	}
}

func TestPostNotification(t *testing.T) {
	t.Parallel()
	h, bus := newTestHandler(t, "")

	if rec := doJSON(t, h, http.MethodPost, "/api/notifications", "", `{"category":"greeting"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing message: status = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/notifications", "", `{"message":"hi","priority":"mega"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad priority: status = %d", rec.Code)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/notifications", "", `{"message":"Dinner is ready","priority":"low"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid notification: status = %d, body %s", rec.Code, rec.Body.String())
	}
	events := waitForHistory(t, bus, 1)
	if events[0].Type != event.TypeCustom {
		t.Fatalf("event type = %v", events[0].Type)
	}
	if got := events[0].PayloadString("recommendation_type"); got != "notification" {
		t.Fatalf("default category = %q", got)
	}
}

func TestGetEventsFilters(t *testing.T) {
	t.Parallel()
	h, bus := newTestHandler(t, "")

	if err := bus.Publish(event.New(event.TypeUserActivity, event.PriorityLow, "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(event.New(event.TypeWeatherUpdate, event.PriorityLow, "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForHistory(t, bus, 2)

	rec := doJSON(t, h, http.MethodGet, "/api/events?type=weather_update", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []event.Wire
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].EventType != event.TypeWeatherUpdate.String() {
		t.Fatalf("filtered events = %+v", events)
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/events?type=bogus", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type filter: status = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/events?since=notatime", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since filter: status = %d", rec.Code)
	}
}

func TestGetEventsEmptyHistoryIsArray(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodGet, "/api/events", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want empty array", got)
	}
}

func TestGetContext(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodGet, "/api/context", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap contextstore.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TimeOfDay == "" {
		t.Fatalf("snapshot missing time_of_day: %s", rec.Body.String())
	}
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodGet, "/api/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["bus"] != "running" {
		t.Fatalf("status = %+v", status)
	}
}

func TestPublishWhenBusStopped(t *testing.T) {
	t.Parallel()
	h, bus := newTestHandler(t, "")
	bus.Stop(context.Background())

	rec := doJSON(t, h, http.MethodPost, "/api/activities", "", `{"activity_type":"reading"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
