// Package activity polls the external activity capture service and
// republishes detected activities as user-activity events.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"angeld/internal/event"
	rtsup "angeld/internal/runtime/supervisor"
	"angeld/pkg/logx"
)

// Config points at the capture service.
type Config struct {
	URL          string
	APIKey       string
	PollInterval time.Duration // default 10s
	ErrorBackoff time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimRight(c.URL, "/")
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 30 * time.Second
	}
	return c
}

// Publisher is the bus slice the connector needs.
type Publisher interface {
	Publish(e event.Event) error
}

// Service is the polling connector. It keeps a cursor on the last seen
// activity id so each activity is published once.
type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    Publisher
	client *http.Client

	lastID string

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
}

func New(cfg Config, bus Publisher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start probes the capture service and begins polling. A failed probe
// aborts the start so a misconfigured endpoint surfaces immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}

	if err := s.probe(ctx); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("activity connector: %w", err)
	}

	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "connector.activity"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	stopCh := s.stopCh
	stopDone := s.stopDone
	s.mu.Unlock()

	sup.Go("poll", func(c context.Context) error {
		defer close(stopDone)
		s.pollLoop(c, stopCh)
		return nil
	})
	s.log.Info("activity connector started", logx.String("url", s.cfg.URL))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	stopDone := s.stopDone
	sup := s.sup
	if stopCh == nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = nil
	s.sup = nil
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-stopDone:
	case <-ctx.Done():
	}
	if sup != nil {
		sup.Stop(time.Second)
	}
}

func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	interval := s.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(interval):
		}

		if err := s.pollOnce(ctx); err != nil {
			s.log.Warn("activity poll failed", logx.Err(err))
			interval = s.cfg.ErrorBackoff
			continue
		}
		interval = s.cfg.PollInterval
	}
}

type activityRecord struct {
	ID           string  `json:"id"`
	ActivityType string  `json:"activity_type"`
	Description  string  `json:"description"`
	Importance   float64 `json:"importance"`
	Timestamp    string  `json:"timestamp"`
}

type activitiesResponse struct {
	Activities []activityRecord `json:"activities"`
}

func (s *Service) pollOnce(ctx context.Context) error {
	s.mu.Lock()
	cursor := s.lastID
	s.mu.Unlock()

	url := s.cfg.URL + "/api/activities"
	if cursor != "" {
		url += "?since_id=" + cursor
	}

	var resp activitiesResponse
	if err := s.getJSON(ctx, url, &resp); err != nil {
		return err
	}

	for _, a := range resp.Activities {
		if err := s.bus.Publish(s.toEvent(a)); err != nil {
			return fmt.Errorf("publish activity: %w", err)
		}
		if a.ID != "" {
			s.mu.Lock()
			s.lastID = a.ID
			s.mu.Unlock()
		}
	}
	if n := len(resp.Activities); n > 0 {
		s.log.Debug("activities ingested", logx.Int("count", n))
	}
	return nil
}

// toEvent maps an activity record to a bus event. Importance drives the
// priority; fall or emergency wording forces high regardless.
func (s *Service) toEvent(a activityRecord) event.Event {
	p := event.PriorityLow
	switch {
	case a.Importance >= 80:
		p = event.PriorityHigh
	case a.Importance >= 40:
		p = event.PriorityMedium
	}
	if isEmergency(a) {
		p = event.PriorityHigh
	}

	payload := event.Payload{
		"activity_type": a.ActivityType,
		"description":   a.Description,
	}
	if a.ID != "" {
		payload["activity_id"] = a.ID
	}
	if a.Timestamp != "" {
		payload["timestamp"] = a.Timestamp
	}

	e := event.New(event.TypeUserActivity, p, "activity_connector", payload)
	if a.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, a.Timestamp); err == nil {
			e = e.WithTimestamp(ts)
		}
	}
	return e
}

var emergencyWords = []string{"fall", "fallen", "emergency", "help needed"}

func isEmergency(a activityRecord) bool {
	text := strings.ToLower(a.ActivityType + " " + a.Description)
	for _, w := range emergencyWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func (s *Service) probe(ctx context.Context) error {
	var out map[string]any
	if err := s.getJSON(ctx, s.cfg.URL+"/api/status", &out); err != nil {
		return fmt.Errorf("probe %s: %w", s.cfg.URL, err)
	}
	return nil
}

func (s *Service) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
