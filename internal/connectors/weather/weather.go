// Package weather polls a weather provider, publishes weather-update
// events and raises weather-alert events when conditions change
// abruptly between consecutive observations.
package weather

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"angeld/internal/event"
	rtsup "angeld/internal/runtime/supervisor"
	"angeld/pkg/logx"

	"golang.org/x/sync/errgroup"
)

// Config selects the provider and location.
type Config struct {
	URL          string
	APIKey       string
	Location     string // e.g. "Paris,FR"
	PollInterval time.Duration // default 1h
	ErrorBackoff time.Duration // default 5m
	ForecastSpan time.Duration // default 72h
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Hour
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Minute
	}
	if c.ForecastSpan <= 0 {
		c.ForecastSpan = 72 * time.Hour
	}
	return c
}

// Publisher is the bus slice the connector needs.
type Publisher interface {
	Publish(e event.Event) error
}

// Service owns the polling loop and the change detector.
type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    Publisher
	client *Client

	lastObs *Observation

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
}

func New(cfg Config, bus Publisher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		client: NewClient(cfg.URL, cfg.APIKey),
	}
}

// Start performs an immediate fetch of the current weather and the
// forecast in parallel, publishes the first update, then polls in the
// background. The initial fetch failing is logged but does not abort
// the start; the poll loop retries.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return fmt.Errorf("weather connector: api key missing")
	}

	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "connector.weather"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	stopCh := s.stopCh
	stopDone := s.stopDone
	s.mu.Unlock()

	if err := s.initialFetch(ctx); err != nil {
		s.log.Warn("initial weather fetch failed", logx.Err(err))
	}

	sup.Go("poll", func(c context.Context) error {
		defer close(stopDone)
		s.pollLoop(c, stopCh)
		return nil
	})
	s.log.Info("weather connector started", logx.String("location", s.cfg.Location))
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

// initialFetch grabs the current observation and the forecast together;
// the forecast is only logged for now but validates the provider setup.
func (s *Service) initialFetch(ctx context.Context) error {
	var (
		current  Observation
		forecast []Observation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.client.Current(gctx, s.cfg.Location)
		return err
	})
	g.Go(func() error {
		var err error
		forecast, err = s.client.Forecast(gctx, s.cfg.Location, s.cfg.ForecastSpan)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Debug("forecast fetched", logx.Int("points", len(forecast)))
	s.publishUpdate(current)
	s.mu.Lock()
	s.lastObs = &current
	s.mu.Unlock()
	return nil
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

		current, err := s.client.Current(ctx, s.cfg.Location)
		if err != nil {
			s.log.Warn("weather poll failed", logx.Err(err))
			interval = s.cfg.ErrorBackoff
			continue
		}
		interval = s.cfg.PollInterval

		s.mu.Lock()
		old := s.lastObs
		s.lastObs = &current
		s.mu.Unlock()

		s.publishUpdate(current)
		if old != nil {
			s.checkChanges(*old, current)
		}
	}
}

func (s *Service) publishUpdate(o Observation) {
	e := event.New(event.TypeWeatherUpdate, event.PriorityLow, "weather_connector", event.Payload{
		"detailed_status": o.DetailedStatus,
		"temperature":     o.Temperature,
		"humidity":        o.Humidity,
		"wind":            o.Wind,
	})
	if err := s.bus.Publish(e); err != nil {
		s.log.Warn("weather update publish failed", logx.Err(err))
	}
}

// checkChanges compares consecutive observations and raises at most one
// alert: precipitation starting, a storm rolling in, or a temperature
// swing of more than ten degrees.
func (s *Service) checkChanges(old, cur Observation) {
	oldStatus := strings.ToLower(old.DetailedStatus)
	newStatus := strings.ToLower(cur.DetailedStatus)

	var (
		alertType   string
		description string
		severity    int
	)

	switch {
	case hasAny(newStatus, "rain", "shower") && !hasAny(oldStatus, "rain", "shower"):
		alertType = "RAIN_STARTING"
		description = "Rain is expected to start soon"
		severity = 1
	case strings.Contains(newStatus, "snow") && !strings.Contains(oldStatus, "snow"):
		alertType = "SNOW_STARTING"
		description = "Snow is expected soon"
		severity = 2
	case hasAny(newStatus, "thunder", "storm") && !hasAny(oldStatus, "thunder", "storm"):
		alertType = "THUNDERSTORM_STARTING"
		description = "Thunderstorms are expected soon"
		severity = 2
	}

	if delta := cur.Temperature - old.Temperature; delta > 10 || delta < -10 {
		if delta > 0 {
			alertType = "TEMPERATURE_RISE"
			description = fmt.Sprintf("Temperature rising sharply: %d°C to %d°C", int(old.Temperature), int(cur.Temperature))
		} else {
			alertType = "TEMPERATURE_DROP"
			description = fmt.Sprintf("Temperature dropping sharply: %d°C to %d°C", int(old.Temperature), int(cur.Temperature))
		}
		severity = 1
		if delta > 15 || delta < -15 {
			severity = 2
		}
	}

	if alertType == "" {
		return
	}

	if err := s.bus.Publish(event.WeatherAlert(alertType, description, severity)); err != nil {
		s.log.Warn("weather alert publish failed", logx.Err(err))
		return
	}
	s.log.Info("weather alert published",
		logx.String("alert", alertType), logx.Int("severity", severity))
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
