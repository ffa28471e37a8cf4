package config

import (
	"fmt"
	"strings"
)

// Config is the full angeld configuration. YAML and JSON files are both
// accepted; unknown fields are rejected so typos fail loudly at load time.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Bus     BusConfig     `json:"bus"`
	Context ContextConfig `json:"context"`

	Recommendations RecommendationsConfig `json:"recommendations"`

	Notify     NotifyConfig     `json:"notify"`
	Server     ServerConfig     `json:"server"`
	Connectors ConnectorsConfig `json:"connectors"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`   // trace|debug|info|warn|error
	Console *bool  `json:"console,omitempty"` // default true
	File    string `json:"file,omitempty"`    // path; empty disables the file sink
}

func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

type BusConfig struct {
	HistorySize int `json:"history_size,omitempty"` // default 100
	QueueSize   int `json:"queue_size,omitempty"`   // default 256
}

// ContextConfig controls the rolling context store.
//
// RefreshInterval is a Go duration string (e.g. "5m").
type ContextConfig struct {
	RefreshInterval string `json:"refresh_interval,omitempty"` // default "5m"
}

// RecommendationsConfig lists the daily check points and cooldown
// overrides for the rule engine.
//
// Times are local "HH:MM". Cooldowns maps a recommendation category to a
// Go duration string; categories without an entry use built-in defaults
// (medication 1h, meal 2h, activity 1h, weather 3h, everything else 30m).
type RecommendationsConfig struct {
	MedicationTimes []string          `json:"medication_times,omitempty"`
	MealTimes       []string          `json:"meal_times,omitempty"`
	WeatherTimes    []string          `json:"weather_check_times,omitempty"`
	Cooldowns       map[string]string `json:"cooldowns,omitempty"`
}

// NotifyConfig controls the delivery pipeline toward the presentation
// layer. Durations are Go duration strings.
type NotifyConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"` // default true
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

func (c NotifyConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ServerConfig controls the REST facade.
//
// Token, when set, is required as a Bearer token on /api routes.
// Prefer binding to localhost.
type ServerConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Addr    string `json:"addr,omitempty"`    // default "127.0.0.1:8000"
	Token   string `json:"token,omitempty"`   // do not log
}

func (c ServerConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

type ConnectorsConfig struct {
	Activity ActivityConnectorConfig `json:"activity"`
	Weather  WeatherConnectorConfig  `json:"weather"`
}

// ActivityConnectorConfig points at the activity capture service.
type ActivityConnectorConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"` // default "10s"
}

type WeatherConnectorConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url,omitempty"` // provider base URL
	APIKey       string `json:"api_key,omitempty"`
	Location     string `json:"location,omitempty"`      // e.g. "Paris,FR"
	PollInterval string `json:"poll_interval,omitempty"` // default "1h"
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	var problems []string

	for _, f := range []struct {
		name  string
		times []string
	}{
		{"recommendations.medication_times", c.Recommendations.MedicationTimes},
		{"recommendations.meal_times", c.Recommendations.MealTimes},
		{"recommendations.weather_check_times", c.Recommendations.WeatherTimes},
	} {
		for _, t := range f.times {
			if _, _, err := ParseHHMM(t); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", f.name, err))
			}
		}
	}

	for cat, raw := range c.Recommendations.Cooldowns {
		if _, err := ParseDurationField("recommendations.cooldowns."+cat, raw); err != nil {
			problems = append(problems, err.Error())
		}
	}
	for _, d := range []struct{ path, raw string }{
		{"context.refresh_interval", c.Context.RefreshInterval},
		{"notify.dedup_window", c.Notify.DedupWindow},
		{"connectors.activity.poll_interval", c.Connectors.Activity.PollInterval},
		{"connectors.weather.poll_interval", c.Connectors.Weather.PollInterval},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if c.Connectors.Activity.Enabled && strings.TrimSpace(c.Connectors.Activity.URL) == "" {
		problems = append(problems, "connectors.activity.url is required when the connector is enabled")
	}
	if c.Connectors.Weather.Enabled && strings.TrimSpace(c.Connectors.Weather.APIKey) == "" {
		problems = append(problems, "connectors.weather.api_key is required when the connector is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Default times mirror the shipped defaults of the original service.
var (
	DefaultMedicationTimes = []string{"08:00", "12:00", "18:00", "22:00"}
	DefaultMealTimes       = []string{"07:30", "12:30", "19:00"}
	DefaultWeatherTimes    = []string{"07:00", "12:00", "18:00"}
)

// Normalize fills defaulted sections in place. Safe to call repeatedly.
func (c *Config) Normalize() {
	if c.Recommendations.MedicationTimes == nil {
		c.Recommendations.MedicationTimes = append([]string(nil), DefaultMedicationTimes...)
	}
	if c.Recommendations.MealTimes == nil {
		c.Recommendations.MealTimes = append([]string(nil), DefaultMealTimes...)
	}
	if c.Recommendations.WeatherTimes == nil {
		c.Recommendations.WeatherTimes = append([]string(nil), DefaultWeatherTimes...)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = "127.0.0.1:8000"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}
