package recommend

import (
	"sync"
	"time"
)

// Recommendation categories. Each category cools down independently.
const (
	CategoryMedication         = "medication"
	CategoryMeal               = "meal"
	CategoryWeather            = "weather"
	CategoryActivity           = "activity_suggestion"
	CategoryMedicationWithMeal = "medication_with_meal"
	CategoryCommunication      = "communication"
	CategoryWeatherAlert       = "weather_alert"
)

// defaultCooldown applies to any category without a configured minimum.
const defaultCooldown = 30 * time.Minute

// defaultCooldowns mirror the intervals shipped with the original
// service. Note that activity suggestions key on their own category and
// therefore fall back to the 30m default, as the original did.
var defaultCooldowns = map[string]time.Duration{
	CategoryMedication: 60 * time.Minute,
	CategoryMeal:       120 * time.Minute,
	"activity":         60 * time.Minute,
	CategoryWeather:    180 * time.Minute,
}

// cooldowns tracks per-category last-emission timestamps and answers
// whether a category may fire again.
type cooldowns struct {
	mu   sync.Mutex
	last map[string]time.Time
	min  map[string]time.Duration
}

func newCooldowns(overrides map[string]time.Duration) *cooldowns {
	min := make(map[string]time.Duration, len(defaultCooldowns)+len(overrides))
	for k, v := range defaultCooldowns {
		min[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			min[k] = v
		}
	}
	return &cooldowns{
		last: map[string]time.Time{},
		min:  min,
	}
}

// setOverrides replaces configured minimums (hot reload); recorded
// last-fire timestamps are kept.
func (c *cooldowns) setOverrides(overrides map[string]time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	min := make(map[string]time.Duration, len(defaultCooldowns)+len(overrides))
	for k, v := range defaultCooldowns {
		min[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			min[k] = v
		}
	}
	c.min = min
}

// allow reports whether category may emit at time now: no prior emission,
// or the per-category minimum interval has elapsed.
func (c *cooldowns) allow(category string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[category]
	if !ok {
		return true
	}
	min, ok := c.min[category]
	if !ok {
		min = defaultCooldown
	}
	return now.Sub(last) >= min
}

// note records an emission for category at time now.
func (c *cooldowns) note(category string, now time.Time) {
	c.mu.Lock()
	c.last[category] = now
	c.mu.Unlock()
}

// snapshot copies the last-fire map for the status surface.
func (c *cooldowns) snapshot() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}
