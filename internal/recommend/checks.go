package recommend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"angeld/internal/config"
	"angeld/internal/event"
	"angeld/pkg/logx"
)

// Rule windows and thresholds.
const (
	// recentMedicationWindow skips a medication reminder when one was
	// already taken this recently.
	recentMedicationWindow = 30 * time.Minute
	// recentMealWindow skips a meal reminder when the user ate this
	// recently.
	recentMealWindow = 60 * time.Minute
	// checkWindow is the tolerance around a configured reminder time
	// inside which a scheduled check still applies.
	checkWindow = 30 * time.Minute
	// mealMedicationWindow pairs a medication reminder with a meal when
	// a configured medication time falls this close to the meal.
	mealMedicationWindow = 60 * time.Minute
	// inactivityThreshold is the idle span required before a meal
	// reminder or activity suggestion is considered.
	inactivityThreshold = 15 * time.Minute
)

// Weather comfort bounds for the outdoor walk suggestion.
const (
	walkTempMin = 15.0
	walkTempMax = 25.0
	coldTemp    = 5.0
	hotTemp     = 30.0
)

var indoorSuggestions = []string{
	"How about reading a book for a while?",
	"This could be a good moment to listen to some music.",
	"Maybe call a friend or family member for a chat?",
	"A few light stretches indoors would do you good.",
	"How about working on a puzzle or a crossword?",
}

type clockTime struct {
	hour, minute int
}

// Times carries the configured reminder schedule the checks validate
// against.
type Times struct {
	Medication []string
	Meal       []string
}

// SetTimes replaces the reminder schedule. Invalid HH:MM entries are
// skipped; config validation reports them before they get here.
func (s *Service) SetTimes(t Times) {
	med := parseTimes(t.Medication)
	meal := parseTimes(t.Meal)
	s.timesMu.Lock()
	s.medTimes = med
	s.mealTimes = meal
	s.timesMu.Unlock()
}

func parseTimes(in []string) []clockTime {
	out := make([]clockTime, 0, len(in))
	for _, v := range in {
		h, m, err := config.ParseHHMM(v)
		if err != nil {
			continue
		}
		out = append(out, clockTime{hour: h, minute: m})
	}
	return out
}

// nearTime reports whether now falls within tol of the given wall-clock
// time, treating the clock as circular across midnight.
func nearTime(now time.Time, ct clockTime, tol time.Duration) bool {
	nowMin := now.Hour()*60 + now.Minute()
	tgtMin := ct.hour*60 + ct.minute
	diff := nowMin - tgtMin
	if diff < 0 {
		diff = -diff
	}
	if wrapped := 24*60 - diff; wrapped < diff {
		diff = wrapped
	}
	return time.Duration(diff)*time.Minute <= tol
}

func (s *Service) nearAny(now time.Time, times []clockTime, tol time.Duration) (clockTime, bool) {
	for _, ct := range times {
		if nearTime(now, ct, tol) {
			return ct, true
		}
	}
	return clockTime{}, false
}

func (s *Service) scheduleTimes() (med, meal []clockTime) {
	s.timesMu.Lock()
	defer s.timesMu.Unlock()
	return s.medTimes, s.mealTimes
}

// CheckMedication runs at each configured medication time. It skips when
// medication was taken within the last half hour or when the check was
// fired outside any configured window.
func (s *Service) CheckMedication(ctx context.Context) error {
	now := s.now()
	med, _ := s.scheduleTimes()
	if _, ok := s.nearAny(now, med, checkWindow); !ok {
		s.log.Debug("medication check outside configured window")
		return nil
	}

	snap := s.store.Snapshot()
	if !snap.LastMedicationAt.IsZero() && now.Sub(snap.LastMedicationAt) < recentMedicationWindow {
		s.log.Debug("medication taken recently, skipping reminder",
			logx.Time("last_medication", snap.LastMedicationAt))
		return nil
	}

	s.emit(CategoryMedication,
		"It's time to take your medication.",
		event.PriorityMedium,
		event.Payload{"scheduled_for": fmt.Sprintf("%02d:%02d", now.Hour(), now.Minute())})
	return nil
}

// mealLabel maps a configured meal hour to its name.
func mealLabel(hour int) string {
	switch {
	case hour >= 6 && hour <= 10:
		return "breakfast"
	case hour >= 11 && hour <= 14:
		return "lunch"
	case hour >= 18 && hour <= 21:
		return "dinner"
	default:
		return "meal"
	}
}

// CheckMeal runs at each configured meal time. It reminds only when the
// user has not eaten within the last hour and has been inactive long
// enough that they likely have not started preparing food.
func (s *Service) CheckMeal(ctx context.Context) error {
	now := s.now()
	_, meal := s.scheduleTimes()
	matched, ok := s.nearAny(now, meal, checkWindow)
	if !ok {
		s.log.Debug("meal check outside configured window")
		return nil
	}

	snap := s.store.Snapshot()
	if !snap.LastMealAt.IsZero() && now.Sub(snap.LastMealAt) < recentMealWindow {
		s.log.Debug("meal eaten recently, skipping reminder",
			logx.Time("last_meal", snap.LastMealAt))
		return nil
	}
	if !snap.InactiveFor(inactivityThreshold, now) {
		s.log.Debug("user recently active, skipping meal reminder")
		return nil
	}

	label := mealLabel(matched.hour)
	s.emit(CategoryMeal,
		fmt.Sprintf("It's time for %s. Don't forget to eat something.", label),
		event.PriorityMedium,
		event.Payload{"meal": label})
	return nil
}

// CheckWeather runs at each configured weather advisory time and emits
// at most one advisory. Branches are evaluated in order and the first
// match wins.
func (s *Service) CheckWeather(ctx context.Context) error {
	snap := s.store.Snapshot()
	if snap.Weather == nil {
		s.log.Debug("no weather observation, skipping advisory check")
		return nil
	}

	w := *snap.Weather
	status := strings.ToLower(w.DetailedStatus)

	var message string
	switch {
	case strings.Contains(status, "rain") || strings.Contains(status, "shower"):
		message = "Rain is expected today. Don't forget your umbrella if you go out."
	case strings.Contains(status, "snow"):
		message = "Snow is expected today. Dress warmly and watch your step outside."
	case w.Temperature < coldTemp:
		message = fmt.Sprintf("It's cold outside (%.0f°C). Dress warmly if you go out.", w.Temperature)
	case w.Temperature > hotTemp:
		message = fmt.Sprintf("It's hot outside (%.0f°C). Remember to drink plenty of water.", w.Temperature)
	default:
		return nil
	}

	s.emit(CategoryWeather, message, event.PriorityMedium, event.Payload{
		"weather_status": w.DetailedStatus,
		"temperature":    w.Temperature,
	})
	return nil
}
