package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"angeld/internal/config"
	"angeld/pkg/logx"
)

// CheckFunc is one rule check fired by a trigger.
type CheckFunc func(ctx context.Context) error

// DailyTrigger fires a check once per day at a fixed local wall-clock time.
type DailyTrigger struct {
	Category string
	Hour     int
	Minute   int
	Check    CheckFunc
}

// NewDailyTrigger parses "HH:MM" and binds it to a check.
func NewDailyTrigger(category, hhmm string, check CheckFunc) (DailyTrigger, error) {
	h, m, err := config.ParseHHMM(hhmm)
	if err != nil {
		return DailyTrigger{}, fmt.Errorf("trigger %s: %w", category, err)
	}
	return DailyTrigger{Category: category, Hour: h, Minute: m, Check: check}, nil
}

func (t DailyTrigger) name() string {
	return fmt.Sprintf("%s@%02d:%02d", t.Category, t.Hour, t.Minute)
}

// NextOccurrence computes the earliest instant strictly in the future at
// which the trigger's wall-clock time occurs: today if not yet passed,
// otherwise tomorrow. A process resumed after a long pause therefore
// skips missed fires instead of queueing them.
func NextOccurrence(now time.Time, hour, minute int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

// runTrigger is the per-trigger loop: compute next fire instant, sleep
// until it, fire, settle, re-arm. Failures are logged and the loop
// continues; each trigger is independent of the others.
func (s *Service) runTrigger(ctx context.Context, stopCh <-chan struct{}, t DailyTrigger) {
	for {
		now := s.clk.Now()
		next := NextOccurrence(now, t.Hour, t.Minute)
		wait := next.Sub(now)
		s.log.Debug("trigger armed", logx.String("trigger", t.name()), logx.Time("next", next), logx.Duration("wait", wait))

		s.noteNext(t.name(), next)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.clk.After(wait):
		}

		// Re-check: a stop racing the timer must win.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		s.fire(ctx, t)

		// Settle before recomputing so the check cannot fire twice if the
		// recomputation races the same wall-clock minute.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.clk.After(s.settle):
		}
	}
}

func (s *Service) fire(ctx context.Context, t DailyTrigger) {
	start := s.clk.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("trigger check panicked",
				logx.String("trigger", t.name()), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := t.Check(ctx); err != nil {
		s.log.Warn("trigger check failed", logx.String("trigger", t.name()), logx.Err(err))
		return
	}
	s.log.Info("trigger fired", logx.String("trigger", t.name()), logx.Duration("dur", s.clk.Now().Sub(start)))
}
