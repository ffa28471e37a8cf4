package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	rtsup "angeld/internal/runtime/supervisor"
	"angeld/pkg/logx"
)

var ErrNotRunning = errors.New("scheduler not running")

// settleDelay keeps a fired trigger from re-arming inside the same
// wall-clock minute.
const settleDelay = 60 * time.Second

type Config struct {
	// SettleDelay overrides the post-fire delay (tests). Zero keeps the default.
	SettleDelay time.Duration
	// StopGrace bounds how long Stop waits for trigger loops.
	StopGrace time.Duration
}

type intervalDef struct {
	name  string
	every time.Duration
	job   func(ctx context.Context)
}

// Service runs the daily wall-clock triggers and a cron-backed runner
// for fixed-interval maintenance jobs (context refresh, connector polls).
//
// Daily triggers deliberately do not go through cron: the explicit
// "compute next instant, sleep, fire, settle" loop keeps skip-on-miss
// behavior deterministic and testable with an injected clock.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	clk Clock

	settle time.Duration
	grace  time.Duration

	triggers  []DailyTrigger
	intervals []intervalDef

	c        *cron.Cron
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	// nextMu guards the next-fire map exposed via Snapshot.
	nextMu sync.Mutex
	next   map[string]time.Time
}

type Option func(*Service)

func WithClock(clk Clock) Option {
	return func(s *Service) { s.clk = clk }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = settleDelay
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	s := &Service{
		log:    log,
		clk:    SystemClock,
		settle: settle,
		grace:  grace,
		next:   map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddDaily registers a daily trigger. Registration before Start is the
// normal path; adding to a running service spawns the loop immediately.
func (s *Service) AddDaily(category, hhmm string, check CheckFunc) error {
	t, err := NewDailyTrigger(category, hhmm, check)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, t)
	if s.stopCh != nil && s.stopDone == nil {
		s.spawnTriggerLocked(t)
	}
	return nil
}

// AddInterval registers a fixed-rate job on the cron runner.
func (s *Service) AddInterval(name string, every time.Duration, job func(ctx context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("interval %s: non-positive period", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := intervalDef{name: name, every: every, job: job}
	s.intervals = append(s.intervals, d)
	if s.c != nil {
		return s.addIntervalLocked(d)
	}
	return nil
}

func (s *Service) addIntervalLocked(d intervalDef) error {
	spec := fmt.Sprintf("@every %s", d.every)
	_, err := s.c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("interval job panicked",
					logx.String("job", d.name), logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		sup := s.currentSup()
		if sup == nil {
			return
		}
		d.job(sup.Context())
	})
	if err != nil {
		return fmt.Errorf("interval %s: %w", d.name, err)
	}
	return nil
}

func (s *Service) currentSup() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) spawnTriggerLocked(t DailyTrigger) {
	stopCh := s.stopCh
	s.sup.Go0("schedule."+t.name(), func(ctx context.Context) {
		s.runTrigger(ctx, stopCh, t)
	})
}

// Start arms every registered trigger and starts the interval runner.
// Idempotent; restart after Stop computes a fresh schedule from the
// current time.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	for _, t := range s.triggers {
		s.spawnTriggerLocked(t)
	}

	s.c = cron.New()
	for _, d := range s.intervals {
		if err := s.addIntervalLocked(d); err != nil {
			s.log.Error("interval registration failed", logx.String("job", d.name), logx.Err(err))
		}
	}
	s.c.Start()

	s.log.Info("scheduler started",
		logx.Int("daily_triggers", len(s.triggers)), logx.Int("interval_jobs", len(s.intervals)))
}

// Stop cancels in-flight waits and waits (bounded) for loops to exit.
// Idempotent.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	c := s.c
	sup := s.sup
	grace := s.grace
	s.mu.Unlock()

	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}

	go func() {
		sup.Stop(grace)
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.c = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("scheduler stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) noteNext(name string, at time.Time) {
	s.nextMu.Lock()
	s.next[name] = at
	s.nextMu.Unlock()
}

// TriggerInfo describes one armed trigger for the status surface.
type TriggerInfo struct {
	Name string    `json:"name"`
	Next time.Time `json:"next,omitzero"`
}

type Snapshot struct {
	Running      bool          `json:"running"`
	Triggers     []TriggerInfo `json:"triggers"`
	IntervalJobs int           `json:"interval_jobs"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.stopCh != nil && s.stopDone == nil
	triggers := append([]DailyTrigger(nil), s.triggers...)
	intervals := len(s.intervals)
	s.mu.Unlock()

	snap := Snapshot{Running: running, IntervalJobs: intervals}
	s.nextMu.Lock()
	for _, t := range triggers {
		snap.Triggers = append(snap.Triggers, TriggerInfo{Name: t.name(), Next: s.next[t.name()]})
	}
	s.nextMu.Unlock()
	return snap
}
