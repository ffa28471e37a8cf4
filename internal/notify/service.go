// Package notify is the async delivery pipeline between the event bus
// and the presentation layer: queue, worker pool, rate limit, retry and
// a dedup window.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	rtsup "angeld/internal/runtime/supervisor"
	"angeld/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify stopped")
)

type job struct {
	n Notification
	// dedupKey is computed at enqueue time for cheap worker processing.
	dedupKey string
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// Dedup cache: key -> suppress until.
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	delivered atomic.Uint64
	deduped   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config, log logx.Logger, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if len(sinks) == 0 {
		sinks = []Sink{NewLogSink(log)}
	}
	s := &Service{
		log:   log,
		sinks: sinks,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 512
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent. If a Stop is in flight it waits for it first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notify"))),
		// Delivery failures must not take down the daemon.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.Go(name, func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Info("notify pipeline started", logx.Int("workers", workers))
}

// Stop blocks new intake and drains the queue best-effort until ctx
// expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
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
	s.accepting = false
	s.mu.Unlock()

	// Shutdown runs asynchronously so callers can time out cleanly.
	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			sup.Wait(5 * time.Second)
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Stop(0)
		}
	}
}

// Enqueue queues a notification for delivery. It returns nil when the
// notification was accepted or suppressed by dedup, ErrStopped when the
// pipeline is not accepting, and ErrQueueFull when the queue is at
// capacity.
func (s *Service) Enqueue(ctx context.Context, n Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window, maxEntries) {
		s.deduped.Add(1)
		s.log.Debug("notification deduped",
			logx.String("category", n.Category), logx.String("key", key))
		return nil
	}

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.dropped.Add(1)
		s.log.Warn("notification dropped, queue full",
			logx.String("category", n.Category))
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.queue != nil
	var qlen int
	if s.queue != nil {
		qlen = len(s.queue)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		Running:   running,
		QueueLen:  qlen,
		Delivered: s.delivered.Load(),
		Deduped:   s.deduped.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
		History:   hist,
	}
}

func (s *Service) appendHistory(n Notification) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Category: n.Category, Message: n.Message})
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliverWithRetry(ctx, j)
		}
	}
}

func (s *Service) deliverWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sinks := s.sinks
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var ok bool
	for _, sink := range sinks {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if err := lim.Wait(ctx); err != nil {
				return
			}

			callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := sink.Deliver(callCtx, j.n)
			cancel()
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
			s.log.Debug("notification delivery failed",
				logx.String("sink", sink.Name()),
				logx.Int("attempt", attempt),
				logx.Err(err))

			if attempt >= maxAttempts {
				break
			}
			delay := retryDelay(cfg, attempt)
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				if !t.Stop() {
					<-t.C
				}
				return
			}
		}
		if lastErr != nil {
			s.failed.Add(1)
			s.log.Error("notification delivery gave up",
				logx.String("sink", sink.Name()),
				logx.String("id", j.n.ID),
				logx.Err(lastErr))
			continue
		}
		ok = true
	}

	if ok {
		s.delivered.Add(1)
		s.appendHistory(j.n)
	}
}

func dedupKey(n Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Category))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.Message))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}

	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
