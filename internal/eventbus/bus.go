package eventbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"angeld/internal/event"
	rtsup "angeld/internal/runtime/supervisor"
	"angeld/pkg/logx"
)

var (
	ErrClosed    = errors.New("event bus closed")
	ErrQueueFull = errors.New("event bus queue full")
)

// Handler processes one event. Handlers run synchronously on the shared
// dispatch loop: anything slow must hand off to its own goroutine.
type Handler func(ctx context.Context, e event.Event) error

// Subscription identifies a registered handler for Unsubscribe.
type Subscription string

type Config struct {
	QueueSize   int
	HistorySize int
	// DrainGrace bounds how long Stop waits for the dispatch loop.
	DrainGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 3 * time.Second
	}
	return c
}

type subscriber struct {
	id Subscription
	fn Handler
}

// Bus accepts events, queues them and dispatches to subscribers.
// Start/Stop are idempotent; the bus can be restarted with a fresh queue.
type Bus struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	queue    chan event.Event
	stopCh   chan struct{}
	stopDone chan struct{} // non-nil while a Stop() is in progress
	sup      *rtsup.Supervisor

	subMu    sync.RWMutex
	typeSubs map[event.Type][]subscriber
	prioSubs map[event.Priority][]subscriber

	hist *history

	// dispatched counts processed events (status surface).
	statMu     sync.Mutex
	dispatched uint64
	dropped    uint64
}

func New(cfg Config, log logx.Logger) *Bus {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{
		cfg:      cfg,
		log:      log,
		typeSubs: map[event.Type][]subscriber{},
		prioSubs: map[event.Priority][]subscriber{},
		hist:     newHistory(cfg.HistorySize),
	}
}

// Start begins the dispatch loop. Calling Start on a running bus is a no-op.
func (b *Bus) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// If a Stop() is in progress, wait for it to complete first.
	for {
		b.mu.Lock()
		if b.stopCh == nil {
			break
		}
		done := b.stopDone
		if done == nil {
			// already running
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer b.mu.Unlock()

	b.stopCh = make(chan struct{})
	b.queue = make(chan event.Event, b.cfg.QueueSize)
	b.sup = rtsup.New(ctx, rtsup.WithLogger(b.log))

	stopCh := b.stopCh
	queue := b.queue
	b.sup.Go0("eventbus.dispatch", func(ctx context.Context) {
		b.dispatchLoop(ctx, stopCh, queue)
	})

	b.log.Info("event bus started", logx.Int("queue_size", b.cfg.QueueSize), logx.Int("history_size", b.cfg.HistorySize))
}

// Stop signals termination, abandons queued events and waits (bounded)
// for the dispatch loop to exit. Stop is idempotent.
func (b *Bus) Stop(ctx context.Context) {
	start := time.Now()
	b.mu.Lock()
	if b.stopCh == nil {
		b.mu.Unlock()
		return
	}
	if b.stopDone != nil {
		done := b.stopDone
		b.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	b.stopDone = done
	stopCh := b.stopCh
	sup := b.sup
	grace := b.cfg.DrainGrace
	b.mu.Unlock()

	close(stopCh)

	go func() {
		sup.Stop(grace)
		b.mu.Lock()
		b.stopCh = nil
		b.queue = nil
		b.sup = nil
		b.stopDone = nil
		b.mu.Unlock()
		close(done)
		b.log.Info("event bus stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Publish enqueues e for dispatch. It returns once the event is queued,
// not once it is delivered. ErrClosed is returned after Stop; ErrQueueFull
// when the bounded queue cannot accept the event.
func (b *Bus) Publish(e event.Event) error {
	b.mu.Lock()
	q := b.queue
	stopCh := b.stopCh
	b.mu.Unlock()
	if q == nil || stopCh == nil {
		return ErrClosed
	}

	select {
	case q <- e:
		return nil
	case <-stopCh:
		return ErrClosed
	default:
	}

	b.statMu.Lock()
	b.dropped++
	b.statMu.Unlock()
	b.log.Warn("event queue full; rejecting event",
		logx.String("type", string(e.Type)), logx.String("id", e.ID),
		logx.Int("queue_cap", cap(q)))
	return ErrQueueFull
}

// Subscribe registers fn for every future event of type t.
// Handlers for the same key run in registration order.
func (b *Bus) Subscribe(t event.Type, fn Handler) Subscription {
	id := Subscription(uuid.NewString())
	b.subMu.Lock()
	b.typeSubs[t] = append(b.typeSubs[t], subscriber{id: id, fn: fn})
	b.subMu.Unlock()
	b.log.Debug("subscribed", logx.String("type", string(t)), logx.String("sub", string(id)))
	return id
}

// SubscribeByPriority registers fn for every future event published at
// priority p, regardless of type.
func (b *Bus) SubscribeByPriority(p event.Priority, fn Handler) Subscription {
	id := Subscription(uuid.NewString())
	b.subMu.Lock()
	b.prioSubs[p] = append(b.prioSubs[p], subscriber{id: id, fn: fn})
	b.subMu.Unlock()
	b.log.Debug("subscribed", logx.String("priority", p.String()), logx.String("sub", string(id)))
	return id
}

// Unsubscribe removes a registration. Removal takes effect for events
// processed after the call returns.
func (b *Bus) Unsubscribe(id Subscription) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for t, subs := range b.typeSubs {
		if cut := removeSub(subs, id); cut != nil {
			b.typeSubs[t] = cut
			return
		}
	}
	for p, subs := range b.prioSubs {
		if cut := removeSub(subs, id); cut != nil {
			b.prioSubs[p] = cut
			return
		}
	}
	b.log.Debug("unsubscribe for unknown subscription", logx.String("sub", string(id)))
}

func removeSub(subs []subscriber, id Subscription) []subscriber {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscriber, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return nil
}

// History returns up to limit retained events, newest first, optionally
// filtered by type and minimum timestamp. A nil type matches all; limit
// <= 0 uses the default of 50.
func (b *Bus) History(t *event.Type, since *time.Time, limit int) []event.Event {
	return b.hist.query(t, since, limit)
}

// Snapshot reports bus state for the status surface.
type Snapshot struct {
	Running    bool   `json:"running"`
	QueueLen   int    `json:"queue_len"`
	QueueCap   int    `json:"queue_cap"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	History    int    `json:"history"`
}

func (b *Bus) Snapshot() Snapshot {
	b.mu.Lock()
	q := b.queue
	running := b.stopCh != nil && b.stopDone == nil
	b.mu.Unlock()
	b.statMu.Lock()
	dispatched, dropped := b.dispatched, b.dropped
	b.statMu.Unlock()

	s := Snapshot{Running: running, Dispatched: dispatched, Dropped: dropped, History: b.hist.len()}
	if q != nil {
		s.QueueLen = len(q)
		s.QueueCap = cap(q)
	}
	return s
}

func (b *Bus) dispatchLoop(ctx context.Context, stopCh <-chan struct{}, queue <-chan event.Event) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case e := <-queue:
			b.process(ctx, e)
		}
	}
}

func (b *Bus) process(ctx context.Context, e event.Event) {
	// History first, so a crashing handler cannot lose the record.
	b.hist.append(e)

	// Snapshot matching handlers so Unsubscribe during dispatch of this
	// event does not shift the slice under us.
	b.subMu.RLock()
	byType := append([]subscriber(nil), b.typeSubs[e.Type]...)
	byPrio := append([]subscriber(nil), b.prioSubs[e.Priority]...)
	b.subMu.RUnlock()

	for _, s := range byType {
		b.invoke(ctx, s, e, "type", string(e.Type))
	}
	for _, s := range byPrio {
		b.invoke(ctx, s, e, "priority", e.Priority.String())
	}

	b.statMu.Lock()
	b.dispatched++
	b.statMu.Unlock()

	b.log.Trace("event dispatched",
		logx.String("type", string(e.Type)), logx.String("priority", e.Priority.String()),
		logx.Int("type_handlers", len(byType)), logx.Int("priority_handlers", len(byPrio)))
}

// invoke runs one handler with panic containment. A failing handler is
// logged and skipped; delivery continues.
func (b *Bus) invoke(ctx context.Context, s subscriber, e event.Event, key, val string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked",
				logx.String(key, val), logx.String("sub", string(s.id)),
				logx.String("event", e.ID), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := s.fn(ctx, e); err != nil {
		b.log.Error("handler failed",
			logx.String(key, val), logx.String("sub", string(s.id)),
			logx.String("event", e.ID), logx.Err(fmt.Errorf("handler: %w", err)))
	}
}
