package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"angeld/internal/event"
	"angeld/pkg/logx"
)

func startBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b := New(cfg, logx.Nop())
	b.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.Stop(ctx)
	})
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestDispatchOrderIsFIFO(t *testing.T) {
	t.Parallel()
	b := startBus(t, Config{})

	var mu sync.Mutex
	var got []string
	b.Subscribe(event.TypeUserActivity, func(_ context.Context, e event.Event) error {
		mu.Lock()
		got = append(got, e.ID)
		mu.Unlock()
		return nil
	})

	want := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		e := event.New(event.TypeUserActivity, event.PriorityLow, "test", nil).WithID(fmt.Sprintf("e%d", i))
		want = append(want, e.ID)
		if err := b.Publish(e); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestTypeHandlersRunBeforePriorityHandlers(t *testing.T) {
	t.Parallel()
	b := startBus(t, Config{})

	var mu sync.Mutex
	var order []string
	b.SubscribeByPriority(event.PriorityHigh, func(context.Context, event.Event) error {
		mu.Lock()
		order = append(order, "priority")
		mu.Unlock()
		return nil
	})
	b.Subscribe(event.TypePhoneCall, func(context.Context, event.Event) error {
		mu.Lock()
		order = append(order, "type")
		mu.Unlock()
		return nil
	})

	if err := b.Publish(event.PhoneCall("ana")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "type" || order[1] != "priority" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestHandlerFailureDoesNotStopDelivery(t *testing.T) {
	t.Parallel()
	b := startBus(t, Config{})

	var mu sync.Mutex
	var calls []string
	b.Subscribe(event.TypeCustom, func(context.Context, event.Event) error {
		mu.Lock()
		calls = append(calls, "boom")
		mu.Unlock()
		return errors.New("boom")
	})
	b.Subscribe(event.TypeCustom, func(context.Context, event.Event) error {
		mu.Lock()
		calls = append(calls, "panic")
		mu.Unlock()
		panic("kaboom")
	})
	b.Subscribe(event.TypeCustom, func(context.Context, event.Event) error {
		mu.Lock()
		calls = append(calls, "ok")
		mu.Unlock()
		return nil
	})

	if err := b.Publish(event.New(event.TypeCustom, event.PriorityLow, "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	if calls[2] != "ok" {
		t.Fatalf("last handler not reached: %v", calls)
	}
}

func TestHistoryRecordedBeforeDispatch(t *testing.T) {
	t.Parallel()
	b := startBus(t, Config{})

	seen := make(chan int, 1)
	b.Subscribe(event.TypeSystemStatus, func(context.Context, event.Event) error {
		seen <- len(b.History(nil, nil, 0))
		return nil
	})

	if err := b.Publish(event.New(event.TypeSystemStatus, event.PriorityLow, "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case n := <-seen:
		if n != 1 {
			t.Fatalf("handler saw %d history entries, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not invoked")
	}
}

func TestPublishAfterStopReturnsErrClosed(t *testing.T) {
	t.Parallel()
	b := New(Config{}, logx.Nop())
	b.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Stop(ctx)

	err := b.Publish(event.New(event.TypeCustom, event.PriorityLow, "test", nil))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPublishQueueFull(t *testing.T) {
	t.Parallel()
	// Never started: build manually so the queue fills without draining.
	b := New(Config{QueueSize: 2}, logx.Nop())
	b.mu.Lock()
	b.stopCh = make(chan struct{})
	b.queue = make(chan event.Event, 2)
	b.mu.Unlock()

	for i := 0; i < 2; i++ {
		if err := b.Publish(event.New(event.TypeCustom, event.PriorityLow, "test", nil)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	err := b.Publish(event.New(event.TypeCustom, event.PriorityLow, "test", nil))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if b.Snapshot().Dropped != 1 {
		t.Fatalf("expected dropped counter of 1")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := startBus(t, Config{})

	var mu sync.Mutex
	count := 0
	sub := b.Subscribe(event.TypeUIInteraction, func(context.Context, event.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	if err := b.Publish(event.New(event.TypeUIInteraction, event.PriorityLow, "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	b.Unsubscribe(sub)
	if err := b.Publish(event.New(event.TypeUIInteraction, event.PriorityLow, "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return b.Snapshot().Dispatched == 2 })

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("handler invoked after unsubscribe: %d", count)
	}
}

func TestStartStopRestart(t *testing.T) {
	t.Parallel()
	b := New(Config{}, logx.Nop())
	ctx := context.Background()

	b.Start(ctx)
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	b.Stop(stopCtx)
	cancel()

	b.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		b.Stop(stopCtx)
	}()

	if err := b.Publish(event.New(event.TypeCustom, event.PriorityLow, "test", nil)); err != nil {
		t.Fatalf("publish after restart: %v", err)
	}
	waitFor(t, func() bool { return b.Snapshot().Dispatched == 1 })
}
