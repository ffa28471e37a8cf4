package eventbus

import (
	"sync"
	"time"

	"angeld/internal/event"
)

const defaultQueryLimit = 50

// history is a fixed-capacity ring of recent events. Oldest entries are
// evicted once capacity is exceeded.
type history struct {
	mu   sync.Mutex
	buf  []event.Event
	next int // write index
	full bool
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 100
	}
	return &history{buf: make([]event.Event, capacity)}
}

func (h *history) append(e event.Event) {
	h.mu.Lock()
	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// query walks newest to oldest, applying the optional filters.
func (h *history) query(t *event.Type, since *time.Time, limit int) []event.Event {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.buf)
	}

	out := make([]event.Event, 0, min(limit, n))
	for i := 0; i < n && len(out) < limit; i++ {
		// Newest first: step backwards from the last written slot.
		idx := (h.next - 1 - i + len(h.buf)*2) % len(h.buf)
		e := h.buf[idx]
		if t != nil && e.Type != *t {
			continue
		}
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
