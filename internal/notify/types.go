package notify

import (
	"time"

	"angeld/internal/event"
)

// Notification is the unit handed to sinks. The presentation layer
// decides how it reaches the user; this package only orders, paces and
// deduplicates the stream.
type Notification struct {
	ID        string        `json:"id"`
	Category  string        `json:"category"`
	Message   string        `json:"message"`
	Priority  event.Priority `json:"-"`
	EventID   string        `json:"event_id,omitempty"`
	Meta      event.Payload `json:"metadata,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Config tunes the delivery pipeline.
type Config struct {
	Workers   int
	QueueSize int
	// RatePerSec caps deliveries across all workers.
	RatePerSec int
	// DedupWindow suppresses a repeat of the same (category, message)
	// pair inside the window. Zero disables dedup.
	DedupWindow     time.Duration
	DedupMaxEntries int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	HistorySize     int
}

// HistoryItem records a delivered notification for the status surface.
type HistoryItem struct {
	At       time.Time `json:"at"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
}

// Snapshot reports pipeline state for GET /api/status.
type Snapshot struct {
	Running   bool          `json:"running"`
	QueueLen  int           `json:"queue_len"`
	Delivered uint64        `json:"delivered"`
	Deduped   uint64        `json:"deduped"`
	Dropped   uint64        `json:"dropped"`
	Failed    uint64        `json:"failed"`
	History   []HistoryItem `json:"history,omitempty"`
}
