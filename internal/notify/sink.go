package notify

import (
	"context"

	"angeld/internal/event"
	"angeld/pkg/logx"
)

// Sink delivers a notification to the user. Implementations must be
// safe for concurrent use; the pipeline calls Deliver from its worker
// pool.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the structured log. It is the default
// sink when no presentation layer is attached.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	fields := []logx.Field{
		logx.String("id", n.ID),
		logx.String("category", n.Category),
		logx.String("message", n.Message),
	}
	if n.EventID != "" {
		fields = append(fields, logx.String("event_id", n.EventID))
	}
	switch {
	case n.Priority >= event.PriorityHigh:
		s.log.Warn("notification", fields...)
	default:
		s.log.Info("notification", fields...)
	}
	return nil
}
