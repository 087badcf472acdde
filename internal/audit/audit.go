package audit

import (
	"context"
	"log/slog"

	"instaq/internal/metrics"
	"instaq/internal/queue"
)

// Run drains events and writes one structured audit line per event until the
// channel closes or ctx ends. It returns the number of events handled.
func Run(ctx context.Context, events <-chan queue.Event, m *metrics.Metrics, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	handled := 0
	for {
		select {
		case <-ctx.Done():
			return handled
		case evt, ok := <-events:
			if !ok {
				return handled
			}
			Record(evt, m, logger)
			handled++
		}
	}
}

// Record writes a single event to the audit log.
func Record(evt queue.Event, m *metrics.Metrics, logger *slog.Logger) {
	attrs := []any{
		"type", evt.Type,
		"record_id", evt.RecordID,
		"actor_id", evt.ActorID,
		"at", evt.At,
	}
	switch evt.Type {
	case queue.EventScanned:
		attrs = append(attrs, "members", evt.Members, "children", evt.Children, "adults", evt.Members-evt.Children)
	case queue.EventStatusChanged:
		attrs = append(attrs, "status", evt.Status)
	case queue.EventDeleted:
	default:
		logger.Warn("audit: unknown event type", attrs...)
		return
	}
	logger.Info("audit", attrs...)
	if m != nil {
		m.EventsAudited.WithLabelValues(evt.Type).Inc()
	}
}
