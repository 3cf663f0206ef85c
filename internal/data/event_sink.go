package data

import (
	"context"

	"MetaDJ/internal/model"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// LogEventSink records circuit transitions as structured log entries only.
// It is used when no audit database is configured.
type LogEventSink struct {
	logger *pkglog.LogHelper
}

// NewLogEventSink creates a log-only circuit event sink.
func NewLogEventSink(logger log.Logger) *LogEventSink {
	return &LogEventSink{
		logger: pkglog.NewLogHelper(log.With(logger, "module", "data/events")),
	}
}

// Publish logs the event.
func (s *LogEventSink) Publish(_ context.Context, ev *model.CircuitEvent) {
	s.logger.Circuit("circuit "+string(ev.Transition),
		"provider", ev.Provider,
		"from", string(ev.From),
		"to", string(ev.To),
		"consecutive_failures", ev.ConsecutiveFailures,
		"total_failures", ev.TotalFailures,
		"reason", ev.Reason,
		"at", ev.At)
}

// Close is a no-op.
func (s *LogEventSink) Close() {}
