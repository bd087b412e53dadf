package audit

import (
	"context"
	"log/slog"

	"github.com/bastion-gate/bastion/internal/domain/audit"
)

// LogSink emits security events through a slog.Logger instead of a
// dedicated egress. Useful when the process logs are already shipped
// somewhere durable.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Append logs each event at info level.
func (s *LogSink) Append(ctx context.Context, events ...audit.Event) error {
	for _, e := range events {
		s.logger.InfoContext(ctx, "security event",
			"id", e.ID,
			"kind", e.Kind,
			"principal", e.Principal,
			"provider", e.Provider,
			"source_ip", e.SourceIP,
			"operation", e.Operation,
			"decision", e.Decision,
			"reason", e.Reason,
		)
	}
	return nil
}

// Flush is a no-op; the logger writes through.
func (s *LogSink) Flush(ctx context.Context) error { return nil }

// Close is a no-op; the sink does not own the logger.
func (s *LogSink) Close() error { return nil }
