package transcript

import (
	"context"
	"log/slog"
)

// LogSink writes records to a structured logger. It is the default when no
// external store is configured.
type LogSink struct {
	log   *slog.Logger
	level slog.Level
}

var _ Sink = (*LogSink)(nil)

// NewLogSink returns a LogSink writing at level.
func NewLogSink(log *slog.Logger, level slog.Level) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log, level: level}
}

// Save implements [Sink].
func (s *LogSink) Save(ctx context.Context, rec Record) error {
	s.log.Log(ctx, s.level, "call transcript",
		"call_id", rec.CallID,
		"tenant_id", rec.TenantID,
		"end_reason", rec.EndReason,
		"duration", rec.EndedAt.Sub(rec.StartedAt),
		"entries", len(rec.Entries),
	)
	for _, e := range rec.Entries {
		s.log.Log(ctx, s.level, "transcript entry",
			"call_id", rec.CallID,
			"speaker", string(e.Speaker),
			"text", e.Text,
			"at", e.Timestamp,
		)
	}
	return nil
}
