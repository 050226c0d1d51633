// Package notify implements the notification sinks the engine delivers
// through: a local slog sink that is always available, and a Home Assistant
// sink that calls a notify service over REST. Each notification carries a
// stable per-reminder id so a newer notification replaces the previous one in
// the same slot.
package notify

import (
	"context"
	"log/slog"
)

// LogSink writes notifications to the log. It is the default sink when no
// Home Assistant block is configured, and the delivery of last resort.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{log: logger}
}

// Show logs the notification.
func (s *LogSink) Show(_ context.Context, id int64, title, body string) error {
	s.log.Info("notification", "id", id, "title", title, "body", body)
	return nil
}
