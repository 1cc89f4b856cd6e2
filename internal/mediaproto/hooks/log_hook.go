package hooks

import (
	"context"
	"log/slog"
)

// LogHook emits every event it receives to a structured logger, the
// minimal always-available sink.
type LogHook struct {
	id  string
	log *slog.Logger
}

// NewLogHook constructs a LogHook writing through log.
func NewLogHook(id string, log *slog.Logger) *LogHook {
	return &LogHook{id: id, log: log}
}

// ID implements Hook.
func (h *LogHook) ID() string { return h.id }

// Execute implements Hook: logs the event at debug level.
func (h *LogHook) Execute(_ context.Context, event Event) error {
	h.log.Debug("event",
		"event_type", event.Type,
		"conn_id", event.ConnID,
		"verb", event.Verb,
		"status", event.Status,
	)
	return nil
}
