// Package sink provides eventpublisher.Sink implementations.
package sink

import (
	"context"
	"log/slog"

	"github.com/wisbric/neocache/pkg/eventpublisher"
)

// LogSink writes each event as a structured log line. Useful as a default
// or as a debugging companion to a real sink.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, events []eventpublisher.Event) error {
	for _, e := range events {
		s.logger.Info("cache event", "kind", e.Kind, "key", e.Key, "namespace", e.Namespace,
			"miss_reason", e.MissReason, "invalidation_reason", e.InvalidationReason, "expiry_trigger", e.ExpiryTrigger)
	}
	return nil
}
