// Package telemetry implements the event sink the trading core emits into.
// Every event is logged; when a Redis event bus is configured the event is
// also published for external consumers.
package telemetry

import (
	"context"
	"log/slog"
)

// Publisher is the optional fan-out target. Implemented by redis.EventBus.
type Publisher interface {
	Publish(ctx context.Context, event string, fields map[string]any) error
}

// Emitter implements domain.EventSink.
type Emitter struct {
	logger *slog.Logger
	bus    Publisher // optional
}

// NewEmitter creates an Emitter. bus may be nil.
func NewEmitter(logger *slog.Logger, bus Publisher) *Emitter {
	return &Emitter{
		logger: logger.With(slog.String("component", "telemetry")),
		bus:    bus,
	}
}

// Emit records one structured event. Bus publication is best-effort; a
// publish failure is logged and never propagated to the emitting caller.
func (e *Emitter) Emit(ctx context.Context, event string, fields map[string]any) {
	attrs := make([]any, 0, len(fields)+1)
	attrs = append(attrs, slog.String("event", event))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	e.logger.InfoContext(ctx, "event", attrs...)

	if e.bus != nil {
		if err := e.bus.Publish(ctx, event, fields); err != nil {
			e.logger.Warn("event publish failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
