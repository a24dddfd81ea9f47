package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/instituteops/approvalflow/internal/application/port"
)

// Dispatcher fans transition events out to all registered sinks.
// A failing sink is logged and skipped; the dispatcher itself never
// returns an error so workflow transitions cannot be affected.
type Dispatcher struct {
	sinks  []port.Notifier
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over the given sinks
func NewDispatcher(logger *zap.Logger, sinks ...port.Notifier) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: logger,
	}
}

// Notify delivers the event to every sink
func (d *Dispatcher) Notify(ctx context.Context, event port.TransitionEvent) error {
	for _, sink := range d.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			d.logger.Warn("Notification sink failed",
				zap.String("request_id", event.RequestID),
				zap.String("action", event.Action.String()),
				zap.Error(err))
		}
	}
	return nil
}

// ZapSink logs transition events; it is always registered so every
// transition leaves a structured log line even with no external sink
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a logging sink
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// Notify logs the transition event
func (s *ZapSink) Notify(ctx context.Context, event port.TransitionEvent) error {
	s.logger.Info("Workflow transition",
		zap.String("request_id", event.RequestID),
		zap.String("kind", event.Kind),
		zap.String("action", event.Action.String()),
		zap.String("status", event.Status.String()),
		zap.String("from_role", event.FromRole),
		zap.String("to_role", event.ToRole),
		zap.String("actor", event.Actor))
	return nil
}
