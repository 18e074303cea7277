package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
)

// InstrumentedNotifier counts every mutation flowing to the fan-out layer
// before delegating to the wrapped notifier.
type InstrumentedNotifier struct {
	next    broadcast.Notifier
	metrics *Metrics
}

var _ broadcast.Notifier = (*InstrumentedNotifier)(nil)

// NewInstrumentedNotifier wraps next with mutation counters.
func NewInstrumentedNotifier(next broadcast.Notifier, m *Metrics) *InstrumentedNotifier {
	return &InstrumentedNotifier{next: next, metrics: m}
}

func (n *InstrumentedNotifier) EventStored(ctx context.Context, ev *event.HookEvent) {
	n.metrics.EventsIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("hook_event_type", ev.HookEventType)))
	n.next.EventStored(ctx, ev)
}

func (n *InstrumentedNotifier) AgentRegistered(ctx context.Context, rec *agent.Record) {
	n.metrics.AgentsRegistered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("subagent_type", rec.SubagentType)))
	n.next.AgentRegistered(ctx, rec)
}

func (n *InstrumentedNotifier) AgentUpdated(ctx context.Context, rec *agent.Record, statusChanged bool) {
	n.metrics.AgentUpdates.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", string(rec.Status)),
			attribute.Bool("status_changed", statusChanged),
		))
	n.next.AgentUpdated(ctx, rec, statusChanged)
}

func (n *InstrumentedNotifier) MessageStored(ctx context.Context, msg *message.Message) {
	n.metrics.MessagesStored.Add(ctx, 1)
	n.next.MessageStored(ctx, msg)
}
