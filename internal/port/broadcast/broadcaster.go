// Package broadcast defines the port for fanning out store mutations to
// connected dashboard clients.
package broadcast

import (
	"context"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/timeline"
)

// Notifier receives every store mutation and routes it to the right
// connections. Implementations must never block the caller: delivery
// failures are local to a connection and are not surfaced to producers.
type Notifier interface {
	// EventStored announces a newly appended event.
	EventStored(ctx context.Context, ev *event.HookEvent)

	// AgentRegistered announces a new subagent registry row.
	AgentRegistered(ctx context.Context, rec *agent.Record)

	// AgentUpdated announces a registry mutation. statusChanged selects
	// the status-update message type over the data-update one.
	AgentUpdated(ctx context.Context, rec *agent.Record, statusChanged bool)

	// MessageStored announces a new inter-agent message.
	MessageStored(ctx context.Context, msg *message.Message)
}

// Phase is one slice of a progressive timeline replay: the structural
// layer first, then path batches, then message batches.
type Phase struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload"`
	Done      bool   `json:"done"`
}

// Replay phase kinds, in delivery priority order.
const (
	PhaseLanes    = "timeline_lanes"
	PhasePaths    = "timeline_paths"
	PhaseMessages = "timeline_messages"
)

// TimelineSink receives scheduler output. Implementations route data to
// the subscribed connections and never block the scheduler.
type TimelineSink interface {
	// ActiveSessions returns the session ids with at least one scoped
	// subscriber.
	ActiveSessions() []string

	// TimelineUpdated ships a freshly recomputed timeline to every
	// subscriber of the session.
	TimelineUpdated(sessionID string, data *timeline.TimelineData)

	// DeliverPhase sends one replay phase to a single connection.
	// It reports false when the connection is gone, which cancels the
	// remainder of that replay.
	DeliverPhase(connID string, phase Phase) bool
}
