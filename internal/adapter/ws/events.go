package ws

import "encoding/json"

// Message is the envelope for all WebSocket messages in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Server-to-client message types on the firehose connection.
const (
	EventInitial         = "initial"
	EventStored          = "event"
	EventAgentRegistered = "subagent_registered"
	EventAgentMessage    = "subagent_message"
)

// Server-to-client message types on scoped connections. Timeline replay
// phases reuse the phase kind as the message type.
const (
	EventSubscriptionConfirmed = "subscription_confirmed"
	EventSessionEvent          = "session_event"
	EventSessionRegistered     = "agent_registered"
	EventAgentStatusUpdate     = "agent_status_update"
	EventAgentDataUpdate       = "agent_data_updated"
	EventTimelineUpdate        = "timeline_update"
)

// command is a client-to-server request on a scoped connection.
type command struct {
	Action     string   `json:"action"`
	SessionIDs []string `json:"sessionIds"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// subscriptionConfirmed acknowledges a command with the connection's full
// subscription set after the change.
type subscriptionConfirmed struct {
	SessionIDs []string `json:"sessionIds"`
}
