// Package event defines the immutable hook event entity.
package event

import (
	"encoding/json"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
)

// Well-known hook event types emitted by agent sessions. The store never
// interprets payloads; these constants exist for filtering and tests.
const (
	TypePreToolUse   = "PreToolUse"
	TypePostToolUse  = "PostToolUse"
	TypeNotification = "Notification"
	TypeStop         = "Stop"
	TypeSubagentStop = "SubagentStop"
	TypeUserPrompt   = "UserPromptSubmit"
)

// HookEvent is a single lifecycle event emitted by a coding-agent session.
// ID is assigned on insert and defines a total order that breaks timestamp
// ties.
type HookEvent struct {
	ID            int64           `json:"id"`
	SourceApp     string          `json:"source_app"`
	SessionID     string          `json:"session_id"`
	HookEventType string          `json:"hook_event_type"`
	Payload       json.RawMessage `json:"payload"`
	Chat          json.RawMessage `json:"chat,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate checks the fields required before an append. The payload must be
// present but is otherwise opaque.
func (e *HookEvent) Validate() error {
	switch {
	case e.SourceApp == "":
		return domain.Validation("source_app is required")
	case e.SessionID == "":
		return domain.Validation("session_id is required")
	case e.HookEventType == "":
		return domain.Validation("hook_event_type is required")
	case len(e.Payload) == 0:
		return domain.Validation("payload is required")
	}
	return nil
}
