// Package session defines derived per-session views. Sessions have no row
// of their own; they exist as the set of events and agent records sharing a
// session_id.
package session

import (
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
)

// Status summarizes where a session is in its lifecycle.
type Status string

const (
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Summary is the cached per-session aggregate. Agents and Messages are
// detail arrays; the cache drops them for idle sessions and recomputes on
// demand.
type Summary struct {
	SessionID      string        `json:"session_id"`
	AgentCount     int           `json:"agent_count"`
	EventCount     int           `json:"event_count"`
	FirstAgentTime *time.Time    `json:"first_agent_time,omitempty"`
	LastActivity   time.Time     `json:"last_activity"`
	Status         Status        `json:"status"`
	Duration       time.Duration `json:"duration"`
	TotalTokens    int64         `json:"total_tokens"`
	TotalToolUses  int64         `json:"total_tool_use_count"`

	Agents   []agent.Record    `json:"agents,omitempty"`
	Messages []message.Message `json:"messages,omitempty"`

	// HasDetail reports whether the detail arrays are populated. A
	// downgraded entry keeps the aggregate fields only.
	HasDetail bool `json:"-"`
}

// Derive computes a Summary from a session's agent records and event
// bounds. Status is completed only when every agent reached a terminal
// state; any failure marks the session failed.
func Derive(sessionID string, agents []agent.Record, msgs []message.Message, eventCount int, firstEvent, lastEvent time.Time) *Summary {
	s := &Summary{
		SessionID:  sessionID,
		AgentCount: len(agents),
		EventCount: eventCount,
		Status:     StatusCompleted,
		Agents:     agents,
		Messages:   msgs,
		HasDetail:  true,
	}

	if len(agents) == 0 && eventCount == 0 {
		s.Status = StatusWorking
		return s
	}

	first := firstEvent
	last := lastEvent
	for i := range agents {
		a := &agents[i]
		if s.FirstAgentTime == nil || a.CreatedAt.Before(*s.FirstAgentTime) {
			t := a.CreatedAt
			s.FirstAgentTime = &t
		}
		if first.IsZero() || a.CreatedAt.Before(first) {
			first = a.CreatedAt
		}
		end := a.CreatedAt
		if a.CompletedAt != nil {
			end = *a.CompletedAt
		}
		if end.After(last) {
			last = end
		}
		s.TotalTokens += a.TotalTokens
		s.TotalToolUses += a.TotalToolUses

		switch a.Status {
		case agent.StatusActive:
			s.Status = StatusWorking
		case agent.StatusFailed, agent.StatusTerminated:
			if s.Status != StatusWorking {
				s.Status = StatusFailed
			}
		}
	}
	if len(agents) == 0 {
		s.Status = StatusWorking
	}

	s.LastActivity = last
	if !first.IsZero() && last.After(first) {
		s.Duration = last.Sub(first)
	}
	return s
}

// DropDetail returns a copy without the per-agent and per-message arrays.
func (s *Summary) DropDetail() *Summary {
	cp := *s
	cp.Agents = nil
	cp.Messages = nil
	cp.HasDetail = false
	return &cp
}

// WindowQuery selects sessions whose activity overlaps [Start, End).
type WindowQuery struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Limit int       `json:"limit"`
}

// Comparison pairs summaries for the compare endpoint.
type Comparison struct {
	Sessions []*Summary `json:"sessions"`
}
