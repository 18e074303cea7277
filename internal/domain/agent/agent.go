// Package agent defines the subagent registry entity and its status machine.
package agent

import (
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
)

// Status is the lifecycle state of a registered subagent.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// MaxTextLen caps initial_prompt and final_response at 1 MiB.
const MaxTextLen = 1 << 20

// Terminal reports whether s is a terminal status. Terminal states never
// revert.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s == StatusActive || s.Terminal()
}

// Record is one row in the subagent registry, uniquely identified by
// (SessionID, Name).
type Record struct {
	ID              int64      `json:"id"`
	SessionID       string     `json:"session_id"`
	Name            string     `json:"name"`
	SubagentType    string     `json:"subagent_type"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TotalDurationMS int64      `json:"total_duration_ms,omitempty"`
	TotalTokens     int64      `json:"total_tokens,omitempty"`
	TotalToolUses   int64      `json:"total_tool_use_count,omitempty"`
	InputTokens     int64      `json:"input_tokens,omitempty"`
	OutputTokens    int64      `json:"output_tokens,omitempty"`
	InitialPrompt   string     `json:"initial_prompt,omitempty"`
	FinalResponse   string     `json:"final_response,omitempty"`
}

// CompletionUpdate is a merge-patch for a Record: only non-nil fields are
// applied.
type CompletionUpdate struct {
	Status          *Status    `json:"status,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TotalDurationMS *int64     `json:"total_duration_ms,omitempty"`
	TotalTokens     *int64     `json:"total_tokens,omitempty"`
	TotalToolUses   *int64     `json:"total_tool_use_count,omitempty"`
	InputTokens     *int64     `json:"input_tokens,omitempty"`
	OutputTokens    *int64     `json:"output_tokens,omitempty"`
	InitialPrompt   *string    `json:"initial_prompt,omitempty"`
	FinalResponse   *string    `json:"final_response,omitempty"`
}

// Validate rejects unknown statuses and oversized text fields before any
// mutation happens.
func (u *CompletionUpdate) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return domain.Validation("unknown status " + string(*u.Status))
	}
	if u.InitialPrompt != nil && len(*u.InitialPrompt) > MaxTextLen {
		return domain.Validation("initial_prompt exceeds 1MiB")
	}
	if u.FinalResponse != nil && len(*u.FinalResponse) > MaxTextLen {
		return domain.Validation("final_response exceeds 1MiB")
	}
	return nil
}

// Apply merges the update into r, enforcing the one-way status machine:
// active may move to any terminal state, a terminal state may only be
// restated, never changed or reverted. Returns ErrInvalidTransition without
// touching r when the transition is illegal.
func (r *Record) Apply(u *CompletionUpdate) error {
	if u.Status != nil && *u.Status != r.Status {
		if r.Status.Terminal() {
			return domain.ErrInvalidTransition
		}
	}

	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.CompletedAt != nil {
		r.CompletedAt = u.CompletedAt
	}
	if u.TotalDurationMS != nil {
		r.TotalDurationMS = *u.TotalDurationMS
	}
	if u.TotalTokens != nil {
		r.TotalTokens = *u.TotalTokens
	}
	if u.TotalToolUses != nil {
		r.TotalToolUses = *u.TotalToolUses
	}
	if u.InputTokens != nil {
		r.InputTokens = *u.InputTokens
	}
	if u.OutputTokens != nil {
		r.OutputTokens = *u.OutputTokens
	}
	if u.InitialPrompt != nil {
		r.InitialPrompt = *u.InitialPrompt
	}
	if u.FinalResponse != nil {
		r.FinalResponse = *u.FinalResponse
	}

	// A terminal status without an explicit completion time stamps one so
	// lane intervals close.
	if u.Status != nil && u.Status.Terminal() && r.CompletedAt == nil {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
	return nil
}
