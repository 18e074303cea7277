// Package message defines the append-only inter-agent message log entity.
package message

import (
	"encoding/json"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
)

// Content is a tagged value: either plain text or an opaque structured
// blob. The core never interprets structured content.
type Content struct {
	Text       string          `json:"-"`
	Structured json.RawMessage `json:"-"`
}

// TextContent returns a Content holding plain text.
func TextContent(s string) Content { return Content{Text: s} }

// StructuredContent returns a Content holding raw JSON.
func StructuredContent(raw json.RawMessage) Content { return Content{Structured: raw} }

// IsZero reports whether the content carries neither variant.
func (c Content) IsZero() bool {
	return c.Text == "" && len(c.Structured) == 0
}

// MarshalJSON emits the structured blob verbatim when present, otherwise a
// JSON string.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Structured) > 0 {
		return c.Structured, nil
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON keeps strings as the text variant and everything else as
// the structured variant.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Structured = nil
		return nil
	}
	c.Text = ""
	c.Structured = append(json.RawMessage(nil), data...)
	return nil
}

// Message is one entry in the append-only subagent message log. Notified
// only ever grows; entries are never removed.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Content   Content   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Notified  []string  `json:"notified,omitempty"`
}

// Validate checks required fields before an append.
func (m *Message) Validate() error {
	if m.Sender == "" {
		return domain.Validation("sender is required")
	}
	if m.Content.IsZero() {
		return domain.Validation("message is required")
	}
	return nil
}
