// Package timeline turns a session's raw events, agent records and
// messages into renderable timeline structures: spawn batches, swim lanes
// and bezier paths branching off an orchestrator baseline. Transform is a
// pure function; the current time is an explicit input so the same inputs
// always produce the same output.
package timeline

import (
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
)

// Options tunes the transform. Zero values fall back to defaults.
type Options struct {
	// ClusterWindow is the single-linkage gap that closes a spawn batch.
	ClusterWindow time.Duration
	// HeightBudget is the vertical space available above the orchestrator
	// baseline; lane peaks are carved out of it.
	HeightBudget float64
}

// DefaultClusterWindow groups agents spawned within 2s of the batch's most
// recent member.
const DefaultClusterWindow = 2 * time.Second

// DefaultHeightBudget is the default vertical budget in layout units.
const DefaultHeightBudget = 320.0

func (o Options) clusterWindow() time.Duration {
	if o.ClusterWindow > 0 {
		return o.ClusterWindow
	}
	return DefaultClusterWindow
}

func (o Options) heightBudget() float64 {
	if o.HeightBudget > 0 {
		return o.HeightBudget
	}
	return DefaultHeightBudget
}

// Window bounds the slice of the session being rendered. A zero End means
// "up to now".
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether the interval [from, to] overlaps the window.
func (w Window) Contains(from, to time.Time) bool {
	if !w.Start.IsZero() && to.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && from.After(w.End) {
		return false
	}
	return true
}

// Input carries everything Transform needs. Now is injected so open-ended
// agent intervals are reproducible in tests.
type Input struct {
	SessionID string
	Events    []event.HookEvent
	Agents    []agent.Record
	Messages  []message.Message
	Window    Window
	Now       time.Time
}

// Point is a position in layout space: X is seconds from the window
// origin, Y is height above the orchestrator baseline.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Batch is a cluster of agents spawned within ClusterWindow of one
// another. Gaps reset the cluster; this is not fixed-size bucketing.
type Batch struct {
	Index     int       `json:"index"`
	SpawnedAt time.Time `json:"spawned_at"`
	Agents    []string  `json:"agents"`
}

// AgentPath is one agent's curve: it leaves the baseline at StartedAt,
// peaks according to its lane and returns at EndedAt.
type AgentPath struct {
	Name         string    `json:"name"`
	SubagentType string    `json:"subagent_type"`
	Status       string    `json:"status"`
	Lane         int       `json:"lane"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	// Open marks an agent with no completed_at; its end is recomputed as
	// "now" on every transform.
	Open  bool  `json:"open"`
	Curve Curve `json:"curve"`
}

// MessageMarker pins a message onto its sender's path at the nearest
// position at or after the message's timestamp.
type MessageMarker struct {
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	Point     Point     `json:"point"`
}

// EventMarker is a tick on the orchestrator baseline for one hook event.
type EventMarker struct {
	HookEventType string    `json:"hook_event_type"`
	Timestamp     time.Time `json:"timestamp"`
	Point         Point     `json:"point"`
}

// TimelineData is the full renderable output for one session. All
// collections are sorted ascending by timestamp for stable incremental
// redraws.
type TimelineData struct {
	SessionID string          `json:"session_id"`
	Window    Window          `json:"window"`
	LaneCount int             `json:"lane_count"`
	Batches   []Batch         `json:"batches"`
	Paths     []AgentPath     `json:"paths"`
	Messages  []MessageMarker `json:"messages"`
	Events    []EventMarker   `json:"events"`
}
