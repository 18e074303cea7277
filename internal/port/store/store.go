// Package store defines the port interface for the persistence layer:
// append-only events, the mutable subagent registry and the append-only
// message log.
package store

import (
	"context"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
)

// SessionBounds is the derived lifecycle of one session: ids of its rows
// plus min/max activity timestamps.
type SessionBounds struct {
	SessionID  string    `json:"session_id"`
	EventCount int       `json:"event_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Store is the port interface for all persisted state. Mutations are
// logically serialized by the implementation; reads may run concurrently.
type Store interface {
	// AppendEvent persists a validated event, assigning its id and, when
	// absent, its timestamp. The stored event is returned.
	AppendEvent(ctx context.Context, ev *event.HookEvent) (*event.HookEvent, error)

	// RecentEvents returns the last limit events by id, oldest first
	// within the page.
	RecentEvents(ctx context.Context, limit int) ([]event.HookEvent, error)

	// EventsBySession returns all events for a session, oldest first,
	// optionally filtered by hook_event_type.
	EventsBySession(ctx context.Context, sessionID string, types []string) ([]event.HookEvent, error)

	// RegisterAgent inserts an active agent record. Re-registration of an
	// existing (session_id, name) is idempotent and returns the existing
	// record with created=false.
	RegisterAgent(ctx context.Context, sessionID, name, subagentType string) (rec *agent.Record, created bool, err error)

	// GetAgent returns one registry row or domain.ErrNotFound.
	GetAgent(ctx context.Context, sessionID, name string) (*agent.Record, error)

	// UpdateAgent persists a record previously loaded with GetAgent.
	UpdateAgent(ctx context.Context, rec *agent.Record) error

	// AgentsBySession returns all registry rows for a session, oldest
	// first.
	AgentsBySession(ctx context.Context, sessionID string) ([]agent.Record, error)

	// AppendMessage stores a message with an empty notified set.
	AppendMessage(ctx context.Context, msg *message.Message) (*message.Message, error)

	// UnreadMessages returns every message name has not been notified of
	// and atomically adds name to each returned message's notified set.
	UnreadMessages(ctx context.Context, name string) ([]message.Message, error)

	// AllMessages returns the full message log, oldest first.
	AllMessages(ctx context.Context) ([]message.Message, error)

	// SessionsInWindow lists sessions whose activity overlaps [start, end),
	// most recent activity first, capped at limit.
	SessionsInWindow(ctx context.Context, start, end time.Time, limit int) ([]SessionBounds, error)

	// SessionBounds returns the derived bounds for specific sessions.
	// Unknown ids are skipped, not errors.
	SessionBounds(ctx context.Context, sessionIDs []string) ([]SessionBounds, error)
}
