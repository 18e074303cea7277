package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/store"
)

// Store implements store.Store on PostgreSQL. Event and message tables are
// append-only; the subagent registry is the only mutable table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

const eventColumns = `id, source_app, session_id, hook_event_type, payload, chat, summary, timestamp`

func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.HookEvent) error {
	var chat []byte
	if err := scanner.Scan(&ev.ID, &ev.SourceApp, &ev.SessionID, &ev.HookEventType,
		(*[]byte)(&ev.Payload), &chat, &ev.Summary, &ev.Timestamp); err != nil {
		return err
	}
	ev.Chat = chat
	return nil
}

// AppendEvent inserts a new event, assigning its id and, when the caller
// supplied none, its timestamp.
func (s *Store) AppendEvent(ctx context.Context, ev *event.HookEvent) (*event.HookEvent, error) {
	stored := *ev
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	var chat any
	if len(stored.Chat) > 0 {
		chat = []byte(stored.Chat)
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (source_app, session_id, hook_event_type, payload, chat, summary, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		stored.SourceApp, stored.SessionID, stored.HookEventType,
		[]byte(stored.Payload), chat, stored.Summary, stored.Timestamp).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return &stored, nil
}

// RecentEvents returns the last limit events by id, oldest first within
// the page.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]event.HookEvent, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM (
		   SELECT %s FROM events ORDER BY id DESC LIMIT $1
		 ) page ORDER BY id ASC`, eventColumns, eventColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsBySession returns all events for a session, oldest first,
// optionally filtered by type.
func (s *Store) EventsBySession(ctx context.Context, sessionID string, types []string) ([]event.HookEvent, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(types) > 0 {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM events WHERE session_id = $1 AND hook_event_type = ANY($2) ORDER BY id ASC`,
			eventColumns), sessionID, types)
	} else {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM events WHERE session_id = $1 ORDER BY id ASC`, eventColumns), sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("events by session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]event.HookEvent, error) {
	var events []event.HookEvent
	for rows.Next() {
		var ev event.HookEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ---------------------------------------------------------------------------
// Subagent registry
// ---------------------------------------------------------------------------

const agentColumns = `id, session_id, name, subagent_type, status, created_at, completed_at,
	total_duration_ms, total_tokens, total_tool_use_count, input_tokens, output_tokens,
	initial_prompt, final_response`

func scanAgent(scanner interface{ Scan(dest ...any) error }, rec *agent.Record) error {
	return scanner.Scan(&rec.ID, &rec.SessionID, &rec.Name, &rec.SubagentType, &rec.Status,
		&rec.CreatedAt, &rec.CompletedAt, &rec.TotalDurationMS, &rec.TotalTokens,
		&rec.TotalToolUses, &rec.InputTokens, &rec.OutputTokens,
		&rec.InitialPrompt, &rec.FinalResponse)
}

// RegisterAgent inserts a new active registry row. The unique constraint on
// (session_id, name) makes re-registration idempotent: the existing row is
// returned with created=false.
func (s *Store) RegisterAgent(ctx context.Context, sessionID, name, subagentType string) (*agent.Record, bool, error) {
	var rec agent.Record
	err := scanAgent(s.pool.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO subagent_registry (session_id, name, subagent_type, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, name) DO NOTHING
		 RETURNING %s`, agentColumns),
		sessionID, name, subagentType, agent.StatusActive), &rec)
	if err == nil {
		return &rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("register agent %s/%s: %w", sessionID, name, err)
	}

	existing, err := s.GetAgent(ctx, sessionID, name)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetAgent returns one registry row or domain.ErrNotFound.
func (s *Store) GetAgent(ctx context.Context, sessionID, name string) (*agent.Record, error) {
	var rec agent.Record
	err := scanAgent(s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM subagent_registry WHERE session_id = $1 AND name = $2`, agentColumns),
		sessionID, name), &rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s/%s: %w", sessionID, name, err)
	}
	return &rec, nil
}

// UpdateAgent writes back the mutable registry fields of a loaded record.
func (s *Store) UpdateAgent(ctx context.Context, rec *agent.Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subagent_registry
		 SET status = $3, completed_at = $4, total_duration_ms = $5, total_tokens = $6,
		     total_tool_use_count = $7, input_tokens = $8, output_tokens = $9,
		     initial_prompt = $10, final_response = $11
		 WHERE session_id = $1 AND name = $2`,
		rec.SessionID, rec.Name, rec.Status, rec.CompletedAt, rec.TotalDurationMS,
		rec.TotalTokens, rec.TotalToolUses, rec.InputTokens, rec.OutputTokens,
		rec.InitialPrompt, rec.FinalResponse)
	if err != nil {
		return fmt.Errorf("update agent %s/%s: %w", rec.SessionID, rec.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AgentsBySession returns all registry rows for a session, oldest first.
func (s *Store) AgentsBySession(ctx context.Context, sessionID string) ([]agent.Record, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM subagent_registry WHERE session_id = $1 ORDER BY created_at ASC, id ASC`,
		agentColumns), sessionID)
	if err != nil {
		return nil, fmt.Errorf("agents by session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var agents []agent.Record
	for rows.Next() {
		var rec agent.Record
		if err := scanAgent(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, rec)
	}
	return agents, rows.Err()
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func scanMessage(scanner interface{ Scan(dest ...any) error }, msg *message.Message) error {
	var content, notified []byte
	if err := scanner.Scan(&msg.ID, &msg.Sender, &content, &msg.CreatedAt, &notified); err != nil {
		return err
	}
	if err := json.Unmarshal(content, &msg.Content); err != nil {
		return fmt.Errorf("decode content: %w", err)
	}
	if err := json.Unmarshal(notified, &msg.Notified); err != nil {
		return fmt.Errorf("decode notified: %w", err)
	}
	return nil
}

// AppendMessage stores a message with an empty notified set.
func (s *Store) AppendMessage(ctx context.Context, msg *message.Message) (*message.Message, error) {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	stored := *msg
	stored.Notified = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO subagent_messages (sender, content, created_at) VALUES ($1, $2, $3) RETURNING id`,
		stored.Sender, content, stored.CreatedAt).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &stored, nil
}

// UnreadMessages returns every message the named agent has not seen and
// marks them as notified in the same transaction, so a concurrent caller
// with the same name cannot read them twice.
func (s *Store) UnreadMessages(ctx context.Context, name string) ([]message.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("unread begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, sender, content, created_at, notified
		 FROM subagent_messages
		 WHERE NOT (notified ? $1)
		 ORDER BY id ASC
		 FOR UPDATE`, name)
	if err != nil {
		return nil, fmt.Errorf("unread select: %w", err)
	}

	var msgs []message.Message
	var ids []int64
	for rows.Next() {
		var msg message.Message
		if err := scanMessage(rows, &msg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
		ids = append(ids, msg.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE subagent_messages SET notified = notified || to_jsonb($1::text) WHERE id = ANY($2)`,
			name, ids)
		if err != nil {
			return nil, fmt.Errorf("unread mark: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("unread commit: %w", err)
	}
	return msgs, nil
}

// AllMessages returns the full message log, oldest first.
func (s *Store) AllMessages(ctx context.Context) ([]message.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, content, created_at, notified FROM subagent_messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("all messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var msg message.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ---------------------------------------------------------------------------
// Derived session bounds
// ---------------------------------------------------------------------------

// sessionBoundsSQL derives lifecycle bounds for every session from events
// and registry rows; sessions have no table of their own.
const sessionBoundsSQL = `
	SELECT session_id, SUM(event_count)::int, MIN(first_seen), MAX(last_seen)
	FROM (
		SELECT session_id, COUNT(*) AS event_count, MIN(timestamp) AS first_seen, MAX(timestamp) AS last_seen
		FROM events GROUP BY session_id
		UNION ALL
		SELECT session_id, 0, MIN(created_at), MAX(COALESCE(completed_at, created_at))
		FROM subagent_registry GROUP BY session_id
	) bounds
	GROUP BY session_id`

// SessionsInWindow lists sessions overlapping [start, end), most recent
// first.
func (s *Store) SessionsInWindow(ctx context.Context, start, end time.Time, limit int) ([]store.SessionBounds, error) {
	rows, err := s.pool.Query(ctx, sessionBoundsSQL+`
		HAVING MAX(last_seen) >= $1 AND MIN(first_seen) < $2
		ORDER BY MAX(last_seen) DESC
		LIMIT $3`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions in window: %w", err)
	}
	defer rows.Close()
	return collectBounds(rows)
}

// SessionBounds returns bounds for the given session ids; unknown ids are
// skipped.
func (s *Store) SessionBounds(ctx context.Context, sessionIDs []string) ([]store.SessionBounds, error) {
	rows, err := s.pool.Query(ctx, sessionBoundsSQL+`
		HAVING session_id = ANY($1)
		ORDER BY MAX(last_seen) DESC`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("session bounds: %w", err)
	}
	defer rows.Close()
	return collectBounds(rows)
}

func collectBounds(rows pgx.Rows) ([]store.SessionBounds, error) {
	var bounds []store.SessionBounds
	for rows.Next() {
		var b store.SessionBounds
		if err := rows.Scan(&b.SessionID, &b.EventCount, &b.FirstSeen, &b.LastSeen); err != nil {
			return nil, fmt.Errorf("scan session bounds: %w", err)
		}
		bounds = append(bounds, b)
	}
	return bounds, rows.Err()
}
