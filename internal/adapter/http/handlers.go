package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/session"
)

// maxRequestBodySize bounds every JSON body. Agent text fields are capped
// at 1 MiB each, so the envelope allows a little headroom.
const maxRequestBodySize = 4 << 20

// EventIngester is the slice of the event service the handlers need.
type EventIngester interface {
	Append(ctx context.Context, ev *event.HookEvent) (*event.HookEvent, error)
	Recent(ctx context.Context, limit int) ([]event.HookEvent, error)
	BySession(ctx context.Context, sessionID string, types []string) ([]event.HookEvent, error)
}

// AgentRegistry is the slice of the agent service the handlers need.
type AgentRegistry interface {
	Register(ctx context.Context, sessionID, name, subagentType string) (*agent.Record, error)
	UpdateCompletion(ctx context.Context, sessionID, name string, u *agent.CompletionUpdate) (*agent.Record, error)
}

// MessageLog is the slice of the message service the handlers need.
type MessageLog interface {
	Send(ctx context.Context, msg *message.Message) (*message.Message, error)
	Unread(ctx context.Context, name string) ([]message.Message, error)
	All(ctx context.Context) ([]message.Message, error)
}

// SessionReader is the slice of the session service the handlers need.
type SessionReader interface {
	Window(ctx context.Context, q session.WindowQuery) ([]*session.Summary, error)
	Batch(ctx context.Context, sessionIDs []string) ([]*session.Summary, error)
	Compare(ctx context.Context, sessionIDs []string) (*session.Comparison, error)
}

// HealthFunc reports component health for the /health endpoint.
type HealthFunc func(ctx context.Context) map[string]string

// Handlers bundles all HTTP handlers with their dependencies.
type Handlers struct {
	Events   EventIngester
	Agents   AgentRegistry
	Messages MessageLog
	Sessions SessionReader
	Health   HealthFunc
}

// ---------------------------------------------------------------------------
// Event ingestion
// ---------------------------------------------------------------------------

// IngestEvent handles POST /events.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := readJSON[event.HookEvent](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	stored, err := h.Events.Append(r.Context(), &ev)
	if err != nil {
		writeDomainError(w, err, "event rejected")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// RecentEvents handles GET /events/recent?limit=.
func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	events, err := h.Events.Recent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.HookEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// SessionEvents handles GET /events/session/{id}?types=a,b.
func (h *Handlers) SessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	if !requireField(w, sessionID, "session id") {
		return
	}
	var types []string
	if s := r.URL.Query().Get("types"); s != "" {
		types = strings.Split(s, ",")
	}
	events, err := h.Events.BySession(r.Context(), sessionID, types)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.HookEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ---------------------------------------------------------------------------
// Subagent registry
// ---------------------------------------------------------------------------

type registerRequest struct {
	SessionID    string `json:"session_id"`
	Name         string `json:"name"`
	SubagentType string `json:"subagent_type"`
}

// RegisterAgent handles POST /subagents/register.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[registerRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	rec, err := h.Agents.Register(r.Context(), req.SessionID, req.Name, req.SubagentType)
	if err != nil {
		writeDomainError(w, err, "registration rejected")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type completionRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	agent.CompletionUpdate
}

// UpdateCompletion handles POST /subagents/update-completion.
func (h *Handlers) UpdateCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[completionRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.SessionID, "session_id") || !requireField(w, req.Name, "name") {
		return
	}
	rec, err := h.Agents.UpdateCompletion(r.Context(), req.SessionID, req.Name, &req.CompletionUpdate)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PatchAgent handles PATCH /subagents/{sessionId}/{name}: the same
// merge-patch as update-completion, addressed by path.
func (h *Handlers) PatchAgent(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "sessionId")
	name := urlParam(r, "name")
	if !requireField(w, sessionID, "session id") || !requireField(w, name, "name") {
		return
	}
	patch, ok := readJSON[agent.CompletionUpdate](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	rec, err := h.Agents.UpdateCompletion(r.Context(), sessionID, name, &patch)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ---------------------------------------------------------------------------
// Inter-agent messaging
// ---------------------------------------------------------------------------

// SendMessage handles POST /subagents/message.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := readJSON[message.Message](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	stored, err := h.Messages.Send(r.Context(), &msg)
	if err != nil {
		writeDomainError(w, err, "message rejected")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

type unreadRequest struct {
	SubagentName string `json:"subagent_name"`
}

type unreadMessage struct {
	Sender    string          `json:"sender"`
	Message   message.Content `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
}

type unreadResponse struct {
	Messages []unreadMessage `json:"messages"`
}

// UnreadMessages handles POST /subagents/unread. Returned messages are
// marked notified for the caller in the same request.
func (h *Handlers) UnreadMessages(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[unreadRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	msgs, err := h.Messages.Unread(r.Context(), req.SubagentName)
	if err != nil {
		writeDomainError(w, err, "unread lookup failed")
		return
	}
	resp := unreadResponse{Messages: make([]unreadMessage, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, unreadMessage{
			Sender:    m.Sender,
			Message:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// AllMessages handles GET /subagents/messages.
func (h *Handlers) AllMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Messages.All(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ---------------------------------------------------------------------------
// Session aggregation
// ---------------------------------------------------------------------------

// SessionsWindow handles GET /api/sessions/window?start&end&limit.
// Timestamps accept RFC 3339 or unix milliseconds.
func (h *Handlers) SessionsWindow(w http.ResponseWriter, r *http.Request) {
	var q session.WindowQuery
	var err error
	if s := r.URL.Query().Get("start"); s != "" {
		if q.Start, err = parseTimestamp(s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid start timestamp")
			return
		}
	}
	if s := r.URL.Query().Get("end"); s != "" {
		if q.End, err = parseTimestamp(s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid end timestamp")
			return
		}
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}
	sums, err := h.Sessions.Window(r.Context(), q)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if sums == nil {
		sums = []*session.Summary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

type batchRequest struct {
	SessionIDs []string `json:"sessionIds"`
}

// SessionsBatch handles POST /api/sessions/batch.
func (h *Handlers) SessionsBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	sums, err := h.Sessions.Batch(r.Context(), req.SessionIDs)
	if err != nil {
		writeDomainError(w, err, "sessions not found")
		return
	}
	writeJSON(w, http.StatusOK, sums)
}

// SessionsCompare handles GET /api/sessions/compare?sessionIds=a,b.
func (h *Handlers) SessionsCompare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("sessionIds")
	if !requireField(w, raw, "sessionIds") {
		return
	}
	cmp, err := h.Sessions.Compare(r.Context(), strings.Split(raw, ","))
	if err != nil {
		writeDomainError(w, err, "sessions not found")
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// HealthCheck handles GET /health. Degraded components turn the overall
// status but not the HTTP code; load balancers only need liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	if h.Health != nil {
		components = h.Health(r.Context())
	}
	status := "ok"
	for _, v := range components {
		if v != "ok" && v != "disabled" {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
	})
}

// parseTimestamp accepts RFC 3339 or unix milliseconds.
func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
