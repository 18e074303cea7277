// Package ws implements the WebSocket adapter: a firehose stream of all
// store mutations plus scoped per-session streams with progressive
// timeline replay.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/websocket"

	"github.com/screwyforcepush/claude-comms-sub001/internal/config"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/timeline"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
)

// Replayer schedules a progressive timeline delivery for one connection.
// Satisfied by the update scheduler.
type Replayer interface {
	EnqueueReplay(connID, sessionID string, window timeline.Window)
}

// Hub manages both connection classes: firehose connections receiving
// every mutation, and scoped connections receiving only the sessions they
// subscribed to. It is the single implementation of the notifier and
// timeline sink ports.
type Hub struct {
	cfg      config.Stream
	logger   *slog.Logger
	replayer Replayer

	mu       sync.RWMutex
	firehose map[string]*client
	scoped   map[string]*client
	// subs indexes scoped clients by session id for O(subscribers) fan-out.
	subs map[string]map[string]*client
}

var (
	_ broadcast.Notifier     = (*Hub)(nil)
	_ broadcast.TimelineSink = (*Hub)(nil)
)

// NewHub creates a hub. SetReplayer must be called before any scoped
// connection subscribes.
func NewHub(cfg config.Stream, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		firehose: make(map[string]*client),
		scoped:   make(map[string]*client),
		subs:     make(map[string]map[string]*client),
	}
}

// SetReplayer wires the update scheduler in after construction; the hub
// and scheduler reference each other.
func (h *Hub) SetReplayer(r Replayer) { h.replayer = r }

// ConnectionCount returns the number of active connections across both
// classes.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.firehose) + len(h.scoped)
}

// EventStored fans a new event out to the firehose and to the event's
// session subscribers.
func (h *Hub) EventStored(ctx context.Context, ev *event.HookEvent) {
	h.broadcastFirehose(EventStored, ev)
	h.broadcastSession(ev.SessionID, EventSessionEvent, ev)
}

// AgentRegistered announces a new registry row on both classes.
func (h *Hub) AgentRegistered(ctx context.Context, rec *agent.Record) {
	h.broadcastFirehose(EventAgentRegistered, rec)
	h.broadcastSession(rec.SessionID, EventSessionRegistered, rec)
}

// AgentUpdated announces a registry mutation to the session's
// subscribers. Status changes use a distinct type so clients can animate
// lane transitions.
func (h *Hub) AgentUpdated(ctx context.Context, rec *agent.Record, statusChanged bool) {
	typ := EventAgentDataUpdate
	if statusChanged {
		typ = EventAgentStatusUpdate
	}
	h.broadcastSession(rec.SessionID, typ, rec)
}

// MessageStored announces a new inter-agent message on the firehose.
// Messages carry no session id, so scoped connections learn of them via
// timeline updates instead.
func (h *Hub) MessageStored(ctx context.Context, msg *message.Message) {
	h.broadcastFirehose(EventAgentMessage, msg)
}

// ActiveSessions returns the session ids with at least one scoped
// subscriber.
func (h *Hub) ActiveSessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for id := range h.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TimelineUpdated ships a recomputed timeline to every subscriber of the
// session.
func (h *Hub) TimelineUpdated(sessionID string, data *timeline.TimelineData) {
	h.broadcastSession(sessionID, EventTimelineUpdate, data)
}

// DeliverPhase sends one replay phase to a single scoped connection.
// False cancels the remainder of the replay: the connection is gone,
// was evicted as a slow consumer, or unsubscribed from the session
// mid-replay.
func (h *Hub) DeliverPhase(connID string, phase broadcast.Phase) bool {
	h.mu.RLock()
	c, ok := h.scoped[connID]
	h.mu.RUnlock()
	if !ok || !c.subscribed(phase.SessionID) {
		return false
	}

	data, err := encode(phase.Kind, phase)
	if err != nil {
		h.logger.Error("phase encode failed", "kind", phase.Kind, "error", err)
		return false
	}
	if !c.trySend(data) {
		h.evict(c)
		return false
	}
	return true
}

// broadcastFirehose sends one typed message to every firehose connection.
func (h *Hub) broadcastFirehose(typ string, payload any) {
	data, err := encode(typ, payload)
	if err != nil {
		h.logger.Error("broadcast encode failed", "type", typ, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for _, c := range h.firehose {
		if !c.trySend(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.evict(c)
	}
}

// broadcastSession sends one typed message to the session's subscribers.
func (h *Hub) broadcastSession(sessionID, typ string, payload any) {
	h.mu.RLock()
	subs := h.subs[sessionID]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	clients := make([]*client, 0, len(subs))
	for _, c := range subs {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	data, err := encode(typ, payload)
	if err != nil {
		h.logger.Error("session encode failed", "type", typ, "error", err)
		return
	}
	for _, c := range clients {
		if !c.trySend(data) {
			h.evict(c)
		}
	}
}

// addFirehose registers a firehose connection.
func (h *Hub) addFirehose(c *client) {
	h.mu.Lock()
	h.firehose[c.id] = c
	h.mu.Unlock()
}

// addScoped registers a scoped connection.
func (h *Hub) addScoped(c *client) {
	h.mu.Lock()
	h.scoped[c.id] = c
	h.mu.Unlock()
}

// remove unregisters a connection from whichever class it belongs to and
// clears its subscription index entries.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.firehose, c.id)
	delete(h.scoped, c.id)
	for sessionID, subs := range h.subs {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.subs, sessionID)
		}
	}
	h.mu.Unlock()
}

// evict drops a slow consumer. The write side is backed up, so the close
// is best effort.
func (h *Hub) evict(c *client) {
	h.logger.Warn("evicting slow websocket client", "conn_id", c.id)
	h.remove(c)
	c.close(websocket.StatusPolicyViolation, "send queue overflow")
}

// updateSubs applies a subscription change to the session index and
// returns the sessions newly subscribed.
func (h *Hub) updateSubs(c *client, cmd command) []string {
	switch cmd.Action {
	case actionSubscribe:
		added := c.subscribe(cmd.SessionIDs)
		h.mu.Lock()
		for _, id := range added {
			if h.subs[id] == nil {
				h.subs[id] = make(map[string]*client)
			}
			h.subs[id][c.id] = c
		}
		h.mu.Unlock()
		return added

	case actionUnsubscribe:
		c.unsubscribe(cmd.SessionIDs)
		h.mu.Lock()
		for _, id := range cmd.SessionIDs {
			if subs, ok := h.subs[id]; ok {
				delete(subs, c.id)
				if len(subs) == 0 {
					delete(h.subs, id)
				}
			}
		}
		h.mu.Unlock()
	}
	return nil
}

// encode wraps a payload in the message envelope.
func encode(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, Data: data})
}
