package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/timeline"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/store"
)

// mockStore is an in-memory Store for service tests.
type mockStore struct {
	mu       sync.Mutex
	events   []event.HookEvent
	agents   []agent.Record
	messages []message.Message
	nextID   int64

	computeCalls int
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore { return &mockStore{nextID: 1} }

func (m *mockStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *mockStore) AppendEvent(ctx context.Context, ev *event.HookEvent) (*event.HookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	cp.ID = m.id()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	m.events = append(m.events, cp)
	return &cp, nil
}

func (m *mockStore) RecentEvents(ctx context.Context, limit int) ([]event.HookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := len(m.events) - limit
	if start < 0 {
		start = 0
	}
	return append([]event.HookEvent(nil), m.events[start:]...), nil
}

func (m *mockStore) EventsBySession(ctx context.Context, sessionID string, types []string) ([]event.HookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computeCalls++
	var out []event.HookEvent
	for _, ev := range m.events {
		if ev.SessionID != sessionID {
			continue
		}
		if len(types) > 0 {
			found := false
			for _, t := range types {
				if ev.HookEventType == t {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *mockStore) RegisterAgent(ctx context.Context, sessionID, name, subagentType string) (*agent.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].SessionID == sessionID && m.agents[i].Name == name {
			cp := m.agents[i]
			return &cp, false, nil
		}
	}
	rec := agent.Record{
		ID:           m.id(),
		SessionID:    sessionID,
		Name:         name,
		SubagentType: subagentType,
		Status:       agent.StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	m.agents = append(m.agents, rec)
	cp := rec
	return &cp, true, nil
}

func (m *mockStore) GetAgent(ctx context.Context, sessionID, name string) (*agent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].SessionID == sessionID && m.agents[i].Name == name {
			cp := m.agents[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) UpdateAgent(ctx context.Context, rec *agent.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == rec.ID {
			m.agents[i] = *rec
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) AgentsBySession(ctx context.Context, sessionID string) ([]agent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Record
	for _, a := range m.agents {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) AppendMessage(ctx context.Context, msg *message.Message) (*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	cp.ID = m.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.Notified = nil
	m.messages = append(m.messages, cp)
	out := cp
	return &out, nil
}

func (m *mockStore) UnreadMessages(ctx context.Context, name string) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Message
	for i := range m.messages {
		seen := false
		for _, n := range m.messages[i].Notified {
			if n == name {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		m.messages[i].Notified = append(m.messages[i].Notified, name)
		out = append(out, m.messages[i])
	}
	return out, nil
}

func (m *mockStore) AllMessages(ctx context.Context) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]message.Message(nil), m.messages...), nil
}

func (m *mockStore) SessionsInWindow(ctx context.Context, start, end time.Time, limit int) ([]store.SessionBounds, error) {
	bounds, err := m.allBounds()
	if err != nil {
		return nil, err
	}
	var out []store.SessionBounds
	for _, b := range bounds {
		if b.LastSeen.Before(start) || !b.FirstSeen.Before(end) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) SessionBounds(ctx context.Context, sessionIDs []string) ([]store.SessionBounds, error) {
	bounds, err := m.allBounds()
	if err != nil {
		return nil, err
	}
	var out []store.SessionBounds
	for _, id := range sessionIDs {
		for _, b := range bounds {
			if b.SessionID == id {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func (m *mockStore) allBounds() ([]store.SessionBounds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[string]*store.SessionBounds)
	observe := func(id string, ts time.Time, isEvent bool) {
		b, ok := byID[id]
		if !ok {
			b = &store.SessionBounds{SessionID: id, FirstSeen: ts, LastSeen: ts}
			byID[id] = b
		}
		if ts.Before(b.FirstSeen) {
			b.FirstSeen = ts
		}
		if ts.After(b.LastSeen) {
			b.LastSeen = ts
		}
		if isEvent {
			b.EventCount++
		}
	}
	for _, ev := range m.events {
		observe(ev.SessionID, ev.Timestamp, true)
	}
	for _, a := range m.agents {
		observe(a.SessionID, a.CreatedAt, false)
	}
	var out []store.SessionBounds
	for _, b := range byID {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// mockNotifier records fan-out calls.
type mockNotifier struct {
	mu            sync.Mutex
	events        []*event.HookEvent
	registered    []*agent.Record
	updated       []*agent.Record
	statusChanges []bool
	messages      []*message.Message
}

var _ broadcast.Notifier = (*mockNotifier)(nil)

func (m *mockNotifier) EventStored(ctx context.Context, ev *event.HookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockNotifier) AgentRegistered(ctx context.Context, rec *agent.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, rec)
}

func (m *mockNotifier) AgentUpdated(ctx context.Context, rec *agent.Record, statusChanged bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, rec)
	m.statusChanges = append(m.statusChanges, statusChanged)
}

func (m *mockNotifier) MessageStored(ctx context.Context, msg *message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// mockSink records scheduler deliveries and plays the connection registry.
type mockSink struct {
	mu       sync.Mutex
	active   []string
	updates  map[string]int
	phases   []broadcast.Phase
	deadConn string
}

var _ broadcast.TimelineSink = (*mockSink)(nil)

func newMockSink(active ...string) *mockSink {
	return &mockSink{active: active, updates: make(map[string]int)}
}

func (m *mockSink) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.active...)
}

func (m *mockSink) TimelineUpdated(sessionID string, data *timeline.TimelineData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[sessionID]++
}

func (m *mockSink) DeliverPhase(connID string, phase broadcast.Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if connID == m.deadConn {
		return false
	}
	m.phases = append(m.phases, phase)
	return true
}

// mockToucher records touched session ids.
type mockToucher struct {
	mu      sync.Mutex
	touched []string
}

var _ Toucher = (*mockToucher)(nil)

func (m *mockToucher) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, sessionID)
}
