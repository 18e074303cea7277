package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/messagequeue"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/store"
)

// Toucher marks sessions as needing a timeline recompute. Satisfied by
// *UpdateScheduler.
type Toucher interface {
	Touch(sessionID string)
}

// EventService ingests hook events: validate, persist, invalidate the
// session summary, notify live connections and mark the session touched.
type EventService struct {
	store     store.Store
	cache     *SessionCache
	notifier  broadcast.Notifier
	scheduler Toucher
	relay     messagequeue.Queue
	logger    *slog.Logger
}

// NewEventService creates an EventService. relay may be nil when the
// message queue is disabled.
func NewEventService(st store.Store, sc *SessionCache, n broadcast.Notifier, t Toucher, relay messagequeue.Queue, logger *slog.Logger) *EventService {
	return &EventService{store: st, cache: sc, notifier: n, scheduler: t, relay: relay, logger: logger}
}

// Append validates and persists one hook event, then fans out. Fan-out
// failures never fail the ingest; the write is already durable.
func (s *EventService) Append(ctx context.Context, ev *event.HookEvent) (*event.HookEvent, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.store.AppendEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	s.cache.Invalidate(ctx, stored.SessionID)
	s.notifier.EventStored(ctx, stored)
	s.scheduler.Touch(stored.SessionID)
	s.publishRelay(ctx, stored)

	return stored, nil
}

// Recent returns the most recent events across all sessions, oldest first
// within the page. limit is clamped to [1, 1000].
func (s *EventService) Recent(ctx context.Context, limit int) ([]event.HookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	events, err := s.store.RecentEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// BySession returns a session's events, optionally filtered by type.
func (s *EventService) BySession(ctx context.Context, sessionID string, types []string) ([]event.HookEvent, error) {
	events, err := s.store.EventsBySession(ctx, sessionID, types)
	if err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}
	return events, nil
}

// publishRelay mirrors the event onto the queue when a relay is
// configured. Best effort only.
func (s *EventService) publishRelay(ctx context.Context, ev *event.HookEvent) {
	if s.relay == nil || !s.relay.IsConnected() {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	subject := messagequeue.SubjectEvents + "." + ev.SessionID
	if err := s.relay.Publish(pubCtx, subject, data); err != nil {
		s.logger.Warn("event relay publish failed", "subject", subject, "error", err)
	}
}
