package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/store"
)

// AgentService owns the subagent registry: registration and the one-way
// completion lifecycle.
type AgentService struct {
	store     store.Store
	cache     *SessionCache
	notifier  broadcast.Notifier
	scheduler Toucher
	logger    *slog.Logger
}

// NewAgentService creates an AgentService.
func NewAgentService(st store.Store, sc *SessionCache, n broadcast.Notifier, t Toucher, logger *slog.Logger) *AgentService {
	return &AgentService{store: st, cache: sc, notifier: n, scheduler: t, logger: logger}
}

// Register records a subagent under (sessionID, name). Re-registering an
// existing pair is idempotent: the stored record is returned unchanged and
// no notification is emitted.
func (s *AgentService) Register(ctx context.Context, sessionID, name, subagentType string) (*agent.Record, error) {
	if sessionID == "" {
		return nil, domain.Validation("session_id is required")
	}
	if name == "" {
		return nil, domain.Validation("name is required")
	}

	rec, created, err := s.store.RegisterAgent(ctx, sessionID, name, subagentType)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	if !created {
		s.logger.Debug("agent re-registration", "session_id", sessionID, "name", name)
		return rec, nil
	}

	s.cache.Invalidate(ctx, sessionID)
	s.notifier.AgentRegistered(ctx, rec)
	s.scheduler.Touch(sessionID)

	return rec, nil
}

// Get returns one registry row.
func (s *AgentService) Get(ctx context.Context, sessionID, name string) (*agent.Record, error) {
	return s.store.GetAgent(ctx, sessionID, name)
}

// List returns a session's registry rows, oldest first.
func (s *AgentService) List(ctx context.Context, sessionID string) ([]agent.Record, error) {
	return s.store.AgentsBySession(ctx, sessionID)
}

// UpdateCompletion applies a merge-patch to a registry row, enforcing the
// one-way status machine. Restating the current terminal status is a
// no-op on the status field; moving a terminal row to a different status
// is domain.ErrInvalidTransition and leaves the row untouched.
func (s *AgentService) UpdateCompletion(ctx context.Context, sessionID, name string, u *agent.CompletionUpdate) (*agent.Record, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.store.GetAgent(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}

	statusChanged := u.Status != nil && *u.Status != rec.Status
	if err := rec.Apply(u); err != nil {
		return nil, err
	}

	if err := s.store.UpdateAgent(ctx, rec); err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}

	s.cache.Invalidate(ctx, sessionID)
	s.notifier.AgentUpdated(ctx, rec, statusChanged)
	s.scheduler.Touch(sessionID)

	return rec, nil
}
