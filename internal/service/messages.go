package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/store"
)

// MessageService owns the append-only inter-agent message log and its
// per-recipient notified bookkeeping.
type MessageService struct {
	store    store.Store
	notifier broadcast.Notifier
	logger   *slog.Logger
}

// NewMessageService creates a MessageService.
func NewMessageService(st store.Store, n broadcast.Notifier, logger *slog.Logger) *MessageService {
	return &MessageService{store: st, notifier: n, logger: logger}
}

// Send appends one message to the log and announces it. The log carries
// no session id; routing to sessions happens at read time via the sender
// name.
func (s *MessageService) Send(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.notifier.MessageStored(ctx, stored)
	return stored, nil
}

// Unread returns the messages the named subagent has not yet seen and
// marks them notified in the same call. A second identical call returns
// an empty slice.
func (s *MessageService) Unread(ctx context.Context, name string) ([]message.Message, error) {
	if name == "" {
		return nil, domain.Validation("subagent_name is required")
	}
	msgs, err := s.store.UnreadMessages(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("unread messages: %w", err)
	}
	return msgs, nil
}

// All returns the full message log, oldest first.
func (s *MessageService) All(ctx context.Context) ([]message.Message, error) {
	msgs, err := s.store.AllMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("all messages: %w", err)
	}
	return msgs, nil
}
