// Package conversation owns the mode (BOT_ON/HUMAN), status and assignment
// transitions of a conversation. Every transition is a single-row update that
// is persisted before conversation_updated is published.
package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"inbox-hub/internal/model"
)

type Store interface {
	SetConversationMode(ctx context.Context, tenantID, conversationID uuid.UUID, mode model.Mode) (model.Conversation, error)
	SetConversationStatus(ctx context.Context, tenantID, conversationID uuid.UUID, status model.Status) (model.Conversation, error)
	SetAssignedUser(ctx context.Context, tenantID, conversationID uuid.UUID, userID *uuid.UUID) (model.Conversation, error)
}

type Notifier interface {
	Publish(tenantID uuid.UUID, event string, payload any)
}

type Machine struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

func NewMachine(store Store, notifier Notifier, logger *slog.Logger) *Machine {
	return &Machine{
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "conversation")),
	}
}

// Takeover moves the conversation to HUMAN. Used by agents and by handoff triggers.
func (m *Machine) Takeover(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error) {
	return m.apply(ctx, "takeover", func() (model.Conversation, error) {
		return m.store.SetConversationMode(ctx, tenantID, conversationID, model.ModeHuman)
	})
}

// ReturnToBot is the only way back to BOT_ON.
func (m *Machine) ReturnToBot(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error) {
	return m.apply(ctx, "return_to_bot", func() (model.Conversation, error) {
		return m.store.SetConversationMode(ctx, tenantID, conversationID, model.ModeBotOn)
	})
}

// Assign sets the assignee; nil unassigns. Mode is not affected.
func (m *Machine) Assign(ctx context.Context, tenantID, conversationID uuid.UUID, userID *uuid.UUID) (model.Conversation, error) {
	return m.apply(ctx, "assign", func() (model.Conversation, error) {
		return m.store.SetAssignedUser(ctx, tenantID, conversationID, userID)
	})
}

func (m *Machine) Close(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error) {
	return m.apply(ctx, "close", func() (model.Conversation, error) {
		return m.store.SetConversationStatus(ctx, tenantID, conversationID, model.StatusClosed)
	})
}

func (m *Machine) Reopen(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error) {
	return m.apply(ctx, "reopen", func() (model.Conversation, error) {
		return m.store.SetConversationStatus(ctx, tenantID, conversationID, model.StatusOpen)
	})
}

func (m *Machine) apply(ctx context.Context, op string, update func() (model.Conversation, error)) (model.Conversation, error) {
	conv, err := update()
	if err != nil {
		return model.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.InfoContext(ctx, "conversation transition",
		slog.String("op", op),
		slog.String("tenant_id", conv.TenantID.String()),
		slog.String("conversation_id", conv.ID.String()),
		slog.String("mode", string(conv.Mode)),
		slog.String("status", string(conv.Status)),
	)
	m.notifier.Publish(conv.TenantID, model.EventConversationUpdated, model.ConversationUpdated{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
	})
	return conv, nil
}
