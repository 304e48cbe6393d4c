// Package inbox implements the agent-facing operations on a tenant's conversations.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"inbox-hub/internal/autoreply"
	"inbox-hub/internal/conversation"
	"inbox-hub/internal/model"
	"inbox-hub/internal/normalize"
	"inbox-hub/internal/outbound"
	"inbox-hub/internal/storage"
)

const MaxHistory = 500

var (
	ErrEmptyReply      = errors.New("provide text or image_url")
	ErrInvalidImageURL = errors.New("image_url must be an http(s) or data URL")
)

type Store interface {
	ListConversations(ctx context.Context, tenantID uuid.UUID, status model.Status, limit int) ([]model.Conversation, error)
	GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error)
	ListMessagesPaginated(ctx context.Context, tenantID, conversationID uuid.UUID, cursor string, limit int) ([]model.Message, string, error)
}

type Sender interface {
	Send(ctx context.Context, m outbound.Message) error
}

type Ingester interface {
	Ingest(ctx context.Context, msg model.InboundMessage) (storage.IngestResult, error)
}

// Service exposes inbox reads, manual replies and, through the embedded
// Machine, the mode/status/assignment transitions.
type Service struct {
	*conversation.Machine

	store    Store
	sender   Sender
	ingester Ingester
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(store Store, machine *conversation.Machine, sender Sender, ingester Ingester, logger *slog.Logger) *Service {
	return &Service{
		Machine:  machine,
		store:    store,
		sender:   sender,
		ingester: ingester,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "inbox")),
	}
}

// Inbox lists up to storage.InboxLimit conversations, most recent first. An empty status lists all;
// the HTTP layer defaults it to open.
func (s *Service) Inbox(ctx context.Context, tenantID uuid.UUID, status model.Status) ([]model.Conversation, error) {
	return s.store.ListConversations(ctx, tenantID, status, storage.InboxLimit)
}

// Messages returns the conversation's history in chronological order.
func (s *Service) Messages(ctx context.Context, tenantID, conversationID uuid.UUID, cursor string, limit int) ([]model.Message, string, error) {
	if _, err := s.store.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, "", err
	}
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	return s.store.ListMessagesPaginated(ctx, tenantID, conversationID, cursor, limit)
}

type ReplyInput struct {
	Text     string
	ImageURL string
	Caption  string
}

// Reply sends an agent message and, once the gateway accepted it, stores it
// as an outbound message. Nothing is stored when sending fails.
func (s *Service) Reply(ctx context.Context, tenantID, conversationID uuid.UUID, in ReplyInput) (storage.IngestResult, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Text == "" && in.ImageURL == "" {
		return storage.IngestResult{}, ErrEmptyReply
	}
	if !normalize.IsMediaURL(in.ImageURL) {
		return storage.IngestResult{}, ErrInvalidImageURL
	}

	conv, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return storage.IngestResult{}, err
	}

	err = s.sender.Send(ctx, outbound.Message{
		TenantID: tenantID,
		Channel:  conv.Channel,
		To:       conv.ExternalThreadID,
		Text:     in.Text,
		ImageURL: in.ImageURL,
		Caption:  in.Caption,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "manual reply not delivered",
			slog.String("tenant_id", tenantID.String()),
			slog.String("conversation_id", conversationID.String()),
			slog.Any("error", err))
		return storage.IngestResult{}, fmt.Errorf("send reply: %w", err)
	}

	msg := model.InboundMessage{
		TenantID:          tenantID,
		Channel:           conv.Channel,
		ExternalThreadID:  conv.ExternalThreadID,
		ExternalMessageID: autoreply.LocalMessageID(),
		FromMe:            true,
		Type:              model.MessageText,
		TS:                s.now().UnixMilli(),
	}
	if in.ImageURL != "" {
		msg.Type = model.MessageImage
		msg.MediaURL = &in.ImageURL
	}
	text := in.Text
	if text == "" {
		text = in.Caption
	}
	if text != "" {
		msg.Text = &text
	}
	return s.ingester.Ingest(context.WithoutCancel(ctx), msg)
}
