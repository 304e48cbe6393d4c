package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"inbox-hub/internal/model"
)

const conversationColumns = `id, tenant_id, channel, external_thread_id, mode, status,
	assigned_user_id, last_message_at, created_at, updated_at`

// InboxLimit caps a single inbox listing.
const InboxLimit = 100

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var (
		c        model.Conversation
		assigned uuid.NullUUID
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Channel, &c.ExternalThreadID, &c.Mode, &c.Status,
		&assigned, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Conversation{}, err
	}
	if assigned.Valid {
		id := assigned.UUID
		c.AssignedUserID = &id
	}
	return c, nil
}

// GetConversation is tenant-scoped: another tenant's conversation reads as ErrNotFound.
func (s *Storage) GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (model.Conversation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+conversationColumns+`
		FROM conversations WHERE tenant_id = $1 AND id = $2`, tenantID, conversationID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the tenant's inbox, most recently active first.
// An empty status lists every conversation.
func (s *Storage) ListConversations(ctx context.Context, tenantID uuid.UUID, status model.Status, limit int) ([]model.Conversation, error) {
	if limit <= 0 || limit > InboxLimit {
		limit = InboxLimit
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1
		  AND ($2::text = '' OR status = $2::text)
		ORDER BY last_message_at DESC, updated_at DESC
		LIMIT $3`, tenantID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Storage) SetConversationMode(ctx context.Context, tenantID, conversationID uuid.UUID, mode model.Mode) (model.Conversation, error) {
	return s.updateConversation(ctx, `mode = $3`, tenantID, conversationID, string(mode))
}

func (s *Storage) SetConversationStatus(ctx context.Context, tenantID, conversationID uuid.UUID, status model.Status) (model.Conversation, error) {
	return s.updateConversation(ctx, `status = $3`, tenantID, conversationID, string(status))
}

// SetAssignedUser sets or, with a nil userID, clears the assignee.
func (s *Storage) SetAssignedUser(ctx context.Context, tenantID, conversationID uuid.UUID, userID *uuid.UUID) (model.Conversation, error) {
	return s.updateConversation(ctx, `assigned_user_id = $3`, tenantID, conversationID, userID)
}

func (s *Storage) updateConversation(ctx context.Context, set string, tenantID, conversationID uuid.UUID, value any) (model.Conversation, error) {
	row := s.DB.QueryRowContext(ctx, `UPDATE conversations
		SET `+set+`, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+conversationColumns, tenantID, conversationID, value)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	return c, nil
}
