package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"inbox-hub/internal/model"
)

// IngestResult describes the outcome of storing one inbound message.
type IngestResult struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	Deduped        bool
}

const upsertConversationSQL = `
	INSERT INTO conversations (id, tenant_id, channel, external_thread_id, mode, status, last_message_at)
	VALUES ($1, $2, $3, $4, 'BOT_ON', 'open', $5)
	ON CONFLICT (tenant_id, channel, external_thread_id)
	DO UPDATE SET last_message_at = EXCLUDED.last_message_at, updated_at = NOW()
	RETURNING id`

const insertMessageSQL = `
	INSERT INTO messages (id, tenant_id, conversation_id, channel, external_message_id,
		from_me, type, text, media_url, mime_type, ts, raw)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (tenant_id, channel, external_message_id) DO NOTHING
	RETURNING id`

// IngestMessage upserts the conversation and inserts the message in one
// transaction. A message whose (tenant, channel, external id) already exists
// rolls the whole transaction back, so the conversation is left untouched,
// and is reported as Deduped with the existing conversation id.
func (s *Storage) IngestMessage(ctx context.Context, in model.InboundMessage) (IngestResult, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var convID uuid.UUID
	err = tx.QueryRowContext(ctx, upsertConversationSQL,
		uuid.New(), in.TenantID, string(in.Channel), in.ExternalThreadID, time.UnixMilli(in.TS).UTC(),
	).Scan(&convID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("upsert conversation: %w", err)
	}

	var msgID uuid.UUID
	err = tx.QueryRowContext(ctx, insertMessageSQL,
		uuid.New(), in.TenantID, convID, string(in.Channel), in.ExternalMessageID,
		in.FromMe, string(in.Type), in.Text, in.MediaURL, in.MimeType, in.TS, rawJSON(in.Raw),
	).Scan(&msgID)
	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return IngestResult{}, fmt.Errorf("rollback duplicate: %w", err)
		}
		existing, err := s.conversationOfMessage(ctx, in.TenantID, in.Channel, in.ExternalMessageID)
		if err != nil {
			return IngestResult{}, err
		}
		return IngestResult{ConversationID: existing, Deduped: true}, nil
	case err != nil:
		return IngestResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.conversationOfMessage(ctx, in.TenantID, in.Channel, in.ExternalMessageID)
			if lookupErr != nil {
				return IngestResult{}, lookupErr
			}
			return IngestResult{ConversationID: existing, Deduped: true}, nil
		}
		return IngestResult{}, fmt.Errorf("commit: %w", err)
	}
	return IngestResult{ConversationID: convID, MessageID: msgID}, nil
}

func (s *Storage) conversationOfMessage(ctx context.Context, tenantID uuid.UUID, channel model.Channel, externalID string) (uuid.UUID, error) {
	var convID uuid.UUID
	err := s.DB.QueryRowContext(ctx, `
		SELECT conversation_id FROM messages
		WHERE tenant_id = $1 AND channel = $2 AND external_message_id = $3
	`, tenantID, string(channel), externalID).Scan(&convID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup duplicate message: %w", err)
	}
	return convID, nil
}

func rawJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// ListMessagesPaginated returns a conversation's messages in chronological
// order. The cursor is opaque to callers and resumes after the last row.
func (s *Storage) ListMessagesPaginated(ctx context.Context, tenantID, conversationID uuid.UUID, cursor string, limit int) ([]model.Message, string, error) {
	afterTS, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT id, tenant_id, conversation_id, channel, external_message_id,
		       from_me, type, text, media_url, mime_type, ts, raw, created_at
		FROM messages
		WHERE tenant_id = $1
		  AND conversation_id = $2
		  AND ($3::bigint IS NULL OR (ts, id) > ($3::bigint, $4::uuid))
		ORDER BY ts, id
		LIMIT $5
	`
	var tsArg, idArg any
	if cursor != "" {
		tsArg, idArg = afterTS, afterID
	}
	rows, err := s.DB.QueryContext(ctx, query, tenantID, conversationID, tsArg, idArg, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var (
			m                     model.Message
			text, media, mimeType sql.NullString
			raw                   []byte
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Channel, &m.ExternalMessageID,
			&m.FromMe, &m.Type, &text, &media, &mimeType, &m.TS, &raw, &m.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("scan failed: %w", err)
		}
		m.Text = nullString(text)
		m.MediaURL = nullString(media)
		m.MimeType = nullString(mimeType)
		if len(raw) > 0 {
			m.Raw = raw
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(messages) == limit {
		last := messages[len(messages)-1]
		nextCursor = encodeCursor(last.TS, last.ID)
	}
	return messages, nextCursor, nil
}

// CountFromMeSince counts outbound messages in the conversation with ts >= sinceMillis.
func (s *Storage) CountFromMeSince(ctx context.Context, tenantID, conversationID uuid.UUID, sinceMillis int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2 AND from_me AND ts >= $3
	`, tenantID, conversationID, sinceMillis).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbound messages: %w", err)
	}
	return n, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func encodeCursor(ts int64, id uuid.UUID) string {
	return strconv.FormatInt(ts, 10) + "_" + id.String()
}

func decodeCursor(cursor string) (int64, uuid.UUID, error) {
	if cursor == "" {
		return 0, uuid.Nil, nil
	}
	tsPart, idPart, ok := strings.Cut(cursor, "_")
	if !ok {
		return 0, uuid.Nil, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	return ts, id, nil
}
