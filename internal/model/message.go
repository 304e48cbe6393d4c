// internal/model/message.go
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
	MessageDoc   MessageType = "doc"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageDoc:
		return true
	}
	return false
}

// Message is immutable once stored.
type Message struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	TenantID          uuid.UUID       `db:"tenant_id" json:"tenantId"`
	ConversationID    uuid.UUID       `db:"conversation_id" json:"conversationId"`
	Channel           Channel         `db:"channel" json:"channel"`
	ExternalMessageID string          `db:"external_message_id" json:"externalMessageId"`
	FromMe            bool            `db:"from_me" json:"fromMe"`
	Type              MessageType     `db:"type" json:"type"`
	Text              *string         `db:"text" json:"text,omitempty"`
	MediaURL          *string         `db:"media_url" json:"mediaUrl,omitempty"`
	MimeType          *string         `db:"mime_type" json:"mimeType,omitempty"`
	TS                int64           `db:"ts" json:"ts"`
	Raw               json.RawMessage `db:"raw" json:"raw,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}
