package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// InboundMessage is the canonical event every channel adapter produces.
// TS is always epoch milliseconds once it has passed normalization.
type InboundMessage struct {
	TenantID          uuid.UUID       `json:"tenantId"`
	Channel           Channel         `json:"channel"`
	ExternalThreadID  string          `json:"externalThreadId"`
	ExternalMessageID string          `json:"externalMessageId"`
	FromMe            bool            `json:"fromMe"`
	Type              MessageType     `json:"type"`
	Text              *string         `json:"text,omitempty"`
	MediaURL          *string         `json:"mediaUrl,omitempty"`
	MimeType          *string         `json:"mimeType,omitempty"`
	TS                int64           `json:"ts"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}
