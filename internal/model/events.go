package model

import "github.com/google/uuid"

const (
	EventMessageCreated      = "message_created"
	EventConversationUpdated = "conversation_updated"
)

type MessageCreated struct {
	TenantID       uuid.UUID `json:"tenantId"`
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
}

type ConversationUpdated struct {
	TenantID       uuid.UUID `json:"tenantId"`
	ConversationID uuid.UUID `json:"conversationId"`
}
