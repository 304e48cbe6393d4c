package autoreply

import (
	"strings"

	"github.com/google/uuid"

	"inbox-hub/internal/model"
)

// LocalIDPrefix marks external message ids generated by this service for outbound sends.
const LocalIDPrefix = "local-"

// Task is one auto-reply invocation. It is JSON-encoded onto the tenant queue.
type Task struct {
	TenantID         uuid.UUID     `json:"tenantId"`
	ConversationID   uuid.UUID     `json:"conversationId"`
	MessageID        uuid.UUID     `json:"messageId"`
	Channel          model.Channel `json:"channel"`
	ExternalThreadID string        `json:"externalThreadId"`
	Text             string        `json:"text"`
}

func NewTask(conversationID, messageID uuid.UUID, msg model.InboundMessage) Task {
	return Task{
		TenantID:         msg.TenantID,
		ConversationID:   conversationID,
		MessageID:        messageID,
		Channel:          msg.Channel,
		ExternalThreadID: msg.ExternalThreadID,
		Text:             strings.TrimSpace(deref(msg.Text)),
	}
}

// Qualifies reports whether a freshly stored message should be offered to the policy:
// inbound, text or image, with non-empty text.
func Qualifies(msg model.InboundMessage) bool {
	if msg.FromMe {
		return false
	}
	if msg.Type != model.MessageText && msg.Type != model.MessageImage {
		return false
	}
	return strings.TrimSpace(deref(msg.Text)) != ""
}

func LocalMessageID() string {
	return LocalIDPrefix + uuid.NewString()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
