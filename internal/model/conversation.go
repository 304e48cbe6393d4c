package model

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelMessenger Channel = "messenger"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelInstagram, ChannelMessenger:
		return true
	}
	return false
}

type Mode string

const (
	ModeBotOn Mode = "BOT_ON"
	ModeHuman Mode = "HUMAN"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Conversation is unique per (TenantID, Channel, ExternalThreadID).
type Conversation struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	TenantID         uuid.UUID  `db:"tenant_id" json:"tenantId"`
	Channel          Channel    `db:"channel" json:"channel"`
	ExternalThreadID string     `db:"external_thread_id" json:"externalThreadId"`
	Mode             Mode       `db:"mode" json:"mode"`
	Status           Status     `db:"status" json:"status"`
	AssignedUserID   *uuid.UUID `db:"assigned_user_id" json:"assignedUserId"`
	LastMessageAt    time.Time  `db:"last_message_at" json:"lastMessageAt"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}
