package ws

import (
	"time"

	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/model"
)

type EventType string

const (
	// Server -> client pushes, the hub's delivery contract.
	EventReceiveChatMessage EventType = "receive_chat_message"
	EventStartChat          EventType = "start_chat"
	EventError              EventType = "error"

	// Client -> server: acknowledge messages as read.
	EventMarkRead EventType = "mark_read"
)

// IncomingMessage is what a client sends to the server.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id,omitempty"`

	// For mark_read: acknowledge everything sent at or before this time.
	UpToUtc time.Time `json:"up_to_utc,omitempty"`
}

// OutgoingMessage is what the server sends to a client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// StartChatPayload is pushed to each recipient when a chat is created.
type StartChatPayload struct {
	ID                 string                 `json:"id"`
	InitiatorID        string                 `json:"initiator_id"`
	DisplayName        string                 `json:"display_name,omitempty"`
	Messages           []model.ChatMessageDto `json:"messages"`
	Recipients         []model.UserSlim       `json:"recipients"`
	LastMessageSentUtc time.Time              `json:"last_message_sent_utc"`
	StartedUtc         time.Time              `json:"started_utc"`
}

func startChatPayload(c command.StartChat) StartChatPayload {
	return StartChatPayload{
		ID:                 c.ID,
		InitiatorID:        c.InitiatorID,
		DisplayName:        c.DisplayName,
		Messages:           c.Messages,
		Recipients:         c.Recipients,
		LastMessageSentUtc: c.LastMessageSentUtc,
		StartedUtc:         c.StartedUtc,
	}
}

// MarkedReadPayload confirms a mark_read acknowledgement.
type MarkedReadPayload struct {
	ChatID  string `json:"chat_id"`
	Removed int64  `json:"removed"`
}
