package model

import "time"

// ChatMessage is one message in a chat. Soft-deleted messages are kept
// for ordering and audit but excluded from display and unread counts.
type ChatMessage struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	SenderID      string    `json:"sender_id"`
	Text          string    `json:"text"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	IsDeleted     bool      `json:"is_deleted"`
	SentUtc       time.Time `json:"sent_utc"`
}

// ChatMessageDto is a message as carried on the wire (commands, hub
// pushes, HTTP responses).
type ChatMessageDto struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	SenderID      string    `json:"sender_id"`
	Text          string    `json:"text"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	SentUtc       time.Time `json:"sent_utc"`
}

// ToChatMessage converts a wire message to its storage form.
func (m ChatMessageDto) ToChatMessage() ChatMessage {
	return ChatMessage{
		ID:            m.ID,
		ChatID:        m.ChatID,
		SenderID:      m.SenderID,
		Text:          m.Text,
		AttachmentURL: m.AttachmentURL,
		SentUtc:       m.SentUtc,
	}
}

// ToDto converts a stored message to its wire form.
func (m ChatMessage) ToDto() ChatMessageDto {
	return ChatMessageDto{
		ID:            m.ID,
		ChatID:        m.ChatID,
		SenderID:      m.SenderID,
		Text:          m.Text,
		AttachmentURL: m.AttachmentURL,
		SentUtc:       m.SentUtc,
	}
}

// UnreadMessage is a durable per-recipient inbox marker: one row per
// (chat, recipient, message) not yet acknowledged as read. Rows exist
// only for recipients other than the sender.
type UnreadMessage struct {
	ChatID         string    `json:"chat_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	MessageID      string    `json:"message_id"`
	MessageSentUtc time.Time `json:"message_sent_utc"`
}
