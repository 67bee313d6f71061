// Package command defines the units of work accepted from producers (HTTP
// API, hub) and routed through the message bus to the chat store.
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jordnaer/chat/internal/model"
)

// Kind tags a command envelope. Dispatch is a switch over this tag, not
// dynamic routing by payload type.
type Kind string

const (
	KindStartChat   Kind = "start_chat"
	KindSendMessage Kind = "send_message"
	KindSetChatName Kind = "set_chat_name"
)

// Queue topic names, one per command kind.
const (
	TopicStartChat   = "start-chat"
	TopicSendMessage = "send-message"
	TopicSetChatName = "set-chat-name"
)

// Topic returns the queue topic a command kind is routed through.
func (k Kind) Topic() (string, error) {
	switch k {
	case KindStartChat:
		return TopicStartChat, nil
	case KindSendMessage:
		return TopicSendMessage, nil
	case KindSetChatName:
		return TopicSetChatName, nil
	default:
		return "", fmt.Errorf("command: unknown kind %q", string(k))
	}
}

// StartChat creates a new chat with its roster and first message(s) in
// one unit. Id is assigned by the initiator; replays are detected by it.
type StartChat struct {
	ID                 string                 `json:"id"`
	InitiatorID        string                 `json:"initiator_id"`
	DisplayName        string                 `json:"display_name,omitempty"`
	Messages           []model.ChatMessageDto `json:"messages"`
	Recipients         []model.UserSlim       `json:"recipients"`
	LastMessageSentUtc time.Time              `json:"last_message_sent_utc"`
	StartedUtc         time.Time              `json:"started_utc"`
}

// SendMessage appends one message to an existing chat.
type SendMessage struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	SenderID      string    `json:"sender_id"`
	Text          string    `json:"text"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	SentUtc       time.Time `json:"sent_utc"`
}

// ToDto converts the command to the wire message pushed to recipients.
func (m SendMessage) ToDto() model.ChatMessageDto {
	return model.ChatMessageDto{
		ID:            m.ID,
		ChatID:        m.ChatID,
		SenderID:      m.SenderID,
		Text:          m.Text,
		AttachmentURL: m.AttachmentURL,
		SentUtc:       m.SentUtc,
	}
}

// SetChatName overrides a chat's computed display name. An empty Name
// clears the override. Latest TimestampUtc wins on redelivery.
type SetChatName struct {
	ChatID       string    `json:"chat_id"`
	Name         string    `json:"name"`
	TimestampUtc time.Time `json:"timestamp_utc"`
}

// Envelope is the tagged variant carried on the bus: exactly one of the
// payload fields is set, matching Kind.
type Envelope struct {
	Kind        Kind         `json:"kind"`
	StartChat   *StartChat   `json:"start_chat,omitempty"`
	SendMessage *SendMessage `json:"send_message,omitempty"`
	SetChatName *SetChatName `json:"set_chat_name,omitempty"`
}

// NewStartChat wraps a StartChat command in an envelope.
func NewStartChat(c StartChat) Envelope {
	return Envelope{Kind: KindStartChat, StartChat: &c}
}

// NewSendMessage wraps a SendMessage command in an envelope.
func NewSendMessage(c SendMessage) Envelope {
	return Envelope{Kind: KindSendMessage, SendMessage: &c}
}

// NewSetChatName wraps a SetChatName command in an envelope.
func NewSetChatName(c SetChatName) Envelope {
	return Envelope{Kind: KindSetChatName, SetChatName: &c}
}

// Encode serializes the envelope for the bus.
func (e Envelope) Encode() ([]byte, error) {
	switch e.Kind {
	case KindStartChat:
		if e.StartChat == nil {
			return nil, fmt.Errorf("command: %s envelope without payload", e.Kind)
		}
	case KindSendMessage:
		if e.SendMessage == nil {
			return nil, fmt.Errorf("command: %s envelope without payload", e.Kind)
		}
	case KindSetChatName:
		if e.SetChatName == nil {
			return nil, fmt.Errorf("command: %s envelope without payload", e.Kind)
		}
	default:
		return nil, fmt.Errorf("command: unknown kind %q", string(e.Kind))
	}
	return json.Marshal(e)
}

// Decode parses an envelope received from the bus and validates that the
// payload matches the declared kind.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("command: decode envelope: %w", err)
	}
	switch e.Kind {
	case KindStartChat:
		if e.StartChat == nil {
			return Envelope{}, fmt.Errorf("command: %s envelope without payload", e.Kind)
		}
	case KindSendMessage:
		if e.SendMessage == nil {
			return Envelope{}, fmt.Errorf("command: %s envelope without payload", e.Kind)
		}
	case KindSetChatName:
		if e.SetChatName == nil {
			return Envelope{}, fmt.Errorf("command: %s envelope without payload", e.Kind)
		}
	default:
		return Envelope{}, fmt.Errorf("command: unknown kind %q", string(e.Kind))
	}
	return e, nil
}
