package model

import "time"

// Chat is a conversation: an ordered message history plus a participant
// roster. Its id is assigned by the caller (StartChat), never generated
// server-side, so replayed commands can be detected by identity.
type Chat struct {
	ID string `json:"id"`

	// DisplayName is the explicit chat name. Empty means the name is
	// derived from the roster, see ResolveDisplayName.
	DisplayName string `json:"display_name,omitempty"`

	// LastMessageSentUtc is the monotonic watermark used to sort the
	// chat list by recency. Never less than the SentUtc of any message
	// in the chat.
	LastMessageSentUtc time.Time `json:"last_message_sent_utc"`
	StartedUtc         time.Time `json:"started_utc"`
}

// ChatDto is a chat as served to clients: the chat row plus its roster,
// optionally seed messages and the caller's unread count.
type ChatDto struct {
	ID                 string           `json:"id"`
	DisplayName        string           `json:"display_name,omitempty"`
	Recipients         []UserSlim       `json:"recipients"`
	Messages           []ChatMessageDto `json:"messages,omitempty"`
	LastMessageSentUtc time.Time        `json:"last_message_sent_utc"`
	StartedUtc         time.Time        `json:"started_utc"`
	UnreadMessageCount int              `json:"unread_message_count"`
}

// UserSlim is the roster entry: just enough of a user profile to render
// a chat. Components hold user ids and resolve profiles through the
// store, there are no entity back-references.
type UserSlim struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}
