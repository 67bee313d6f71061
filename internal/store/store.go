// Package store defines the durable chat store consumed by the command
// router and the HTTP read path. Implementations: postgres.Store (pgx)
// and memory.Store (for -dev and tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jordnaer/chat/internal/model"
)

var (
	// ErrNotFound is returned for absent rows on the read path.
	ErrNotFound = errors.New("not found")
	// ErrChatNotFound is returned when a command references an unknown chat.
	ErrChatNotFound = errors.New("chat not found")
	// ErrDuplicateChat is returned by CreateChat when the chat id already
	// exists. Callers treat a replayed StartChat as a no-op success.
	ErrDuplicateChat = errors.New("chat already exists")
)

// ChatStore is the transactional persistence layer for chats, messages,
// unread rows and roster membership.
//
// CreateChat and AppendMessage are atomic units: the chat mutation, its
// unread rows and the watermark advance become visible together or not
// at all. AppendMessage never regresses LastMessageSentUtc, out-of-order
// redelivery keeps the watermark at the maximum seen.
type ChatStore interface {
	// CreateChat persists a chat, its roster and seed messages in one
	// unit, inserting one unread row per (recipient != initiator) per
	// seed message. Returns ErrDuplicateChat if the id exists; the
	// existing chat is left untouched.
	CreateChat(ctx context.Context, chat model.Chat, initiatorID string, recipients []model.UserSlim, seed []model.ChatMessage) error

	// AppendMessage inserts a message, one unread row per roster member
	// other than the sender, and advances the chat watermark, all
	// atomically under the chat's row lock. Returns ErrChatNotFound for
	// an unknown chat. Replays of an already-stored message id are no-ops.
	AppendMessage(ctx context.Context, msg model.ChatMessage) error

	// SetDisplayName overwrites the explicit chat name; empty clears the
	// override. Latest setUtc wins: an older redelivered rename never
	// overwrites a newer one. Returns ErrChatNotFound for an unknown chat.
	SetDisplayName(ctx context.Context, chatID, name string, setUtc time.Time) error

	GetChat(ctx context.Context, chatID string) (model.Chat, error)
	ChatExists(ctx context.Context, chatID string) (bool, error)
	MessageExists(ctx context.Context, messageID string) (bool, error)
	GetRecipients(ctx context.Context, chatID string) ([]model.UserSlim, error)
	GetRecipientIDs(ctx context.Context, chatID string) ([]string, error)
	IsRecipient(ctx context.Context, chatID, userID string) (bool, error)

	// ListChats returns the user's chats ordered by LastMessageSentUtc
	// descending, with roster and the user's unread count per chat.
	ListChats(ctx context.Context, userID string, skip, take int) ([]model.ChatDto, error)

	// ListMessages returns non-deleted messages ordered by SentUtc
	// ascending.
	ListMessages(ctx context.Context, chatID string, skip, take int) ([]model.ChatMessageDto, error)

	// FindChatByRecipients returns the id of an existing chat whose
	// roster is exactly userIDs, or ErrNotFound.
	FindChatByRecipients(ctx context.Context, userIDs []string) (string, error)

	// SoftDeleteMessage flags the sender's own message as deleted; the
	// row is retained for ordering and audit. Returns ErrNotFound when no
	// message matches (id, sender).
	SoftDeleteMessage(ctx context.Context, messageID, senderID string) error

	// UnreadCount returns the number of unread rows for (chat, recipient).
	UnreadCount(ctx context.Context, chatID, recipientID string) (int, error)

	// TotalUnreadCount returns the recipient's unread rows across all chats.
	TotalUnreadCount(ctx context.Context, recipientID string) (int, error)

	// MarkRead removes the recipient's unread rows in the chat with
	// MessageSentUtc <= upto and reports how many were removed. The
	// timestamp bound keeps a concurrent AppendMessage's fresh row alive.
	MarkRead(ctx context.Context, chatID, recipientID string, upto time.Time) (int64, error)

	Close()
}
