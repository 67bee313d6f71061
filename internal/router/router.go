// Package router consumes chat commands from the bus and applies them to
// the chat store: persist atomically, update unread tracking, then push
// realtime notifications. Redelivered commands are detected by identity
// and never duplicate messages or unread rows.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordnaer/chat/internal/bus"
	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/logger"
	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/store"
)

// ErrNotAParticipant rejects a SendMessage whose sender is not in the
// chat's roster.
var ErrNotAParticipant = errors.New("sender is not a chat participant")

// Notifier pushes realtime notifications to recipients' active
// connections. Pushes are best-effort and must never block or fail the
// originating command; they are invoked only after the store commit.
type Notifier interface {
	NotifyChatStarted(recipientIDs []string, chat command.StartChat)
	NotifyMessageReceived(recipientIDs []string, msg model.ChatMessageDto)
}

type handlerFunc func(ctx context.Context, env command.Envelope) error

type Router struct {
	store    store.ChatStore
	notifier Notifier
	locks    *chatLocks
	handlers map[command.Kind]handlerFunc
}

func New(st store.ChatStore, notifier Notifier) *Router {
	r := &Router{
		store:    st,
		notifier: notifier,
		locks:    newChatLocks(),
	}
	r.handlers = map[command.Kind]handlerFunc{
		command.KindStartChat:   r.handleStartChat,
		command.KindSendMessage: r.handleSendMessage,
		command.KindSetChatName: r.handleSetChatName,
	}
	return r
}

// Subscribe attaches the router to all three command topics.
func (r *Router) Subscribe(ctx context.Context, b bus.Bus) error {
	for _, topic := range []string{command.TopicStartChat, command.TopicSendMessage, command.TopicSetChatName} {
		if err := b.Subscribe(ctx, topic, r.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle dispatches one envelope through the typed handler table.
// Permanent rejections (unknown chat, non-participant sender) are logged
// and acked so the bus does not retry them forever; transient errors
// propagate and trigger redelivery.
func (r *Router) Handle(ctx context.Context, env command.Envelope) error {
	h, ok := r.handlers[env.Kind]
	if !ok {
		logger.Errorf("router: unknown command kind %q, dropping", string(env.Kind))
		return nil
	}
	err := h(ctx, env)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrChatNotFound), errors.Is(err, ErrNotAParticipant):
		logger.Errorf("router: %s rejected: %v", string(env.Kind), err)
		return nil
	default:
		return err
	}
}

func (r *Router) handleStartChat(ctx context.Context, env command.Envelope) error {
	defer logger.DeferLogDuration("router.StartChat", time.Now())()
	c := *env.StartChat

	unlock := r.locks.lock(c.ID)

	chat := model.Chat{
		ID:                 c.ID,
		DisplayName:        c.DisplayName,
		LastMessageSentUtc: c.LastMessageSentUtc,
		StartedUtc:         c.StartedUtc,
	}
	if t, ok := maxSentUtc(c.Messages); ok {
		chat.LastMessageSentUtc = t
	}
	seed := make([]model.ChatMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		m.ChatID = c.ID
		seed = append(seed, m.ToChatMessage())
	}

	err := r.store.CreateChat(ctx, chat, c.InitiatorID, c.Recipients, seed)
	unlock()
	if errors.Is(err, store.ErrDuplicateChat) {
		// Replay of an applied command: the existing chat (and its
		// roster) stays untouched and no one is re-notified.
		logger.Infof("router: chat %s already exists, skipping", c.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("router: start chat %s: %w", c.ID, err)
	}

	r.notifier.NotifyChatStarted(recipientIDs(c.Recipients), c)
	return nil
}

func (r *Router) handleSendMessage(ctx context.Context, env command.Envelope) error {
	defer logger.DeferLogDuration("router.SendMessage", time.Now())()
	c := *env.SendMessage

	unlock := r.locks.lock(c.ChatID)
	ids, err := r.sendMessageLocked(ctx, c)
	unlock()
	if err != nil {
		return err
	}
	if ids == nil {
		// Replay; already persisted and pushed once.
		return nil
	}

	r.notifier.NotifyMessageReceived(ids, c.ToDto())
	return nil
}

// sendMessageLocked validates and persists one message under the chat's
// lock. Returns the roster to notify, or nil for an idempotent replay.
func (r *Router) sendMessageLocked(ctx context.Context, c command.SendMessage) ([]string, error) {
	exists, err := r.store.MessageExists(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("router: check message %s: %w", c.ID, err)
	}
	if exists {
		logger.Infof("router: message %s already exists, skipping", c.ID)
		return nil, nil
	}

	chatExists, err := r.store.ChatExists(ctx, c.ChatID)
	if err != nil {
		return nil, fmt.Errorf("router: check chat %s: %w", c.ChatID, err)
	}
	if !chatExists {
		return nil, fmt.Errorf("router: send message to chat %s: %w", c.ChatID, store.ErrChatNotFound)
	}

	isRecipient, err := r.store.IsRecipient(ctx, c.ChatID, c.SenderID)
	if err != nil {
		return nil, fmt.Errorf("router: check membership chat=%s user=%s: %w", c.ChatID, c.SenderID, err)
	}
	if !isRecipient {
		return nil, fmt.Errorf("router: user %s in chat %s: %w", c.SenderID, c.ChatID, ErrNotAParticipant)
	}

	msg := model.ChatMessage{
		ID:            c.ID,
		ChatID:        c.ChatID,
		SenderID:      c.SenderID,
		Text:          c.Text,
		AttachmentURL: c.AttachmentURL,
		SentUtc:       c.SentUtc,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("router: append message %s: %w", c.ID, err)
	}

	ids, err := r.store.GetRecipientIDs(ctx, c.ChatID)
	if err != nil {
		// Persisted but the roster read failed: the unread rows are the
		// durable fallback, skip the push rather than retry the command.
		logger.Errorf("router: recipients for push chat=%s: %v", c.ChatID, err)
		return []string{}, nil
	}
	return ids, nil
}

func (r *Router) handleSetChatName(ctx context.Context, env command.Envelope) error {
	defer logger.DeferLogDuration("router.SetChatName", time.Now())()
	c := *env.SetChatName

	unlock := r.locks.lock(c.ChatID)
	err := r.store.SetDisplayName(ctx, c.ChatID, c.Name, c.TimestampUtc)
	unlock()
	if err != nil {
		return fmt.Errorf("router: set chat name %s: %w", c.ChatID, err)
	}
	return nil
}

func recipientIDs(recipients []model.UserSlim) []string {
	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ID)
	}
	return ids
}

func maxSentUtc(msgs []model.ChatMessageDto) (time.Time, bool) {
	var max time.Time
	for _, m := range msgs {
		if m.SentUtc.After(max) {
			max = m.SentUtc
		}
	}
	return max, !max.IsZero()
}
