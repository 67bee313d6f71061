// Package memory is an in-process chat store used by -dev runs and
// tests. It mirrors the postgres store's semantics, including the
// monotonic watermark and idempotent inserts, behind a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/store"
)

type chatState struct {
	chat       model.Chat
	nameSetUtc time.Time
	recipients []string // stable roster order
	messages   []model.ChatMessage
}

type Store struct {
	mu       sync.RWMutex
	chats    map[string]*chatState
	messages map[string]string                // message id -> chat id
	profiles map[string]model.UserSlim        // user id -> profile
	unread   map[string][]model.UnreadMessage // recipient id -> rows
}

func New() *Store {
	return &Store{
		chats:    make(map[string]*chatState),
		messages: make(map[string]string),
		profiles: make(map[string]model.UserSlim),
		unread:   make(map[string][]model.UnreadMessage),
	}
}

func (s *Store) Close() {}

func (s *Store) CreateChat(_ context.Context, chat model.Chat, initiatorID string, recipients []model.UserSlim, seed []model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; ok {
		return store.ErrDuplicateChat
	}
	cs := &chatState{chat: chat}
	for _, r := range recipients {
		cs.recipients = append(cs.recipients, r.ID)
		s.profiles[r.ID] = r
	}
	for _, m := range seed {
		if _, ok := s.messages[m.ID]; ok {
			continue
		}
		m.ChatID = chat.ID
		cs.messages = append(cs.messages, m)
		s.messages[m.ID] = chat.ID
		for _, r := range recipients {
			if r.ID == initiatorID {
				continue
			}
			s.unread[r.ID] = append(s.unread[r.ID], model.UnreadMessage{
				ChatID:         chat.ID,
				SenderID:       m.SenderID,
				RecipientID:    r.ID,
				MessageID:      m.ID,
				MessageSentUtc: m.SentUtc,
			})
		}
	}
	s.chats[chat.ID] = cs
	return nil
}

func (s *Store) AppendMessage(_ context.Context, msg model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[msg.ChatID]
	if !ok {
		return store.ErrChatNotFound
	}
	if _, ok := s.messages[msg.ID]; ok {
		// Redelivery: already applied in full.
		return nil
	}
	cs.messages = append(cs.messages, msg)
	s.messages[msg.ID] = msg.ChatID
	for _, rid := range cs.recipients {
		if rid == msg.SenderID {
			continue
		}
		s.unread[rid] = append(s.unread[rid], model.UnreadMessage{
			ChatID:         msg.ChatID,
			SenderID:       msg.SenderID,
			RecipientID:    rid,
			MessageID:      msg.ID,
			MessageSentUtc: msg.SentUtc,
		})
	}
	if msg.SentUtc.After(cs.chat.LastMessageSentUtc) {
		cs.chat.LastMessageSentUtc = msg.SentUtc
	}
	return nil
}

func (s *Store) SetDisplayName(_ context.Context, chatID, name string, setUtc time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return store.ErrChatNotFound
	}
	if setUtc.Before(cs.nameSetUtc) {
		// A newer rename already applied.
		return nil
	}
	cs.chat.DisplayName = name
	cs.nameSetUtc = setUtc
	return nil
}

func (s *Store) SoftDeleteMessage(_ context.Context, messageID, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chatID, ok := s.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	cs := s.chats[chatID]
	for i := range cs.messages {
		if cs.messages[i].ID == messageID {
			if cs.messages[i].SenderID != senderID {
				return store.ErrNotFound
			}
			cs.messages[i].IsDeleted = true
			s.dropUnreadForMessage(messageID)
			return nil
		}
	}
	return store.ErrNotFound
}

// dropUnreadForMessage removes every recipient's unread row for the
// message. Caller holds s.mu.
func (s *Store) dropUnreadForMessage(messageID string) {
	for rid, rows := range s.unread {
		kept := rows[:0]
		for _, u := range rows {
			if u.MessageID != messageID {
				kept = append(kept, u)
			}
		}
		s.unread[rid] = kept
	}
}

func (s *Store) GetChat(_ context.Context, chatID string) (model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return model.Chat{}, store.ErrChatNotFound
	}
	return cs.chat, nil
}

func (s *Store) ChatExists(_ context.Context, chatID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chats[chatID]
	return ok, nil
}

func (s *Store) MessageExists(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[messageID]
	return ok, nil
}

func (s *Store) GetRecipients(_ context.Context, chatID string) ([]model.UserSlim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return nil, store.ErrChatNotFound
	}
	users := make([]model.UserSlim, 0, len(cs.recipients))
	for _, rid := range cs.recipients {
		users = append(users, s.profiles[rid])
	}
	return users, nil
}

func (s *Store) GetRecipientIDs(_ context.Context, chatID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return nil, store.ErrChatNotFound
	}
	ids := make([]string, len(cs.recipients))
	copy(ids, cs.recipients)
	return ids, nil
}

func (s *Store) IsRecipient(_ context.Context, chatID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	for _, rid := range cs.recipients {
		if rid == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListChats(ctx context.Context, userID string, skip, take int) ([]model.ChatDto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]model.ChatDto, 0, 16)
	for _, cs := range s.chats {
		member := false
		for _, rid := range cs.recipients {
			if rid == userID {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		recipients := make([]model.UserSlim, 0, len(cs.recipients))
		for _, rid := range cs.recipients {
			recipients = append(recipients, s.profiles[rid])
		}
		unread := 0
		for _, um := range s.unread[userID] {
			if um.ChatID == cs.chat.ID {
				unread++
			}
		}
		chats = append(chats, model.ChatDto{
			ID:                 cs.chat.ID,
			DisplayName:        cs.chat.DisplayName,
			Recipients:         recipients,
			LastMessageSentUtc: cs.chat.LastMessageSentUtc,
			StartedUtc:         cs.chat.StartedUtc,
			UnreadMessageCount: unread,
		})
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastMessageSentUtc.After(chats[j].LastMessageSentUtc)
	})
	if skip >= len(chats) {
		return []model.ChatDto{}, nil
	}
	chats = chats[skip:]
	if take < len(chats) {
		chats = chats[:take]
	}
	return chats, nil
}

func (s *Store) ListMessages(_ context.Context, chatID string, skip, take int) ([]model.ChatMessageDto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return nil, store.ErrChatNotFound
	}
	msgs := make([]model.ChatMessageDto, 0, len(cs.messages))
	for _, m := range cs.messages {
		if m.IsDeleted {
			continue
		}
		msgs = append(msgs, m.ToDto())
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].SentUtc.Before(msgs[j].SentUtc)
	})
	if skip >= len(msgs) {
		return []model.ChatMessageDto{}, nil
	}
	msgs = msgs[skip:]
	if take < len(msgs) {
		msgs = msgs[:take]
	}
	return msgs, nil
}

func (s *Store) FindChatByRecipients(_ context.Context, userIDs []string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}
	for _, cs := range s.chats {
		if len(cs.recipients) != len(want) {
			continue
		}
		match := true
		for _, rid := range cs.recipients {
			if _, ok := want[rid]; !ok {
				match = false
				break
			}
		}
		if match {
			return cs.chat.ID, nil
		}
	}
	return "", store.ErrNotFound
}

func (s *Store) UnreadCount(_ context.Context, chatID, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, um := range s.unread[recipientID] {
		if um.ChatID == chatID {
			count++
		}
	}
	return count, nil
}

func (s *Store) TotalUnreadCount(_ context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.unread[recipientID]), nil
}

func (s *Store) MarkRead(_ context.Context, chatID, recipientID string, upto time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.unread[recipientID]
	kept := rows[:0]
	var removed int64
	for _, um := range rows {
		if um.ChatID == chatID && !um.MessageSentUtc.After(upto) {
			removed++
			continue
		}
		kept = append(kept, um)
	}
	s.unread[recipientID] = kept
	return removed, nil
}
