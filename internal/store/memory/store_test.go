package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/store"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedChat(t *testing.T, s *Store, chatID string, sent time.Time) {
	t.Helper()
	chat := model.Chat{ID: chatID, LastMessageSentUtc: sent, StartedUtc: sent}
	recipients := []model.UserSlim{
		{ID: "alice", DisplayName: "Alice Andersen"},
		{ID: "bob", DisplayName: "Bob Berg"},
	}
	seed := []model.ChatMessage{
		{ID: chatID + "-m1", ChatID: chatID, SenderID: "alice", Text: "hej", SentUtc: sent},
	}
	if err := s.CreateChat(context.Background(), chat, "alice", recipients, seed); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
}

func TestCreateChatDuplicate(t *testing.T) {
	s := New()
	seedChat(t, s, "c1", baseTime)
	err := s.CreateChat(context.Background(), model.Chat{ID: "c1"}, "alice", nil, nil)
	if !errors.Is(err, store.ErrDuplicateChat) {
		t.Fatalf("got %v, want ErrDuplicateChat", err)
	}
}

func TestAppendMessageUnknownChat(t *testing.T) {
	s := New()
	err := s.AppendMessage(context.Background(), model.ChatMessage{ID: "m1", ChatID: "missing"})
	if !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("got %v, want ErrChatNotFound", err)
	}
}

func TestSoftDeleteOwnMessagesOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedChat(t, s, "c1", baseTime)

	if err := s.SoftDeleteMessage(ctx, "c1-m1", "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleting someone else's message: got %v, want ErrNotFound", err)
	}
	if err := s.SoftDeleteMessage(ctx, "c1-m1", "alice"); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "c1", 0, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("deleted message still listed: %v", msgs)
	}
	// The row itself is retained for replay detection.
	if exists, _ := s.MessageExists(ctx, "c1-m1"); !exists {
		t.Error("soft-deleted message vanished from the store")
	}
}

func TestSoftDeleteClearsUnread(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedChat(t, s, "c1", baseTime)

	if got, _ := s.UnreadCount(ctx, "c1", "bob"); got != 1 {
		t.Fatalf("unread before delete = %d, want 1", got)
	}
	if err := s.SoftDeleteMessage(ctx, "c1-m1", "alice"); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	if got, _ := s.UnreadCount(ctx, "c1", "bob"); got != 0 {
		t.Errorf("unread after delete = %d, want 0", got)
	}
	if got, _ := s.TotalUnreadCount(ctx, "bob"); got != 0 {
		t.Errorf("total unread after delete = %d, want 0", got)
	}
}

func TestGetRecipientsPreservesRosterOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	roster := []model.UserSlim{
		{ID: "dora", DisplayName: "Dora Dahl"},
		{ID: "alice", DisplayName: "Alice Andersen"},
		{ID: "clara", DisplayName: "Clara Clausen"},
		{ID: "bob", DisplayName: "Bob Berg"},
	}
	chat := model.Chat{ID: "c1", LastMessageSentUtc: baseTime, StartedUtc: baseTime}
	if err := s.CreateChat(ctx, chat, "dora", roster, nil); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	got, err := s.GetRecipients(ctx, "c1")
	if err != nil {
		t.Fatalf("GetRecipients: %v", err)
	}
	for i := range roster {
		if got[i].ID != roster[i].ID {
			t.Fatalf("recipient[%d] = %s, want %s", i, got[i].ID, roster[i].ID)
		}
	}
}

func TestListChatsOrderAndUnread(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedChat(t, s, "old", baseTime)
	seedChat(t, s, "new", baseTime.Add(time.Hour))

	chats, err := s.ListChats(ctx, "bob", 0, 10)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ID != "new" || chats[1].ID != "old" {
		t.Errorf("order = %s, %s; want new, old", chats[0].ID, chats[1].ID)
	}
	if chats[0].UnreadMessageCount != 1 {
		t.Errorf("unread = %d, want 1", chats[0].UnreadMessageCount)
	}

	// The sender has no unread rows for their own messages.
	chats, _ = s.ListChats(ctx, "alice", 0, 10)
	if chats[0].UnreadMessageCount != 0 {
		t.Errorf("sender unread = %d, want 0", chats[0].UnreadMessageCount)
	}
}

func TestListChatsPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedChat(t, s, "c"+string(rune('0'+i)), baseTime.Add(time.Duration(i)*time.Minute))
	}
	page, err := s.ListChats(ctx, "alice", 2, 2)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d chats, want 2", len(page))
	}
	if page[0].ID != "c2" || page[1].ID != "c1" {
		t.Errorf("page = %s, %s; want c2, c1", page[0].ID, page[1].ID)
	}
	empty, _ := s.ListChats(ctx, "alice", 10, 2)
	if len(empty) != 0 {
		t.Errorf("got %d chats past the end, want 0", len(empty))
	}
}

func TestFindChatByRecipients(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedChat(t, s, "c1", baseTime)

	id, err := s.FindChatByRecipients(ctx, []string{"bob", "alice"})
	if err != nil {
		t.Fatalf("FindChatByRecipients: %v", err)
	}
	if id != "c1" {
		t.Errorf("got %s, want c1", id)
	}

	if _, err := s.FindChatByRecipients(ctx, []string{"alice", "bob", "clara"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("superset roster: got %v, want ErrNotFound", err)
	}
	if _, err := s.FindChatByRecipients(ctx, []string{"alice"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("subset roster: got %v, want ErrNotFound", err)
	}
}

func TestMarkReadOtherChatUntouched(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedChat(t, s, "c1", baseTime)
	seedChat(t, s, "c2", baseTime)

	removed, err := s.MarkRead(ctx, "c1", "bob", baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if got, _ := s.UnreadCount(ctx, "c2", "bob"); got != 1 {
		t.Errorf("c2 unread = %d, want 1 (MarkRead must be chat-scoped)", got)
	}
}

func TestSetDisplayNameClearsOnEmpty(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedChat(t, s, "c1", baseTime)

	if err := s.SetDisplayName(ctx, "c1", "Navnet", baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("SetDisplayName: %v", err)
	}
	if err := s.SetDisplayName(ctx, "c1", "", baseTime.Add(2*time.Minute)); err != nil {
		t.Fatalf("clear name: %v", err)
	}
	chat, _ := s.GetChat(ctx, "c1")
	if chat.DisplayName != "" {
		t.Errorf("display name = %q, want empty after clear", chat.DisplayName)
	}
}
