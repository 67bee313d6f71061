package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/store/memory"
)

type fakeNotifier struct {
	mu           sync.Mutex
	chatsStarted []command.StartChat
	messages     []model.ChatMessageDto
	recipients   [][]string
}

func (f *fakeNotifier) NotifyChatStarted(ids []string, chat command.StartChat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatsStarted = append(f.chatsStarted, chat)
	f.recipients = append(f.recipients, ids)
}

func (f *fakeNotifier) NotifyMessageReceived(ids []string, msg model.ChatMessageDto) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	f.recipients = append(f.recipients, ids)
}

func (f *fakeNotifier) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeNotifier) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chatsStarted)
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func startChatCmd(chatID string) command.Envelope {
	return command.NewStartChat(command.StartChat{
		ID:          chatID,
		InitiatorID: "alice",
		Messages: []model.ChatMessageDto{
			{ID: chatID + "-m1", ChatID: chatID, SenderID: "alice", Text: "hej", SentUtc: baseTime},
		},
		Recipients: []model.UserSlim{
			{ID: "alice", DisplayName: "Alice Andersen"},
			{ID: "bob", DisplayName: "Bob Berg"},
		},
		LastMessageSentUtc: baseTime,
		StartedUtc:         baseTime,
	})
}

func sendMessageCmd(id, chatID, sender string, sent time.Time) command.Envelope {
	return command.NewSendMessage(command.SendMessage{
		ID:       id,
		ChatID:   chatID,
		SenderID: sender,
		Text:     "besked " + id,
		SentUtc:  sent,
	})
}

func TestStartChatCreatesChatAndNotifies(t *testing.T) {
	st := memory.New()
	n := &fakeNotifier{}
	r := New(st, n)
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	chat, err := st.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if !chat.LastMessageSentUtc.Equal(baseTime) {
		t.Errorf("watermark = %v, want %v", chat.LastMessageSentUtc, baseTime)
	}
	if n.startCount() != 1 {
		t.Fatalf("notified %d times, want 1", n.startCount())
	}
	// Seed message unread for bob, not for the initiator.
	if got, _ := st.UnreadCount(ctx, "c1", "bob"); got != 1 {
		t.Errorf("bob unread = %d, want 1", got)
	}
	if got, _ := st.UnreadCount(ctx, "c1", "alice"); got != 0 {
		t.Errorf("alice unread = %d, want 0", got)
	}
}

func TestStartChatReplayIsNoOp(t *testing.T) {
	st := memory.New()
	n := &fakeNotifier{}
	r := New(st, n)
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("replay must ack, got %v", err)
	}
	if n.startCount() != 1 {
		t.Errorf("notified %d times after replay, want 1", n.startCount())
	}
	if got, _ := st.UnreadCount(ctx, "c1", "bob"); got != 1 {
		t.Errorf("bob unread after replay = %d, want 1", got)
	}
}

func TestStartChatReplayDifferentRosterKeepsOriginal(t *testing.T) {
	st := memory.New()
	n := &fakeNotifier{}
	r := New(st, n)
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	replay := startChatCmd("c1")
	replay.StartChat.Recipients = []model.UserSlim{
		{ID: "alice", DisplayName: "Alice Andersen"},
		{ID: "clara", DisplayName: "Clara Clausen"},
	}
	if err := r.Handle(ctx, replay); err != nil {
		t.Fatalf("replay must ack, got %v", err)
	}

	ids, err := st.GetRecipientIDs(ctx, "c1")
	if err != nil {
		t.Fatalf("GetRecipientIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Errorf("roster = %v, want [alice bob] unchanged", ids)
	}
	if n.startCount() != 1 {
		t.Errorf("notified %d times after replay, want 1", n.startCount())
	}
}

func TestSendMessageReplayIsNoOp(t *testing.T) {
	st := memory.New()
	n := &fakeNotifier{}
	r := New(st, n)
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	msg := sendMessageCmd("m2", "c1", "alice", baseTime.Add(time.Minute))
	if err := r.Handle(ctx, msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := r.Handle(ctx, msg); err != nil {
		t.Fatalf("replay must ack, got %v", err)
	}
	if n.messageCount() != 1 {
		t.Errorf("pushed %d times after replay, want 1", n.messageCount())
	}
	if got, _ := st.UnreadCount(ctx, "c1", "bob"); got != 2 {
		t.Errorf("bob unread = %d, want 2 (seed + m2, no duplicates)", got)
	}
}

func TestSendMessageToUnknownChatIsRejectedNotRetried(t *testing.T) {
	st := memory.New()
	n := &fakeNotifier{}
	r := New(st, n)

	err := r.Handle(context.Background(), sendMessageCmd("m1", "missing", "alice", baseTime))
	if err != nil {
		t.Fatalf("permanent rejection must ack, got %v", err)
	}
	if n.messageCount() != 0 {
		t.Errorf("pushed %d times, want 0", n.messageCount())
	}
}

func TestSendMessageFromNonParticipantIsRejected(t *testing.T) {
	st := memory.New()
	n := &fakeNotifier{}
	r := New(st, n)
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	err := r.Handle(ctx, sendMessageCmd("m2", "c1", "mallory", baseTime.Add(time.Minute)))
	if err != nil {
		t.Fatalf("permanent rejection must ack, got %v", err)
	}
	if n.messageCount() != 0 {
		t.Errorf("pushed %d times, want 0", n.messageCount())
	}
	if exists, _ := st.MessageExists(ctx, "m2"); exists {
		t.Error("rejected message was persisted")
	}
}

func TestWatermarkMonotonicUnderOutOfOrderDelivery(t *testing.T) {
	st := memory.New()
	r := New(st, &fakeNotifier{})
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	late := baseTime.Add(10 * time.Minute)
	early := baseTime.Add(time.Minute)
	if err := r.Handle(ctx, sendMessageCmd("m-late", "c1", "alice", late)); err != nil {
		t.Fatalf("late message: %v", err)
	}
	if err := r.Handle(ctx, sendMessageCmd("m-early", "c1", "bob", early)); err != nil {
		t.Fatalf("early message: %v", err)
	}

	chat, err := st.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if !chat.LastMessageSentUtc.Equal(late) {
		t.Errorf("watermark regressed to %v, want %v", chat.LastMessageSentUtc, late)
	}
}

func TestConcurrentSendsToSameChat(t *testing.T) {
	st := memory.New()
	n := &fakeNotifier{}
	r := New(st, n)
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("start chat: %v", err)
	}

	const senders = 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env := sendMessageCmd("m-"+string(rune('a'+i)), "c1", "alice", baseTime.Add(time.Duration(i+1)*time.Second))
			if err := r.Handle(ctx, env); err != nil {
				t.Errorf("Handle: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got, _ := st.UnreadCount(ctx, "c1", "bob"); got != senders+1 {
		t.Errorf("bob unread = %d, want %d", got, senders+1)
	}
	chat, _ := st.GetChat(ctx, "c1")
	want := baseTime.Add(senders * time.Second)
	if !chat.LastMessageSentUtc.Equal(want) {
		t.Errorf("watermark = %v, want %v", chat.LastMessageSentUtc, want)
	}
}

func TestSetChatNameLatestWins(t *testing.T) {
	st := memory.New()
	r := New(st, &fakeNotifier{})
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	newer := command.NewSetChatName(command.SetChatName{ChatID: "c1", Name: "Nyt navn", TimestampUtc: baseTime.Add(2 * time.Minute)})
	older := command.NewSetChatName(command.SetChatName{ChatID: "c1", Name: "Gammelt navn", TimestampUtc: baseTime.Add(time.Minute)})
	if err := r.Handle(ctx, newer); err != nil {
		t.Fatalf("newer rename: %v", err)
	}
	// Stale redelivery arrives after the newer rename.
	if err := r.Handle(ctx, older); err != nil {
		t.Fatalf("stale rename must ack, got %v", err)
	}

	chat, _ := st.GetChat(ctx, "c1")
	if chat.DisplayName != "Nyt navn" {
		t.Errorf("display name = %q, want %q", chat.DisplayName, "Nyt navn")
	}
}

func TestSetChatNameUnknownChatIsRejected(t *testing.T) {
	st := memory.New()
	r := New(st, &fakeNotifier{})
	env := command.NewSetChatName(command.SetChatName{ChatID: "missing", Name: "x", TimestampUtc: baseTime})
	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("permanent rejection must ack, got %v", err)
	}
}

func TestMarkReadBoundedByTimestamp(t *testing.T) {
	st := memory.New()
	r := New(st, &fakeNotifier{})
	ctx := context.Background()

	if err := r.Handle(ctx, startChatCmd("c1")); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	if err := r.Handle(ctx, sendMessageCmd("m2", "c1", "alice", baseTime.Add(time.Minute))); err != nil {
		t.Fatalf("m2: %v", err)
	}
	if err := r.Handle(ctx, sendMessageCmd("m3", "c1", "alice", baseTime.Add(2*time.Minute))); err != nil {
		t.Fatalf("m3: %v", err)
	}

	removed, err := st.MarkRead(ctx, "c1", "bob", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2 (seed and m2)", removed)
	}
	if got, _ := st.UnreadCount(ctx, "c1", "bob"); got != 1 {
		t.Errorf("bob unread = %d, want 1 (m3 past the cutoff)", got)
	}
	if got, _ := st.TotalUnreadCount(ctx, "bob"); got != 1 {
		t.Errorf("bob total unread = %d, want 1", got)
	}
}
