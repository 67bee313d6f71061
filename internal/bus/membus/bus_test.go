package membus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jordnaer/chat/internal/command"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPublishDelivers(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	var got atomic.Int32
	err := b.Subscribe(ctx, command.TopicSetChatName, func(_ context.Context, env command.Envelope) error {
		if env.SetChatName == nil || env.SetChatName.ChatID != "c1" {
			t.Errorf("unexpected envelope: %+v", env)
		}
		got.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	env := command.NewSetChatName(command.SetChatName{ChatID: "c1", Name: "x", TimestampUtc: time.Now()})
	if err := b.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, func() bool { return got.Load() == 1 })

	cancel()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHandlerErrorRedelivers(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	err := b.Subscribe(ctx, command.TopicSetChatName, func(_ context.Context, _ command.Envelope) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	env := command.NewSetChatName(command.SetChatName{ChatID: "c1", Name: "x", TimestampUtc: time.Now()})
	if err := b.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, func() bool { return attempts.Load() >= 2 })
}

func TestPublishUnknownKind(t *testing.T) {
	b := New()
	if err := b.Publish(context.Background(), command.Envelope{Kind: "bogus"}); err == nil {
		t.Fatal("expected error for unknown command kind")
	}
}

func TestTopicsAreIndependent(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var renames atomic.Int32
	if err := b.Subscribe(ctx, command.TopicSetChatName, func(_ context.Context, _ command.Envelope) error {
		renames.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// No consumer on send-message: its queue just buffers.
	send := command.NewSendMessage(command.SendMessage{ID: "m1", ChatID: "c1", SenderID: "u1", Text: "hej", SentUtc: time.Now()})
	if err := b.Publish(ctx, send); err != nil {
		t.Fatalf("Publish send-message: %v", err)
	}
	rename := command.NewSetChatName(command.SetChatName{ChatID: "c1", Name: "x", TimestampUtc: time.Now()})
	if err := b.Publish(ctx, rename); err != nil {
		t.Fatalf("Publish set-chat-name: %v", err)
	}
	waitFor(t, func() bool { return renames.Load() == 1 })
}
