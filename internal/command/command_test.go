package command

import (
	"testing"
	"time"
)

func TestKindTopic(t *testing.T) {
	cases := map[Kind]string{
		KindStartChat:   TopicStartChat,
		KindSendMessage: TopicSendMessage,
		KindSetChatName: TopicSetChatName,
	}
	for kind, want := range cases {
		topic, err := kind.Topic()
		if err != nil {
			t.Errorf("%s: %v", kind, err)
		}
		if topic != want {
			t.Errorf("%s routed to %q, want %q", kind, topic, want)
		}
	}
	if _, err := Kind("bogus").Topic(); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	env := NewSendMessage(SendMessage{ID: "m1", ChatID: "c1", SenderID: "u1", Text: "hej", SentUtc: sent})
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindSendMessage || got.SendMessage == nil {
		t.Fatalf("decoded envelope: %+v", got)
	}
	if got.SendMessage.ID != "m1" || !got.SendMessage.SentUtc.Equal(sent) {
		t.Errorf("payload mismatch: %+v", got.SendMessage)
	}
}

func TestDecodeRejectsKindPayloadMismatch(t *testing.T) {
	// Declared start_chat but carries a send_message payload.
	raw := []byte(`{"kind":"start_chat","send_message":{"id":"m1","chat_id":"c1"}}`)
	if _, err := Decode(raw); err == nil {
		t.Error("expected error for payload not matching kind")
	}
	if _, err := Decode([]byte(`{"kind":"bogus"}`)); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestEncodeRejectsMissingPayload(t *testing.T) {
	if _, err := (Envelope{Kind: KindStartChat}).Encode(); err == nil {
		t.Error("expected error for envelope without payload")
	}
}
