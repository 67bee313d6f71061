package push

import (
	"context"
	"time"

	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/ws"
)

const notifyTimeout = 10 * time.Second

// Notifier fans deliveries out through the hub, then sends Web Push
// notifications to recipients without an open connection.
type Notifier struct {
	hub *ws.Hub
	svc *Service
}

func NewNotifier(hub *ws.Hub, svc *Service) *Notifier {
	return &Notifier{hub: hub, svc: svc}
}

func (n *Notifier) NotifyMessageReceived(recipientIDs []string, msg model.ChatMessageDto) {
	n.hub.NotifyMessageReceived(recipientIDs, msg)
	for _, id := range recipientIDs {
		if id == msg.SenderID || n.hub.IsOnline(id) {
			continue
		}
		go func(userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			n.svc.Notify(ctx, userID, "Ny besked", msg.Text, map[string]string{
				"chatId": msg.ChatID,
			})
		}(id)
	}
}

func (n *Notifier) NotifyChatStarted(recipientIDs []string, cmd command.StartChat) {
	n.hub.NotifyChatStarted(recipientIDs, cmd)
	body := ""
	if len(cmd.Messages) > 0 {
		body = cmd.Messages[0].Text
	}
	for _, id := range recipientIDs {
		if id == cmd.InitiatorID || n.hub.IsOnline(id) {
			continue
		}
		go func(userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			n.svc.Notify(ctx, userID, "Ny samtale", body, map[string]string{
				"chatId": cmd.ID,
			})
		}(id)
	}
}
