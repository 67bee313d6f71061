package ws

import (
	"context"
	"sync"
	"time"

	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/logger"
	"github.com/jordnaer/chat/internal/model"
)

// ReadMarker acknowledges a recipient's unread rows up to a timestamp.
// Implemented by the chat store.
type ReadMarker interface {
	MarkRead(ctx context.Context, chatID, recipientID string, upto time.Time) (int64, error)
}

// Hub tracks connected clients per user id and pushes chat events to
// their active connections. Pushes are best-effort: an offline recipient
// gets nothing here and catches up from the durable unread rows.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	total   int
	opts    Options

	readMarker ReadMarker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// Options tunes the hub and its client connections. Zero values fall
// back to defaults.
type Options struct {
	MaxConns       int
	SendBufSize    int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBufSize <= 0 {
		o.SendBufSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	return o
}

func NewHub(readMarker ReadMarker, opts Options) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		opts:       opts.withDefaults(),
		readMarker: readMarker,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleMessage dispatches an incoming client frame.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleMarkRead", time.Now())()
	if msg.ChatID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "chat_id required"})
		return
	}
	upto := msg.UpToUtc
	if upto.IsZero() {
		upto = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	removed, err := h.readMarker.MarkRead(ctx, msg.ChatID, c.userID, upto)
	if err != nil {
		logger.Errorf("ws mark read chat=%s user=%s: %v", msg.ChatID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to mark read"})
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMarkRead, Payload: MarkedReadPayload{
		ChatID:  msg.ChatID,
		Removed: removed,
	}})
}

// NotifyMessageReceived pushes a new message to every active connection
// of each recipient. Called by the router after the store commit.
func (h *Hub) NotifyMessageReceived(recipientIDs []string, msg model.ChatMessageDto) {
	defer logger.DeferLogDuration("ws.NotifyMessageReceived", time.Now())()
	out := OutgoingMessage{Type: EventReceiveChatMessage, Payload: msg}
	for _, uid := range recipientIDs {
		h.sendToUser(uid, out)
	}
}

// NotifyChatStarted pushes a newly created chat to every active
// connection of each recipient.
func (h *Hub) NotifyChatStarted(recipientIDs []string, chat command.StartChat) {
	defer logger.DeferLogDuration("ws.NotifyChatStarted", time.Now())()
	out := OutgoingMessage{Type: EventStartChat, Payload: startChatPayload(chat)}
	for _, uid := range recipientIDs {
		h.sendToUser(uid, out)
	}
}

// IsOnline reports whether the user has at least one active connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
