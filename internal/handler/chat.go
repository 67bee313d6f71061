package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jordnaer/chat/internal/bus"
	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/logger"
	"github.com/jordnaer/chat/internal/middleware"
	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxMessageLen   = 4000
)

// ChatHandler is the HTTP boundary: reads hit the store directly, writes
// are validated and published as commands for the router to apply.
type ChatHandler struct {
	store store.ChatStore
	bus   bus.Bus
}

func NewChatHandler(st store.ChatStore, b bus.Bus) *ChatHandler {
	return &ChatHandler{store: st, bus: b}
}

type StartChatRequest struct {
	ID          string                 `json:"id,omitempty"`
	DisplayName string                 `json:"display_name,omitempty"`
	Recipients  []model.UserSlim       `json:"recipients"`
	Messages    []model.ChatMessageDto `json:"messages,omitempty"`
}

type acceptedResponse struct {
	ID string `json:"id"`
}

// StartChat validates and enqueues a start-chat command. The caller must
// be part of the roster. A replay of an already-created chat id is a
// no-op success.
func (h *ChatHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	var req StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.Recipients) < 2 {
		writeError(w, http.StatusBadRequest, "at least two recipients required")
		return
	}
	initiatorInRoster := false
	seen := make(map[string]bool, len(req.Recipients))
	for _, rec := range req.Recipients {
		if rec.ID == "" {
			writeError(w, http.StatusBadRequest, "recipient id required")
			return
		}
		if seen[rec.ID] {
			writeError(w, http.StatusBadRequest, "duplicate recipient")
			return
		}
		seen[rec.ID] = true
		if rec.ID == currentUserID {
			initiatorInRoster = true
		}
	}
	if !initiatorInRoster {
		writeError(w, http.StatusBadRequest, "initiator must be among recipients")
		return
	}

	chatID := req.ID
	if chatID == "" {
		chatID = uuid.New().String()
	}
	exists, err := h.store.ChatExists(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check chat")
		return
	}
	if exists {
		writeJSON(w, http.StatusOK, acceptedResponse{ID: chatID})
		return
	}

	now := time.Now().UTC()
	lastSent := now
	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Text == "" && msg.AttachmentURL == "" {
			writeError(w, http.StatusBadRequest, "message text or attachment required")
			return
		}
		if len(msg.Text) > maxMessageLen {
			writeError(w, http.StatusBadRequest, "message too long")
			return
		}
		if msg.SenderID == "" {
			msg.SenderID = currentUserID
		}
		if msg.SenderID != currentUserID {
			writeError(w, http.StatusForbidden, "seed messages must come from the initiator")
			return
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if msg.SentUtc.IsZero() {
			msg.SentUtc = now
		}
		msg.ChatID = chatID
		if msg.SentUtc.After(lastSent) {
			lastSent = msg.SentUtc
		}
	}

	env := command.NewStartChat(command.StartChat{
		ID:                 chatID,
		InitiatorID:        currentUserID,
		DisplayName:        req.DisplayName,
		Messages:           req.Messages,
		Recipients:         req.Recipients,
		LastMessageSentUtc: lastSent,
		StartedUtc:         now,
	})
	if err := h.bus.Publish(r.Context(), env); err != nil {
		logger.Errorf("publish start-chat chat_id=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: chatID})
}

type SendMessageRequest struct {
	ID            string `json:"id,omitempty"`
	ChatID        string `json:"chat_id"`
	Text          string `json:"text"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// SendMessage validates and enqueues a send-message command. The sender
// is always the caller. A replayed message id is a no-op success.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id required")
		return
	}
	if req.Text == "" && req.AttachmentURL == "" {
		writeError(w, http.StatusBadRequest, "text or attachment required")
		return
	}
	if len(req.Text) > maxMessageLen {
		writeError(w, http.StatusBadRequest, "message too long")
		return
	}

	isRecipient, err := h.store.IsRecipient(r.Context(), req.ChatID, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isRecipient {
		exists, err := h.store.ChatExists(r.Context(), req.ChatID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check chat")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	messageID := req.ID
	if messageID == "" {
		messageID = uuid.New().String()
	} else {
		exists, err := h.store.MessageExists(r.Context(), messageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check message")
			return
		}
		if exists {
			writeJSON(w, http.StatusOK, acceptedResponse{ID: messageID})
			return
		}
	}

	env := command.NewSendMessage(command.SendMessage{
		ID:            messageID,
		ChatID:        req.ChatID,
		SenderID:      currentUserID,
		Text:          req.Text,
		AttachmentURL: req.AttachmentURL,
		SentUtc:       time.Now().UTC(),
	})
	if err := h.bus.Publish(r.Context(), env); err != nil {
		logger.Errorf("publish send-message chat_id=%s: %v", req.ChatID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: messageID})
}

type SetChatNameRequest struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`
}

// SetChatName enqueues a rename. An empty name clears the override so
// the roster-derived name shows again.
func (h *ChatHandler) SetChatName(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	var req SetChatNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id required")
		return
	}
	isRecipient, err := h.store.IsRecipient(r.Context(), req.ChatID, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isRecipient {
		exists, err := h.store.ChatExists(r.Context(), req.ChatID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check chat")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	env := command.NewSetChatName(command.SetChatName{
		ChatID:       req.ChatID,
		Name:         req.Name,
		TimestampUtc: time.Now().UTC(),
	})
	if err := h.bus.Publish(r.Context(), env); err != nil {
		logger.Errorf("publish set-chat-name chat_id=%s: %v", req.ChatID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: req.ChatID})
}

// GetChats returns the caller's chats ordered by last activity, with
// per-chat unread counts and resolved display names.
func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	skip := queryInt(r, "skip", 0)
	take := queryInt(r, "take", defaultPageSize)
	if take <= 0 || take > maxPageSize {
		take = defaultPageSize
	}
	chats, err := h.store.ListChats(r.Context(), currentUserID, skip, take)
	if err != nil {
		logger.Errorf("list chats user=%s: %v", middleware.MaskUserID(currentUserID), err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	for i := range chats {
		chats[i].DisplayName = model.ResolveDisplayName(chats[i].DisplayName, chats[i].Recipients, currentUserID)
	}
	writeJSON(w, http.StatusOK, chats)
}

// GetMessages returns a page of the chat's messages, oldest first.
// Participants only.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")
	if ok := h.requireParticipant(w, r, chatID, currentUserID); !ok {
		return
	}
	skip := queryInt(r, "skip", 0)
	take := queryInt(r, "take", defaultPageSize)
	if take <= 0 || take > maxPageSize {
		take = defaultPageSize
	}
	msgs, err := h.store.ListMessages(r.Context(), chatID, skip, take)
	if err != nil {
		logger.Errorf("list messages chat_id=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type MarkReadRequest struct {
	UpToUtc time.Time `json:"up_to_utc,omitempty"`
}

type MarkReadResponse struct {
	ChatID  string `json:"chat_id"`
	Removed int64  `json:"removed"`
}

// MarkRead clears the caller's unread rows in the chat up to the given
// timestamp (defaults to now). Messages arriving after the cutoff stay
// unread.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")
	if ok := h.requireParticipant(w, r, chatID, currentUserID); !ok {
		return
	}
	var req MarkReadRequest
	if r.Body != nil {
		// Body is optional; decode errors on an empty body are fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	upto := req.UpToUtc
	if upto.IsZero() {
		upto = time.Now().UTC()
	}
	removed, err := h.store.MarkRead(r.Context(), chatID, currentUserID, upto)
	if err != nil {
		logger.Errorf("mark read chat_id=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{ChatID: chatID, Removed: removed})
}

type unreadResponse struct {
	Count int `json:"count"`
}

// GetUnreadCount returns the caller's unread count for one chat.
func (h *ChatHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")
	if ok := h.requireParticipant(w, r, chatID, currentUserID); !ok {
		return
	}
	n, err := h.store.UnreadCount(r.Context(), chatID, currentUserID)
	if err != nil {
		logger.Errorf("unread count chat_id=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{Count: n})
}

// GetTotalUnread returns the caller's unread count across all chats.
func (h *ChatHandler) GetTotalUnread(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	n, err := h.store.TotalUnreadCount(r.Context(), currentUserID)
	if err != nil {
		logger.Errorf("total unread user=%s: %v", middleware.MaskUserID(currentUserID), err)
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{Count: n})
}

// GetChatByUsers finds the existing chat whose roster is exactly the
// given user ids. The caller must be among them.
func (h *ChatHandler) GetChatByUsers(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "ids required")
		return
	}
	ids := strings.Split(raw, ",")
	callerIncluded := false
	for i, id := range ids {
		ids[i] = strings.TrimSpace(id)
		if ids[i] == currentUserID {
			callerIncluded = true
		}
	}
	if !callerIncluded {
		writeError(w, http.StatusForbidden, "caller must be among ids")
		return
	}
	chatID, err := h.store.FindChatByRecipients(r.Context(), ids)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		logger.Errorf("chat by users: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to look up chat")
		return
	}
	writeJSON(w, http.StatusOK, acceptedResponse{ID: chatID})
}

// DeleteMessage soft-deletes the caller's own message. The row stays for
// ordering; readers stop seeing it.
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "message id required")
		return
	}
	err := h.store.SoftDeleteMessage(r.Context(), messageID, currentUserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		logger.Errorf("delete message id=%s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireParticipant writes the error response and returns false unless
// the user is on the chat's roster.
func (h *ChatHandler) requireParticipant(w http.ResponseWriter, r *http.Request, chatID, userID string) bool {
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat id required")
		return false
	}
	isRecipient, err := h.store.IsRecipient(r.Context(), chatID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if isRecipient {
		return true
	}
	exists, err := h.store.ChatExists(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check chat")
		return false
	}
	if !exists {
		writeError(w, http.StatusNotFound, "chat not found")
		return false
	}
	writeError(w, http.StatusForbidden, "not a participant")
	return false
}
