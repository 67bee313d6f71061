package handler

import (
	"encoding/json"
	"net/http"

	"github.com/jordnaer/chat/internal/middleware"
	"github.com/jordnaer/chat/internal/push"
)

// PushHandler manages Web Push subscriptions for the caller.
type PushHandler struct {
	svc            *push.Service
	vapidPublicKey string
}

func NewPushHandler(svc *push.Service, vapidPublicKey string) *PushHandler {
	return &PushHandler{svc: svc, vapidPublicKey: vapidPublicKey}
}

// SubscribeRequest carries the browser subscription from
// PushManager.getSubscription().
type SubscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

// Subscribe stores the caller's push subscription.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err := h.svc.Subscribe(r.Context(), userID, req.Subscription); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe removes the subscription with the given endpoint.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.svc.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VAPIDPublicKey hands the public key to browsers for subscription.
func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeError(w, http.StatusNotFound, "push disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}
