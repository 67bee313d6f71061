// Package push delivers Web Push notifications to recipients with no
// active hub connection. Subscriptions live in Redis; when Redis or the
// VAPID keys are absent the service is a no-op.
package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"github.com/jordnaer/chat/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
	maxBodyLen      = 120
)

// Subscription is the browser's push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type notificationPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Service struct {
	redis *redis.Client
	vapid *VAPIDKeys
}

// NewService creates the push service. A nil redis client or nil keys
// disables pushes (all methods become no-ops).
func NewService(cli *redis.Client, keys *VAPIDKeys) *Service {
	return &Service{redis: cli, vapid: keys}
}

func (s *Service) enabled() bool {
	return s != nil && s.redis != nil && s.vapid != nil
}

// Subscribe stores a subscription for the user, keeping at most
// maxSubsPerUser per user.
func (s *Service) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if !s.enabled() {
		return nil
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	if err := s.redis.LRem(ctx, key, 0, raw).Err(); err != nil {
		return err
	}
	if err := s.redis.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	s.redis.LTrim(ctx, key, -maxSubsPerUser, -1)
	s.redis.Expire(ctx, key, subscriptionTTL)
	return nil
}

// Unsubscribe removes the subscription with the given endpoint.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if !s.enabled() {
		return nil
	}
	key := redisKeyPrefix + userID
	list, err := s.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			if err := s.redis.LRem(ctx, key, 0, item).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Notify sends a push to all of the user's subscriptions. Failures are
// logged and swallowed; dead subscriptions (404/410) are pruned.
func (s *Service) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if !s.enabled() {
		return
	}
	if len(body) > maxBodyLen {
		body = body[:maxBodyLen-3] + "..."
	}
	payloadBytes, err := json.Marshal(notificationPayload{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push payload: %v", err)
		return
	}

	key := redisKeyPrefix + userID
	list, err := s.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		logger.Errorf("push subs user=%s: %v", userID, err)
		return
	}

	opts := &webpush.Options{
		Subscriber:      "jordnaer-chat",
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             3600,
	}
	for _, item := range list {
		var sub Subscription
		if err := json.Unmarshal([]byte(item), &sub); err != nil {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, wpSub, opts)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			s.redis.LRem(ctx, key, 0, item)
		}
	}
}
