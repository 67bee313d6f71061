// Package redisbus implements the command bus on Redis Streams. Each
// topic is one stream consumed through a consumer group, so commands
// survive process restarts and failed deliveries are claimed back and
// retried (at-least-once).
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordnaer/chat/internal/bus"
	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/logger"
)

const (
	streamPrefix = "chat:commands:"
	group        = "chat-router"
	payloadField = "payload"

	readBlock    = 5 * time.Second
	readCount    = 16
	claimMinIdle = 30 * time.Second
	maxLen       = 100000
)

type Bus struct {
	cli      *redis.Client
	consumer string
}

// New connects to Redis and verifies the connection. consumer names this
// process within the consumer group (e.g. hostname).
func New(ctx context.Context, url, consumer string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisbus: parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redisbus: ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redisbus: ping: %w", err)
	}
	return &Bus{cli: cli, consumer: consumer}, nil
}

func (b *Bus) Close() error {
	return b.cli.Close()
}

func (b *Bus) Publish(ctx context.Context, env command.Envelope) error {
	defer logger.DeferLogDuration("bus.Publish", time.Now())()
	topic, err := env.Kind.Topic()
	if err != nil {
		return err
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	err = b.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + topic,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{payloadField: raw},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, h bus.Handler) error {
	stream := streamPrefix + topic
	err := b.cli.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("redisbus: create group %s: %w", topic, err)
	}
	go b.consumeLoop(ctx, stream, topic, h)
	return nil
}

func (b *Bus) consumeLoop(ctx context.Context, stream, topic string, h bus.Handler) {
	claimStart := "0-0"
	for {
		if ctx.Err() != nil {
			return
		}

		// Reclaim messages another consumer (or a previous run of this
		// one) read but never acked.
		claimed, next, err := b.cli.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: b.consumer,
			MinIdle:  claimMinIdle,
			Start:    claimStart,
			Count:    readCount,
		}).Result()
		if err != nil && ctx.Err() == nil {
			logger.Errorf("bus %s autoclaim: %v", topic, err)
		} else {
			claimStart = next
			b.deliver(ctx, stream, topic, claimed, h)
		}

		streams, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.consumer,
			Streams:  []string{stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Errorf("bus %s read: %v", topic, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range streams {
			b.deliver(ctx, stream, topic, s.Messages, h)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, stream, topic string, msgs []redis.XMessage, h bus.Handler) {
	for _, msg := range msgs {
		raw, ok := msg.Values[payloadField].(string)
		if !ok {
			// Malformed entry; ack so it is not redelivered forever.
			logger.Errorf("bus %s: entry %s has no payload", topic, msg.ID)
			b.ack(ctx, stream, topic, msg.ID)
			continue
		}
		env, err := command.Decode([]byte(raw))
		if err != nil {
			logger.Errorf("bus %s: entry %s: %v", topic, msg.ID, err)
			b.ack(ctx, stream, topic, msg.ID)
			continue
		}
		if err := h(ctx, env); err != nil {
			// Left pending; XAutoClaim retries it after claimMinIdle.
			logger.Errorf("bus %s: handle %s: %v", topic, msg.ID, err)
			continue
		}
		b.ack(ctx, stream, topic, msg.ID)
	}
}

func (b *Bus) ack(ctx context.Context, stream, topic, id string) {
	if err := b.cli.XAck(ctx, stream, group, id).Err(); err != nil && ctx.Err() == nil {
		logger.Errorf("bus %s: ack %s: %v", topic, id, err)
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
