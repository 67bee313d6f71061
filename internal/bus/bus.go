// Package bus is the command queue between producers (HTTP API) and the
// router. Delivery is at-least-once; consumers rely on the router's
// idempotence to make redelivery safe.
// Implementations: redisbus.Bus (Redis Streams), membus.Bus (for -dev
// runs and tests).
package bus

import (
	"context"

	"github.com/jordnaer/chat/internal/command"
)

// Handler processes one decoded command. A nil return acknowledges the
// message; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, env command.Envelope) error

type Bus interface {
	// Publish enqueues a command on the topic for its kind.
	Publish(ctx context.Context, env command.Envelope) error

	// Subscribe starts a consumer for the topic. The handler is invoked
	// sequentially per topic; topics consume independently. Subscribe
	// returns once the consumer is running, consumption stops when ctx
	// is cancelled.
	Subscribe(ctx context.Context, topic string, h Handler) error

	Close() error
}
