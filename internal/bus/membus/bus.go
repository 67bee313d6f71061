// Package membus is an in-process command bus for -dev runs without
// Redis and for tests. Redelivery semantics match the redis bus: a
// handler error re-enqueues the command.
package membus

import (
	"context"
	"fmt"
	"sync"

	"github.com/jordnaer/chat/internal/bus"
	"github.com/jordnaer/chat/internal/command"
	"github.com/jordnaer/chat/internal/logger"
)

const queueSize = 1024

type Bus struct {
	mu     sync.Mutex
	topics map[string]chan command.Envelope
	wg     sync.WaitGroup
}

func New() *Bus {
	return &Bus{topics: make(map[string]chan command.Envelope)}
}

func (b *Bus) queue(topic string) chan command.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan command.Envelope, queueSize)
		b.topics[topic] = ch
	}
	return ch
}

func (b *Bus) Publish(ctx context.Context, env command.Envelope) error {
	topic, err := env.Kind.Topic()
	if err != nil {
		return err
	}
	select {
	case b.queue(topic) <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("membus: topic %s full", topic)
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic string, h bus.Handler) error {
	ch := b.queue(topic)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-ch:
				if err := h(ctx, env); err != nil {
					logger.Errorf("membus %s: %v, requeueing", topic, err)
					select {
					case ch <- env:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return nil
}

// Close waits for consumer goroutines to observe their context
// cancellation. Callers cancel the subscribe context first.
func (b *Bus) Close() error {
	b.wg.Wait()
	return nil
}
