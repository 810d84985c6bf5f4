// Package transport provides the message-delivery layer between
// publishers and subscribers. The in-process implementation dispatches
// by direct call with no serialization; socket-based implementations
// plug in behind the same domain.Transport interface.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"cartrita/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.MessageHandler
}

// Inproc is an in-process, goroutine-safe topic bus. Messages are
// delivered synchronously in publish order, so subscribers on one topic
// observe FIFO delivery from any single publisher. Handler errors and
// panics are logged and isolated: one misbehaving subscriber never
// affects delivery to its siblings.
type Inproc struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewInproc creates an in-process transport.
func NewInproc(logger *slog.Logger) *Inproc {
	return &Inproc{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for messages addressed to topic.
// Returns an unsubscribe function.
func (t *Inproc) Subscribe(topic string, handler domain.MessageHandler) func() {
	id := t.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	t.mu.Lock()
	t.topics[topic] = append(t.topics[topic], sub)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		subs := t.topics[topic]
		for i, s := range subs {
			if s.id == id {
				t.topics[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers msg to every subscriber of msg.Recipient, at most
// once each. Returns ErrTransportClosed after Close; a topic with no
// subscribers is not an error. The closed check and the in-flight
// registration happen under the same lock Close flips the flag under,
// so Close's drain wait observes every accepted publish.
func (t *Inproc) Publish(ctx context.Context, msg domain.Message) error {
	t.mu.RLock()
	if t.closed.Load() {
		t.mu.RUnlock()
		return domain.ErrTransportClosed
	}
	t.wg.Add(1)
	subs := make([]subscription, len(t.topics[msg.Recipient]))
	copy(subs, t.topics[msg.Recipient])
	t.mu.RUnlock()
	defer t.wg.Done()

	for _, sub := range subs {
		t.deliver(ctx, msg, sub)
	}
	return nil
}

func (t *Inproc) deliver(ctx context.Context, msg domain.Message, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("message handler panicked",
				"topic", msg.Recipient,
				"message_id", msg.ID,
				"panic", r,
			)
		}
	}()
	if err := sub.handler(ctx, msg); err != nil {
		t.logger.Error("message handler failed",
			"topic", msg.Recipient,
			"message_id", msg.ID,
			"message_type", string(msg.Type),
			"error", err,
		)
	}
}

// Close rejects further publishes and waits for in-flight deliveries.
// Idempotent.
func (t *Inproc) Close() {
	t.mu.Lock()
	already := t.closed.Swap(true)
	t.mu.Unlock()
	if already {
		return
	}
	t.wg.Wait()
}
