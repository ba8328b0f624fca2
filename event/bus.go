package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

/* Bus is the ingress queue between event producers and the dispatcher
 * Unbounded FIFO by design: Publish never blocks on delivery latency,
 * Consume blocks until an event is available or the context is cancelled
 *
 * Producers never see subscriptions or delivery state; Publish is the
 * single ingress point of the delivery subsystem
 */

// ErrClosed is returned once the bus has been closed and drained
var ErrClosed = errors.New("event bus closed")

type Bus struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	closed bool
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		notify: make(chan struct{}, 1),
	}
}

// Publish enqueues an event and returns its generated ID immediately
func (b *Bus) Publish(eventType string, data map[string]any) (string, error) {
	e, err := New(eventType, data)
	if err != nil {
		return "", fmt.Errorf("building event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}

	b.queue = append(b.queue, e)

	// Wake up the consumer without ever blocking the producer
	select {
	case b.notify <- struct{}{}:
	default:
	}

	return e.EventID, nil
}

/* Consume removes and returns the oldest event, blocking until one is
 * available. Returns ctx.Err() on cancellation so the dispatcher can
 * shut down gracefully, and ErrClosed once the bus is closed and empty
 */
func (b *Bus) Consume(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			e := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return e, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-b.notify:
		}
	}
}

// Len reports the number of events waiting in the queue
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops accepting new events; queued events can still be consumed
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}
