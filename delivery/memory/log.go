package memory

import (
	"context"
	"sync"

	"github.com/marcelsud/webhook-outbox/delivery"
)

/* In-memory implementation of delivery.Log
 * Append-only slice per subscription, guarded by a single lock; used
 * as the embedded log and as a fast test double
 */

type Log struct {
	mu      sync.RWMutex
	entries map[string][]delivery.Entry
}

// NewLog creates an empty in-memory delivery log
func NewLog() *Log {
	return &Log{
		entries: make(map[string][]delivery.Entry),
	}
}

// Append adds one attempt entry to the subscription's history
func (l *Log) Append(_ context.Context, entry delivery.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.SubscriptionID] = append(l.entries[entry.SubscriptionID], entry)
	return nil
}

// List returns entries newest first, honoring the filter
func (l *Log) List(_ context.Context, subscriptionID string, filter delivery.Filter) ([]delivery.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored := l.entries[subscriptionID]
	entries := make([]delivery.Entry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		entry := stored[i]
		if filter.Status != 0 && entry.Status != filter.Status {
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

// Close is a no-op for the in-memory log
func (l *Log) Close(_ context.Context) error {
	return nil
}
