package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-outbox/subscription"
)

/* In-memory implementation of subscription.Repository
 * Used as the embedded store and as a fast test double; all methods
 * are safe for concurrent use, counters mutate under the lock so
 * RecordAttempt is a single atomic step
 */

type Repository struct {
	mu   sync.RWMutex
	subs map[string]subscription.Subscription
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{
		subs: make(map[string]subscription.Subscription),
	}
}

// Store persists a new subscription
func (r *Repository) Store(_ context.Context, sub subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
	return nil
}

// Get retrieves a subscription by ID
func (r *Repository) Get(_ context.Context, id string) (subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return sub, nil
}

// List returns every subscription, ordered by creation time for stable output
func (r *Repository) List(_ context.Context) ([]subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]subscription.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	return subs, nil
}

// Save replaces an existing subscription record
func (r *Repository) Save(_ context.Context, sub subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.subs[sub.ID]
	if !ok {
		return subscription.ErrNotFound
	}

	// Counters are owned by RecordAttempt; keep the stored values
	sub.DeliveryCount = stored.DeliveryCount
	sub.FailureCount = stored.FailureCount
	sub.LastTriggered = stored.LastTriggered
	r.subs[sub.ID] = sub
	return nil
}

// Delete removes a subscription
func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return subscription.ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

// RecordAttempt updates the delivery counters under the write lock
func (r *Repository) RecordAttempt(_ context.Context, id string, success bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return subscription.ErrNotFound
	}

	sub.DeliveryCount++
	if !success {
		sub.FailureCount++
	}
	sub.LastTriggered = &at
	r.subs[id] = sub
	return nil
}

// Close is a no-op for the in-memory store
func (r *Repository) Close(_ context.Context) error {
	return nil
}
