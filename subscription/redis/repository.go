package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of subscription.Repository
 * Uses a Redis Hash per subscription for field-level updates and an
 * index Set for listing; counters are incremented with HINCRBY so
 * concurrent delivery goroutines never race on read-modify-write
 */

const (
	hashPrefix = "subscription" // Hash naming: subscription:{id}
	indexKey   = "subscriptions" // Set of all subscription IDs
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func (r *Repository) write(ctx context.Context, sub subscription.Subscription, isNew bool) error {
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}
	metadataJSON, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	policyJSON, err := json.Marshal(sub.RetryPolicy)
	if err != nil {
		return fmt.Errorf("marshaling retry policy: %w", err)
	}

	fields := map[string]interface{}{
		"id":           sub.ID,
		"url":          sub.URL,
		"events":       string(eventsJSON),
		"secret":       sub.Secret,
		"active":       strconv.FormatBool(sub.Active),
		"retry_policy": string(policyJSON),
		"metadata":     string(metadataJSON),
		"created_at":   sub.CreatedAt.UnixNano(),
		"updated_at":   sub.UpdatedAt.UnixNano(),
	}
	if isNew {
		// Counters are owned by RecordAttempt after creation
		fields["delivery_count"] = 0
		fields["failure_count"] = 0
		fields["last_triggered"] = 0
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, hashKey(sub.ID), fields)
	pipe.SAdd(ctx, indexKey, sub.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing subscription hash: %w", err)
	}
	return nil
}

// Store persists a new subscription
func (r *Repository) Store(ctx context.Context, sub subscription.Subscription) error {
	return r.write(ctx, sub, true)
}

// Save replaces the mutable fields of an existing subscription
func (r *Repository) Save(ctx context.Context, sub subscription.Subscription) error {
	exists, err := r.client.Exists(ctx, hashKey(sub.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking subscription existence: %w", err)
	}
	if exists == 0 {
		return subscription.ErrNotFound
	}
	return r.write(ctx, sub, false)
}

// Get retrieves a subscription by ID
func (r *Repository) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	data, err := r.client.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	if len(data) == 0 {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return parseHash(data)
}

// List returns every subscription in the index
func (r *Repository) List(ctx context.Context) ([]subscription.Subscription, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing subscription ids: %w", err)
	}

	subs := make([]subscription.Subscription, 0, len(ids))
	for _, id := range ids {
		sub, err := r.Get(ctx, id)
		if err != nil {
			// Index entry without a hash: skip stale IDs
			if errors.Is(err, subscription.ErrNotFound) {
				continue
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Delete removes a subscription and its index entry
func (r *Repository) Delete(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, hashKey(id)).Result()
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if deleted == 0 {
		return subscription.ErrNotFound
	}
	if err := r.client.SRem(ctx, indexKey, id).Err(); err != nil {
		return fmt.Errorf("removing subscription from index: %w", err)
	}
	return nil
}

// RecordAttempt updates the delivery counters atomically with HINCRBY
func (r *Repository) RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error {
	exists, err := r.client.Exists(ctx, hashKey(id)).Result()
	if err != nil {
		return fmt.Errorf("checking subscription existence: %w", err)
	}
	if exists == 0 {
		return subscription.ErrNotFound
	}

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, hashKey(id), "delivery_count", 1)
	if !success {
		pipe.HIncrBy(ctx, hashKey(id), "failure_count", 1)
	}
	pipe.HSet(ctx, hashKey(id), "last_triggered", at.UnixNano())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *Repository) Close(_ context.Context) error {
	return r.client.Close()
}

func parseHash(data map[string]string) (subscription.Subscription, error) {
	var events []string
	if raw := data["events"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling events: %w", err)
		}
	}

	var metadata map[string]string
	if raw := data["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}

	var policy subscription.RetryPolicy
	if raw := data["retry_policy"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &policy); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling retry policy: %w", err)
		}
	}

	sub := subscription.Subscription{
		ID:            data["id"],
		URL:           data["url"],
		Events:        events,
		Secret:        data["secret"],
		Active:        data["active"] == "true",
		RetryPolicy:   policy,
		Metadata:      metadata,
		DeliveryCount: parseInt64(data["delivery_count"]),
		FailureCount:  parseInt64(data["failure_count"]),
		CreatedAt:     time.Unix(0, parseInt64(data["created_at"])).UTC(),
		UpdatedAt:     time.Unix(0, parseInt64(data["updated_at"])).UTC(),
	}

	if nanos := parseInt64(data["last_triggered"]); nanos > 0 {
		at := time.Unix(0, nanos).UTC()
		sub.LastTriggered = &at
	}

	return sub, nil
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
