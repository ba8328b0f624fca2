package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of delivery.Log
 * One List per subscription, LPUSH on append so LRANGE reads newest
 * first without a reverse pass; concurrent appenders are safe because
 * LPUSH is a single atomic command
 */

const listPrefix = "deliveries" // List naming: deliveries:{subscription_id}

type Log struct {
	client *redis.Client
}

// NewLog creates a new Redis delivery log
func NewLog(addr, password string, db int) (*Log, error) {
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

	return &Log{
		client: client,
	}, nil
}

// NewLogWithClient wraps an existing client, sharing its connection pool
func NewLogWithClient(client *redis.Client) *Log {
	return &Log{client: client}
}

func listKey(subscriptionID string) string {
	return fmt.Sprintf("%s:%s", listPrefix, subscriptionID)
}

// Append adds one attempt entry to the subscription's history
func (l *Log) Append(ctx context.Context, entry delivery.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling log entry: %w", err)
	}

	if err := l.client.LPush(ctx, listKey(entry.SubscriptionID), data).Err(); err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	return nil
}

// List returns entries newest first, honoring the filter
func (l *Log) List(ctx context.Context, subscriptionID string, filter delivery.Filter) ([]delivery.Entry, error) {
	/* Status filtering happens client-side, so over-fetch when a
	 * status filter is set; unfiltered reads fetch exactly the limit
	 */
	stop := int64(-1)
	if filter.Limit > 0 && filter.Status == 0 {
		stop = int64(filter.Limit) - 1
	}

	raw, err := l.client.LRange(ctx, listKey(subscriptionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading log entries: %w", err)
	}

	entries := make([]delivery.Entry, 0, len(raw))
	for _, data := range raw {
		var entry delivery.Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("unmarshaling log entry: %w", err)
		}
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

// Close closes the Redis connection
func (l *Log) Close(_ context.Context) error {
	return l.client.Close()
}
