package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/subscription/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryStats(t *testing.T) {
	t.Run("sequences and retries", func(t *testing.T) {
		stats := metrics.NewDeliveryStats()
		stats.RecordSequence(true)
		stats.RecordSequence(true)
		stats.RecordSequence(false)
		stats.RecordRetry()

		snap := stats.Snapshot()
		assert.Equal(t, int64(3), snap.TotalSent)
		assert.Equal(t, int64(2), snap.Successful)
		assert.Equal(t, int64(1), snap.Failed)
		assert.Equal(t, int64(1), snap.Retries)
	})
}

func TestSystemCollector(t *testing.T) {
	ctx := context.Background()

	stats := metrics.NewDeliveryStats()
	stats.RecordSequence(true)

	bus := event.NewBus()
	_, err := bus.Publish("content_found", nil)
	require.NoError(t, err)

	repo := memory.NewRepository()
	require.NoError(t, repo.Store(ctx, subscription.Subscription{ID: "a", Active: true}))
	require.NoError(t, repo.Store(ctx, subscription.Subscription{ID: "b", Active: false}))

	collector := metrics.NewSystemCollector(stats, bus, repo)

	t.Run("collect", func(t *testing.T) {
		m, err := collector.Collect(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(1), m.Delivery.TotalSent)
		assert.Equal(t, int64(1), m.QueueLength)
		assert.Equal(t, int64(1), m.Subscriptions["active"])
		assert.Equal(t, int64(1), m.Subscriptions["inactive"])
		assert.WithinDuration(t, time.Now().UTC(), m.Timestamp, time.Second)
	})

	t.Run("queue length tracks the bus", func(t *testing.T) {
		_, err := bus.Consume(ctx)
		require.NoError(t, err)

		length, err := collector.GetQueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), length)
	})
}
