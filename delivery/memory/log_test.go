package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFor(subID string, attempt int, status delivery.Status) delivery.Entry {
	return delivery.Entry{
		SubscriptionID: subID,
		EventID:        "event-1",
		EventType:      "content_analyzed",
		Status:         status,
		AttemptNumber:  attempt,
		Timestamp:      time.Now().UTC(),
	}
}

func TestLog_AppendAndList(t *testing.T) {
	ctx := context.Background()

	t.Run("success - newest first", func(t *testing.T) {
		log := NewLog()
		for i := 1; i <= 3; i++ {
			require.NoError(t, log.Append(ctx, entryFor("sub-1", i, delivery.Failed)))
		}

		entries, err := log.List(ctx, "sub-1", delivery.Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, 3, entries[0].AttemptNumber)
		assert.Equal(t, 1, entries[2].AttemptNumber)
	})

	t.Run("success - limit applies after status filter", func(t *testing.T) {
		log := NewLog()
		require.NoError(t, log.Append(ctx, entryFor("sub-1", 1, delivery.Failed)))
		require.NoError(t, log.Append(ctx, entryFor("sub-1", 2, delivery.Success)))
		require.NoError(t, log.Append(ctx, entryFor("sub-1", 3, delivery.Failed)))
		require.NoError(t, log.Append(ctx, entryFor("sub-1", 4, delivery.Failed)))

		entries, err := log.List(ctx, "sub-1", delivery.Filter{Status: delivery.Failed, Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, 4, entries[0].AttemptNumber)
		assert.Equal(t, 3, entries[1].AttemptNumber)
	})

	t.Run("success - histories are isolated per subscription", func(t *testing.T) {
		log := NewLog()
		require.NoError(t, log.Append(ctx, entryFor("sub-a", 1, delivery.Success)))
		require.NoError(t, log.Append(ctx, entryFor("sub-b", 1, delivery.Failed)))

		entries, err := log.List(ctx, "sub-a", delivery.Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, delivery.Success, entries[0].Status)
	})

	t.Run("success - unknown subscription", func(t *testing.T) {
		log := NewLog()
		entries, err := log.List(ctx, "missing", delivery.Filter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestLog_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	const writers = 100
	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(attempt int) {
			defer wg.Done()
			assert.NoError(t, log.Append(ctx, entryFor("sub-1", attempt, delivery.Success)))
		}(i)
	}
	wg.Wait()

	entries, err := log.List(ctx, "sub-1", delivery.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, writers)
}
