package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/delivery"
	deliverymemory "github.com/marcelsud/webhook-outbox/delivery/memory"
	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/subscription"
	subscriptionmemory "github.com/marcelsud/webhook-outbox/subscription/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	bus        *event.Bus
	svc        *subscription.Service
	log        *deliverymemory.Log
	dispatcher *delivery.Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	bus := event.NewBus()
	svc := subscription.NewService(subscriptionmemory.NewRepository())
	log := deliverymemory.NewLog()
	engine := delivery.NewEngine(svc, log, zerolog.Nop(), metrics.NewDeliveryStats())
	return &dispatcherFixture{
		bus:        bus,
		svc:        svc,
		log:        log,
		dispatcher: delivery.NewDispatcher(bus, svc, engine, zerolog.Nop()),
	}
}

// countingServer records one hit per received request and replies 200
func countingServer(t *testing.T) (*httptest.Server, func() int) {
	t.Helper()

	var (
		mu   sync.Mutex
		hits int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	return server, func() int {
		mu.Lock()
		defer mu.Unlock()
		return hits
	}
}

func waitForEntries(t *testing.T, log *deliverymemory.Log, subID string, want int) []delivery.Entry {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := log.List(context.Background(), subID, delivery.Filter{})
		require.NoError(t, err)
		if len(entries) >= want {
			return entries
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d log entries for %s", want, subID)
	return nil
}

func TestDispatcher_FansOutToMatchingSubscriptions(t *testing.T) {
	ctx := context.Background()
	fixture := newDispatcherFixture(t)

	matchedServer, matchedHits := countingServer(t)
	allServer, allHits := countingServer(t)
	otherServer, otherHits := countingServer(t)

	matched, err := fixture.svc.Create(ctx, subscription.Spec{URL: matchedServer.URL, Events: []string{"content_analyzed"}})
	require.NoError(t, err)
	catchAll, err := fixture.svc.Create(ctx, subscription.Spec{URL: allServer.URL, Events: nil})
	require.NoError(t, err)
	_, err = fixture.svc.Create(ctx, subscription.Spec{URL: otherServer.URL, Events: []string{"user_registered"}})
	require.NoError(t, err)

	require.NoError(t, fixture.dispatcher.Start())
	defer fixture.dispatcher.Stop(ctx)

	_, err = fixture.bus.Publish("content_analyzed", map[string]any{"content_id": "c-1"})
	require.NoError(t, err)

	waitForEntries(t, fixture.log, matched.ID, 1)
	waitForEntries(t, fixture.log, catchAll.ID, 1)

	assert.Equal(t, 1, matchedHits())
	assert.Equal(t, 1, allHits())
	assert.Equal(t, 0, otherHits(), "non-matching subscription must not be called")
}

func TestDispatcher_SkipsInactiveSubscriptions(t *testing.T) {
	ctx := context.Background()
	fixture := newDispatcherFixture(t)

	server, hits := countingServer(t)

	sub, err := fixture.svc.Create(ctx, subscription.Spec{URL: server.URL, Events: []string{"content_analyzed"}})
	require.NoError(t, err)

	inactive := false
	_, err = fixture.svc.Update(ctx, sub.ID, subscription.Update{Active: &inactive})
	require.NoError(t, err)

	require.NoError(t, fixture.dispatcher.Start())

	_, err = fixture.bus.Publish("content_analyzed", nil)
	require.NoError(t, err)

	// Give the loop a moment to consume, then stop and assert nothing happened
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, fixture.dispatcher.Stop(ctx))

	assert.Equal(t, 0, hits())
	entries, err := fixture.log.List(ctx, sub.ID, delivery.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatcher_ConsumesInOrder(t *testing.T) {
	ctx := context.Background()
	fixture := newDispatcherFixture(t)

	server, hits := countingServer(t)

	sub, err := fixture.svc.Create(ctx, subscription.Spec{URL: server.URL, Events: nil})
	require.NoError(t, err)

	// Publish before starting: the bus buffers, the dispatcher drains
	var published []string
	for i := 0; i < 5; i++ {
		id, err := fixture.bus.Publish("content_analyzed", map[string]any{"n": i})
		require.NoError(t, err)
		published = append(published, id)
	}

	require.NoError(t, fixture.dispatcher.Start())
	defer fixture.dispatcher.Stop(ctx)

	entries := waitForEntries(t, fixture.log, sub.ID, 5)
	assert.Equal(t, 5, hits())

	// List returns newest first; every published event must appear once
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		seen[entry.EventID] = true
	}
	for _, id := range published {
		assert.True(t, seen[id], "event %s was not delivered", id)
	}
}

func TestDispatcher_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fixture := newDispatcherFixture(t)

	t.Run("stop before start", func(t *testing.T) {
		assert.Error(t, fixture.dispatcher.Stop(ctx))
	})

	t.Run("double start", func(t *testing.T) {
		require.NoError(t, fixture.dispatcher.Start())
		assert.Error(t, fixture.dispatcher.Start())
	})

	t.Run("stop waits for in-flight deliveries", func(t *testing.T) {
		server, hits := countingServer(t)

		sub, err := fixture.svc.Create(ctx, subscription.Spec{URL: server.URL, Events: nil})
		require.NoError(t, err)

		_, err = fixture.bus.Publish("content_analyzed", nil)
		require.NoError(t, err)

		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, fixture.dispatcher.Stop(stopCtx))

		// The delivery dispatched before Stop ran to completion
		entries, err := fixture.log.List(ctx, sub.ID, delivery.Filter{})
		require.NoError(t, err)
		if len(entries) == 1 {
			assert.Equal(t, 1, hits())
		}
	})

	t.Run("restart after stop", func(t *testing.T) {
		require.NoError(t, fixture.dispatcher.Start())
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, fixture.dispatcher.Stop(stopCtx))
	})
}
