package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/delivery"
	deliverymemory "github.com/marcelsud/webhook-outbox/delivery/memory"
	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/signature"
	"github.com/marcelsud/webhook-outbox/subscription"
	subscriptionmemory "github.com/marcelsud/webhook-outbox/subscription/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	svc    *subscription.Service
	log    *deliverymemory.Log
	stats  *metrics.DeliveryStats
	engine *delivery.Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	svc := subscription.NewService(subscriptionmemory.NewRepository())
	log := deliverymemory.NewLog()
	stats := metrics.NewDeliveryStats()
	return &engineFixture{
		svc:    svc,
		log:    log,
		stats:  stats,
		engine: delivery.NewEngine(svc, log, zerolog.Nop(), stats),
	}
}

func (f *engineFixture) subscribe(t *testing.T, ctx context.Context, url string, spec subscription.Spec) subscription.Subscription {
	t.Helper()

	spec.URL = url
	sub, err := f.svc.Create(ctx, spec)
	require.NoError(t, err)
	return sub
}

func testEvent(t *testing.T, eventType string) event.Event {
	t.Helper()

	evt, err := event.New(eventType, map[string]any{"key": "value"})
	require.NoError(t, err)
	return evt
}

func TestEngine_Deliver_Success(t *testing.T) {
	ctx := context.Background()
	fixture := newEngineFixture(t)

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := fixture.subscribe(t, ctx, server.URL, subscription.Spec{Events: []string{"content_analyzed"}})
	fixture.engine.Deliver(ctx, sub, testEvent(t, "content_analyzed"))

	assert.Equal(t, int64(1), calls.Load(), "a 2xx response must not be retried")

	entries, err := fixture.log.List(ctx, sub.ID, delivery.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, delivery.Success, entries[0].Status)
	assert.Equal(t, http.StatusOK, entries[0].HTTPStatusCode)
	assert.Equal(t, 1, entries[0].AttemptNumber)

	updated, err := fixture.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.DeliveryCount)
	assert.Equal(t, int64(0), updated.FailureCount)
	require.NotNil(t, updated.LastTriggered)

	snapshot := fixture.stats.Snapshot()
	assert.Equal(t, int64(1), snapshot.TotalSent)
	assert.Equal(t, int64(1), snapshot.Successful)
	assert.Equal(t, int64(0), snapshot.Retries)
}

func TestEngine_Deliver_ExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	fixture := newEngineFixture(t)

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := fixture.subscribe(t, ctx, server.URL, subscription.Spec{
		Events:      []string{"content_analyzed"},
		RetryPolicy: &subscription.RetryPolicy{MaxRetries: 2, RetryDelaySeconds: 0, TimeoutSeconds: 5},
	})
	fixture.engine.Deliver(ctx, sub, testEvent(t, "content_analyzed"))

	// max_retries=2 means one initial attempt plus two retries
	assert.Equal(t, int64(3), calls.Load())

	entries, err := fixture.log.List(ctx, sub.ID, delivery.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, delivery.Failed, entry.Status)
		assert.Equal(t, http.StatusInternalServerError, entry.HTTPStatusCode)
		assert.Contains(t, entry.ErrorMessage, "upstream unavailable")
	}
	assert.Equal(t, 3, entries[0].AttemptNumber, "newest entry is the last attempt")

	updated, err := fixture.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.DeliveryCount, "the whole sequence counts as one delivery")
	assert.Equal(t, int64(1), updated.FailureCount)

	snapshot := fixture.stats.Snapshot()
	assert.Equal(t, int64(1), snapshot.TotalSent)
	assert.Equal(t, int64(1), snapshot.Failed)
	assert.Equal(t, int64(2), snapshot.Retries)
}

func TestEngine_Deliver_RecoversOnRetry(t *testing.T) {
	ctx := context.Background()
	fixture := newEngineFixture(t)

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sub := fixture.subscribe(t, ctx, server.URL, subscription.Spec{
		Events:      []string{"content_analyzed"},
		RetryPolicy: &subscription.RetryPolicy{MaxRetries: 3, RetryDelaySeconds: 0, TimeoutSeconds: 5},
	})
	fixture.engine.Deliver(ctx, sub, testEvent(t, "content_analyzed"))

	assert.Equal(t, int64(2), calls.Load())

	entries, err := fixture.log.List(ctx, sub.ID, delivery.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, delivery.Success, entries[0].Status)
	assert.Equal(t, delivery.Failed, entries[1].Status)

	updated, err := fixture.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.DeliveryCount)
	assert.Equal(t, int64(0), updated.FailureCount, "a sequence that eventually succeeds is not a failure")
}

func TestEngine_Deliver_SignsAndLabelsRequests(t *testing.T) {
	ctx := context.Background()
	fixture := newEngineFixture(t)

	const secret = "super-secret"
	evt := testEvent(t, "user_registered")

	var (
		gotHeaders http.Header
		gotBody    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := fixture.subscribe(t, ctx, server.URL, subscription.Spec{
		Events: []string{"user_registered"},
		Secret: secret,
	})
	fixture.engine.Deliver(ctx, sub, evt)

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "webhook-outbox/1.0", gotHeaders.Get("User-Agent"))
	assert.Equal(t, "user_registered", gotHeaders.Get("X-Webhook-Event"))
	assert.Equal(t, evt.EventID, gotHeaders.Get("X-Webhook-Delivery"))

	// The signature must verify against the exact bytes received
	valid, err := signature.VerifyHeader(secret, gotBody, gotHeaders.Get("X-Webhook-Signature"))
	require.NoError(t, err)
	assert.True(t, valid)

	var envelope delivery.Envelope
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, sub.ID, envelope.WebhookID)
	assert.Equal(t, evt.EventID, envelope.Event.EventID)
	assert.Equal(t, 1, envelope.DeliveryAttempt)
}

func TestEngine_Deliver_NoSecretNoSignature(t *testing.T) {
	ctx := context.Background()
	fixture := newEngineFixture(t)

	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := fixture.subscribe(t, ctx, server.URL, subscription.Spec{Events: []string{"content_analyzed"}})
	fixture.engine.Deliver(ctx, sub, testEvent(t, "content_analyzed"))

	_, present := gotHeaders["X-Webhook-Signature"]
	assert.False(t, present, "secretless subscriptions send no signature header")
}

func TestEngine_Deliver_TransportError(t *testing.T) {
	ctx := context.Background()
	fixture := newEngineFixture(t)

	// A closed server gives an immediate connection error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sub := fixture.subscribe(t, ctx, url, subscription.Spec{
		Events:      []string{"content_analyzed"},
		RetryPolicy: &subscription.RetryPolicy{MaxRetries: 1, RetryDelaySeconds: 0, TimeoutSeconds: 5},
	})
	fixture.engine.Deliver(ctx, sub, testEvent(t, "content_analyzed"))

	entries, err := fixture.log.List(ctx, sub.ID, delivery.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, delivery.Error, entry.Status)
		assert.Zero(t, entry.HTTPStatusCode)
		assert.NotEmpty(t, entry.ErrorMessage)
	}
}

func TestEngine_Deliver_Timeout(t *testing.T) {
	ctx := context.Background()
	fixture := newEngineFixture(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	sub := fixture.subscribe(t, ctx, server.URL, subscription.Spec{
		Events:      []string{"content_analyzed"},
		RetryPolicy: &subscription.RetryPolicy{MaxRetries: 0, RetryDelaySeconds: 0, TimeoutSeconds: 1},
	})

	start := time.Now()
	fixture.engine.Deliver(ctx, sub, testEvent(t, "content_analyzed"))
	assert.Less(t, time.Since(start), 5*time.Second)

	entries, err := fixture.log.List(ctx, sub.ID, delivery.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, delivery.Error, entries[0].Status)
}

func TestEngine_Deliver_CancelledDuringRetryWait(t *testing.T) {
	fixture := newEngineFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := fixture.subscribe(t, ctx, server.URL, subscription.Spec{
		Events:      []string{"content_analyzed"},
		RetryPolicy: &subscription.RetryPolicy{MaxRetries: 5, RetryDelaySeconds: 30, TimeoutSeconds: 5},
	})

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	fixture.engine.Deliver(ctx, sub, testEvent(t, "content_analyzed"))
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the retry wait short")

	entries, err := fixture.log.List(context.Background(), sub.ID, delivery.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no further attempts after cancellation")
}
