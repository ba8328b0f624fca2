package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/signature"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/rs/zerolog"
)

const (
	userAgent = "webhook-outbox/1.0"

	// maxBodyCapture bounds how much of an error response body is logged
	maxBodyCapture = 512
)

/* Envelope is the wire payload POSTed to receivers
 * Field order is fixed so the serialized bytes are deterministic and
 * the signature is reproducible on the receiving side
 */
type Envelope struct {
	WebhookID       string      `json:"webhook_id"`
	Event           event.Event `json:"event"`
	DeliveryAttempt int         `json:"delivery_attempt"`
	Timestamp       time.Time   `json:"timestamp"`
}

/* Engine performs the signed HTTP POST with bounded retries
 * Deliver never returns an error to the caller: every outcome is
 * captured in the delivery log and the subscription counters, and
 * delivery failures are never visible to the producer that published
 * the event
 */
type Engine struct {
	subs   subscription.UseCase
	log    Log
	client *http.Client
	logger zerolog.Logger
	stats  *metrics.DeliveryStats
}

// NewEngine creates a delivery engine with dependency injection
func NewEngine(subs subscription.UseCase, deliveryLog Log, logger zerolog.Logger, stats *metrics.DeliveryStats) *Engine {
	return &Engine{
		subs: subs,
		log:  deliveryLog,
		// Per-attempt deadlines come from the subscription's retry
		// policy, via the request context
		client: &http.Client{},
		logger: logger,
		stats:  stats,
	}
}

// Deliver runs the full attempt sequence for one (subscription, event) pair
func (e *Engine) Deliver(ctx context.Context, sub subscription.Subscription, evt event.Event) {
	policy := sub.RetryPolicy
	maxAttempts := policy.MaxRetries + 1

	success := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		entry := e.attempt(ctx, sub, evt, attempt)

		if err := e.log.Append(ctx, entry); err != nil {
			e.logger.Error().Err(err).
				Str("subscription_id", sub.ID).
				Str("event_id", evt.EventID).
				Msg("appending delivery log entry")
		}

		if entry.Status == Success {
			success = true
			break
		}

		if attempt == maxAttempts {
			break
		}

		e.stats.RecordRetry()
		if !wait(ctx, policy.RetryDelay()) {
			// Shutdown during the retry wait ends the sequence early
			break
		}
	}

	e.stats.RecordSequence(success)
	if err := e.subs.RecordAttemptOutcome(ctx, sub.ID, success); err != nil {
		e.logger.Error().Err(err).
			Str("subscription_id", sub.ID).
			Msg("recording attempt outcome")
	}

	e.logger.Debug().
		Str("subscription_id", sub.ID).
		Str("event_id", evt.EventID).
		Bool("success", success).
		Msg("delivery sequence finished")
}

// attempt performs one HTTP POST and classifies its outcome
func (e *Engine) attempt(ctx context.Context, sub subscription.Subscription, evt event.Event, attempt int) Entry {
	entry := Entry{
		SubscriptionID: sub.ID,
		EventID:        evt.EventID,
		EventType:      evt.EventType,
		AttemptNumber:  attempt,
		Timestamp:      time.Now().UTC(),
	}

	// The envelope embeds the attempt number, so payload and signature
	// are rebuilt for every attempt
	payload, err := json.Marshal(Envelope{
		WebhookID:       sub.ID,
		Event:           evt,
		DeliveryAttempt: attempt,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		entry.Status = Error
		entry.ErrorMessage = "marshaling payload: " + err.Error()
		return entry
	}

	attemptCtx, cancel := context.WithTimeout(ctx, sub.RetryPolicy.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		entry.Status = Error
		entry.ErrorMessage = "building request: " + err.Error()
		return entry
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", evt.EventType)
	req.Header.Set("X-Webhook-Delivery", evt.EventID)
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Signature", signature.Header(sub.Secret, payload))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		entry.Status = Error
		entry.ErrorMessage = err.Error()
		return entry
	}
	defer resp.Body.Close()

	entry.HTTPStatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		entry.Status = Success
		return entry
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	entry.Status = Failed
	entry.ErrorMessage = string(body)
	return entry
}

// wait sleeps for d unless the context is cancelled first
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
