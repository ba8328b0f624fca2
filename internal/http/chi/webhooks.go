package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/subscription"
)

/* HTTP layer DTOs for the management API
 * Separate from domain entities to avoid leaking internal structure;
 * in particular the signing secret never appears in a response
 */

// recentDeliveries caps the log entries embedded in a subscription response
const recentDeliveries = 10

// retryPolicyPayload mirrors subscription.RetryPolicy on the wire
type retryPolicyPayload struct {
	MaxRetries        int `json:"max_retries"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`
	TimeoutSeconds    int `json:"timeout_seconds"`
}

// subscriptionRequest represents the registration payload
type subscriptionRequest struct {
	URL         string              `json:"url"`
	Events      []string            `json:"events"`
	Secret      string              `json:"secret"`
	RetryPolicy *retryPolicyPayload `json:"retry_policy"`
	Metadata    map[string]string   `json:"metadata"`
}

// subscriptionUpdateRequest carries a partial update; absent fields are left untouched
type subscriptionUpdateRequest struct {
	URL         *string             `json:"url"`
	Events      *[]string           `json:"events"`
	Secret      *string             `json:"secret"`
	Active      *bool               `json:"active"`
	RetryPolicy *retryPolicyPayload `json:"retry_policy"`
	Metadata    *map[string]string  `json:"metadata"`
}

// subscriptionResponse represents a subscription in the API
type subscriptionResponse struct {
	ID               string             `json:"id"`
	URL              string             `json:"url"`
	Events           []string           `json:"events"`
	HasSecret        bool               `json:"has_secret"`
	Active           bool               `json:"active"`
	RetryPolicy      retryPolicyPayload `json:"retry_policy"`
	DeliveryCount    int64              `json:"delivery_count"`
	FailureCount     int64              `json:"failure_count"`
	LastTriggered    *time.Time         `json:"last_triggered,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	RecentDeliveries []delivery.Entry   `json:"recent_deliveries,omitempty"`
}

func toSubscriptionResponse(sub subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:        sub.ID,
		URL:       sub.URL,
		Events:    sub.Events,
		HasSecret: sub.Secret != "",
		Active:    sub.Active,
		RetryPolicy: retryPolicyPayload{
			MaxRetries:        sub.RetryPolicy.MaxRetries,
			RetryDelaySeconds: sub.RetryPolicy.RetryDelaySeconds,
			TimeoutSeconds:    sub.RetryPolicy.TimeoutSeconds,
		},
		DeliveryCount: sub.DeliveryCount,
		FailureCount:  sub.FailureCount,
		LastTriggered: sub.LastTriggered,
		Metadata:      sub.Metadata,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
}

func (p *retryPolicyPayload) toDomain() *subscription.RetryPolicy {
	if p == nil {
		return nil
	}
	return &subscription.RetryPolicy{
		MaxRetries:        p.MaxRetries,
		RetryDelaySeconds: p.RetryDelaySeconds,
		TimeoutSeconds:    p.TimeoutSeconds,
	}
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, subscription.ErrInvalidSubscription):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// postWebhook handles POST /webhooks
func postWebhook(subscriptions subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := subscriptions.Create(r.Context(), subscription.Spec{
			URL:         req.URL,
			Events:      req.Events,
			Secret:      req.Secret,
			RetryPolicy: req.RetryPolicy.toDomain(),
			Metadata:    req.Metadata,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
	})
}

// getWebhooks handles GET /webhooks, with optional active and event_type filters
func getWebhooks(subscriptions subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var filter subscription.Filter
		if raw := r.URL.Query().Get("active"); raw != "" {
			active, err := strconv.ParseBool(raw)
			if err != nil {
				http.Error(w, "active must be a boolean", http.StatusBadRequest)
				return
			}
			filter.Active = &active
		}
		filter.EventType = r.URL.Query().Get("event_type")

		all, err := subscriptions.List(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		result := make([]subscriptionResponse, 0, len(all))
		for _, sub := range all {
			result = append(result, toSubscriptionResponse(sub))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// getWebhook handles GET /webhooks/{id}, embedding the most recent deliveries
func getWebhook(subscriptions subscription.UseCase, deliveryLog delivery.Log) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sub, err := subscriptions.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		result := toSubscriptionResponse(sub)
		entries, err := deliveryLog.List(r.Context(), id, delivery.Filter{Limit: recentDeliveries})
		if err != nil {
			writeError(w, err)
			return
		}
		result.RecentDeliveries = entries

		writeJSON(w, http.StatusOK, result)
	})
}

// putWebhook handles PUT /webhooks/{id}
func putWebhook(subscriptions subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req subscriptionUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := subscriptions.Update(r.Context(), chi.URLParam(r, "id"), subscription.Update{
			URL:         req.URL,
			Events:      req.Events,
			Secret:      req.Secret,
			Active:      req.Active,
			RetryPolicy: req.RetryPolicy.toDomain(),
			Metadata:    req.Metadata,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	})
}

// deleteWebhook handles DELETE /webhooks/{id}
func deleteWebhook(subscriptions subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := subscriptions.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	})
}

// testRequest represents the payload for POST /webhooks/{id}/test
type testRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// testResponse reports the outcome of a synchronous test delivery
type testResponse struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Success   bool             `json:"success"`
	Attempts  []delivery.Entry `json:"attempts"`
}

/* postWebhookTest handles POST /webhooks/{id}/test
 * The test event runs through the same engine as dispatched events, so
 * signatures, retries and log entries behave exactly like production
 * traffic. The call is synchronous: the response carries the attempts
 */
func postWebhookTest(subscriptions subscription.UseCase, engine *delivery.Engine, deliveryLog delivery.Log) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sub, err := subscriptions.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		req := testRequest{EventType: event.TypeTest}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if req.EventType == "" {
				req.EventType = event.TypeTest
			}
		}
		if req.Data == nil {
			req.Data = map[string]any{"test": true}
		}

		evt, err := event.New(req.EventType, req.Data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		engine.Deliver(r.Context(), sub, evt)

		entries, err := deliveryLog.List(r.Context(), id, delivery.Filter{Limit: sub.RetryPolicy.MaxRetries + 1})
		if err != nil {
			writeError(w, err)
			return
		}

		result := testResponse{
			EventID:   evt.EventID,
			EventType: evt.EventType,
		}
		for _, entry := range entries {
			if entry.EventID != evt.EventID {
				continue
			}
			result.Attempts = append(result.Attempts, entry)
			if entry.Status == delivery.Success {
				result.Success = true
			}
		}

		writeJSON(w, http.StatusOK, result)
	})
}

// logsResponse pairs the filtered entries with their aggregate summary
type logsResponse struct {
	SubscriptionID string           `json:"subscription_id"`
	Summary        delivery.Summary `json:"summary"`
	Logs           []delivery.Entry `json:"logs"`
}

// getWebhookLogs handles GET /webhooks/{id}/logs?limit&status
func getWebhookLogs(subscriptions subscription.UseCase, deliveryLog delivery.Log) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := subscriptions.Get(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}

		var filter delivery.Filter
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			filter.Limit = limit
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			filter.Status = delivery.NewStatus(raw)
			if filter.Status == 0 {
				http.Error(w, "status must be one of success, failed, error", http.StatusBadRequest)
				return
			}
		}

		entries, err := deliveryLog.List(r.Context(), id, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []delivery.Entry{}
		}

		writeJSON(w, http.StatusOK, logsResponse{
			SubscriptionID: id,
			Summary:        delivery.Summarize(entries),
			Logs:           entries,
		})
	})
}

// eventTypesResponse represents the static event catalog
type eventTypesResponse struct {
	Categories   event.Taxonomy    `json:"categories"`
	SpecialTypes map[string]string `json:"special_types"`
	Total        int               `json:"total"`
}

// getEventTypes handles GET /webhooks/events/types
func getEventTypes() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		taxonomy := event.Types()
		writeJSON(w, http.StatusOK, eventTypesResponse{
			Categories:   taxonomy,
			SpecialTypes: event.SpecialTypes(),
			Total:        taxonomy.Total(),
		})
	})
}

// triggerRequest represents the payload for POST /webhooks/events/trigger
type triggerRequest struct {
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

// triggerResponse reports the enqueued event and its current audience
type triggerResponse struct {
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	Subscribers int    `json:"subscribers_notified"`
}

/* postEventTrigger handles POST /webhooks/events/trigger
 * Accepted means enqueued: delivery happens asynchronously, so the
 * subscriber count reflects the audience at publish time
 */
func postEventTrigger(bus *event.Bus, subscriptions subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		eventID, err := bus.Publish(req.EventType, req.EventData)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		subscribers := 0
		if all, err := subscriptions.List(r.Context(), subscription.Filter{}); err == nil {
			for _, sub := range all {
				if sub.Matches(req.EventType) {
					subscribers++
				}
			}
		}

		writeJSON(w, http.StatusAccepted, triggerResponse{
			EventID:     eventID,
			EventType:   req.EventType,
			Subscribers: subscribers,
		})
	})
}

// topWebhook summarizes one heavily used subscription in the stats response
type topWebhook struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	DeliveryCount int64  `json:"delivery_count"`
	FailureCount  int64  `json:"failure_count"`
}

// statsResponse represents GET /webhooks/stats
type statsResponse struct {
	TotalWebhooks   int                   `json:"total_webhooks"`
	ActiveWebhooks  int64                 `json:"active_webhooks"`
	TotalDeliveries int64                 `json:"total_deliveries"`
	TotalFailures   int64                 `json:"total_failures"`
	SuccessRate     string                `json:"success_rate"`
	EventsInQueue   int64                 `json:"events_in_queue"`
	DeliveryStats   metrics.StatsSnapshot `json:"delivery_stats"`
	TopWebhooks     []topWebhook          `json:"top_webhooks"`
	Timestamp       time.Time             `json:"timestamp"`
}

// getStats handles GET /webhooks/stats
func getStats(collector metrics.Collector, subscriptions subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		collected, err := collector.Collect(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		all, err := subscriptions.List(r.Context(), subscription.Filter{})
		if err != nil {
			writeError(w, err)
			return
		}

		result := statsResponse{
			TotalWebhooks:  len(all),
			ActiveWebhooks: collected.Subscriptions["active"],
			EventsInQueue:  collected.QueueLength,
			DeliveryStats:  collected.Delivery,
			Timestamp:      collected.Timestamp,
		}
		for _, sub := range all {
			result.TotalDeliveries += sub.DeliveryCount
			result.TotalFailures += sub.FailureCount
		}
		if result.TotalDeliveries > 0 {
			successful := result.TotalDeliveries - result.TotalFailures
			result.SuccessRate = strconv.FormatFloat(float64(successful)/float64(result.TotalDeliveries)*100, 'f', 1, 64) + "%"
		} else {
			result.SuccessRate = "0%"
		}

		sort.Slice(all, func(i, j int) bool {
			return all[i].DeliveryCount > all[j].DeliveryCount
		})
		for i := 0; i < len(all) && i < 5; i++ {
			result.TopWebhooks = append(result.TopWebhooks, topWebhook{
				ID:            all[i].ID,
				URL:           all[i].URL,
				DeliveryCount: all[i].DeliveryCount,
				FailureCount:  all[i].FailureCount,
			})
		}

		writeJSON(w, http.StatusOK, result)
	})
}
