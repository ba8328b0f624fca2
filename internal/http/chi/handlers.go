package chi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/subscription"
)

// Deps bundles the services the management API is built on
type Deps struct {
	Subscriptions subscription.UseCase
	Log           delivery.Log
	Engine        *delivery.Engine
	Bus           *event.Bus
	Collector     metrics.Collector

	// Metrics serves the Prometheus scrape endpoint; nil disables /metrics
	Metrics http.Handler
}

// Handlers sets up the management API routes
func Handlers(deps Deps) *chi.Mux {
	logger := httplog.NewLogger("webhook-outbox", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Method(http.MethodPost, "/", postWebhook(deps.Subscriptions))
		r.Method(http.MethodGet, "/", getWebhooks(deps.Subscriptions))

		// Static segments must be registered alongside the {id} routes;
		// chi gives them precedence
		r.Method(http.MethodGet, "/events/types", getEventTypes())
		r.Method(http.MethodPost, "/events/trigger", postEventTrigger(deps.Bus, deps.Subscriptions))
		r.Method(http.MethodGet, "/stats", getStats(deps.Collector, deps.Subscriptions))

		r.Method(http.MethodGet, "/{id}", getWebhook(deps.Subscriptions, deps.Log))
		r.Method(http.MethodPut, "/{id}", putWebhook(deps.Subscriptions))
		r.Method(http.MethodDelete, "/{id}", deleteWebhook(deps.Subscriptions))
		r.Method(http.MethodPost, "/{id}/test", postWebhookTest(deps.Subscriptions, deps.Engine, deps.Log))
		r.Method(http.MethodGet, "/{id}/logs", getWebhookLogs(deps.Subscriptions, deps.Log))
	})

	return r
}
