package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	// OTel meters and instruments
	meter              metric.Meter
	deliveriesCounter  metric.Int64ObservableCounter
	retriesCounter     metric.Int64ObservableCounter
	queueLengthGauge   metric.Int64ObservableGauge
	subscriptionsGauge metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"webhook-outbox",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Attempt sequences by result
	oe.deliveriesCounter, err = oe.meter.Int64ObservableCounter(
		"webhook.deliveries",
		metric.WithDescription("Number of completed delivery attempt sequences by result"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeDeliveries),
	)
	if err != nil {
		return fmt.Errorf("creating deliveries counter: %w", err)
	}

	// Retry waits between attempts
	oe.retriesCounter, err = oe.meter.Int64ObservableCounter(
		"webhook.retries",
		metric.WithDescription("Number of delivery retries"),
		metric.WithUnit("{retries}"),
		metric.WithInt64Callback(oe.observeRetries),
	)
	if err != nil {
		return fmt.Errorf("creating retries counter: %w", err)
	}

	// Events waiting on the bus
	oe.queueLengthGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.queue.length",
		metric.WithDescription("Number of events waiting on the event bus"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(oe.observeQueueLength),
	)
	if err != nil {
		return fmt.Errorf("creating queue length gauge: %w", err)
	}

	// Registered subscriptions by state
	oe.subscriptionsGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.subscriptions",
		metric.WithDescription("Number of registered subscriptions by state"),
		metric.WithUnit("{subscriptions}"),
		metric.WithInt64Callback(oe.observeSubscriptions),
	)
	if err != nil {
		return fmt.Errorf("creating subscriptions gauge: %w", err)
	}

	return nil
}

// observeDeliveries is a callback that reports attempt sequences by result
func (oe *OTelExporter) observeDeliveries(ctx context.Context, observer metric.Int64Observer) error {
	stats, err := oe.collector.GetDeliveryStats(ctx)
	if err != nil {
		return err
	}

	observer.Observe(stats.Successful, metric.WithAttributes(
		attribute.String("webhook.result", "success"),
	))
	observer.Observe(stats.Failed, metric.WithAttributes(
		attribute.String("webhook.result", "failed"),
	))

	return nil
}

// observeRetries is a callback that reports the retry counter
func (oe *OTelExporter) observeRetries(ctx context.Context, observer metric.Int64Observer) error {
	stats, err := oe.collector.GetDeliveryStats(ctx)
	if err != nil {
		return err
	}

	observer.Observe(stats.Retries)
	return nil
}

// observeQueueLength is a callback that reports the bus depth
func (oe *OTelExporter) observeQueueLength(ctx context.Context, observer metric.Int64Observer) error {
	length, err := oe.collector.GetQueueLength(ctx)
	if err != nil {
		return err
	}

	observer.Observe(length)
	return nil
}

// observeSubscriptions is a callback that reports subscription counts by state
func (oe *OTelExporter) observeSubscriptions(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetSubscriptionCounts(ctx)
	if err != nil {
		return err
	}

	for state, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("subscription.state", state),
		))
	}

	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
