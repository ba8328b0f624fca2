package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/subscription"
)

/* SystemCollector implements Collector by reading the live components
 * directly: the atomic counters, the bus depth and the subscription store
 */
type SystemCollector struct {
	stats *DeliveryStats
	bus   *event.Bus
	subs  subscription.Reader
}

// NewSystemCollector creates a collector over the running components
func NewSystemCollector(stats *DeliveryStats, bus *event.Bus, subs subscription.Reader) *SystemCollector {
	return &SystemCollector{
		stats: stats,
		bus:   bus,
		subs:  subs,
	}
}

// Collect gathers current metrics from the system
func (c *SystemCollector) Collect(ctx context.Context) (Metrics, error) {
	counts, err := c.GetSubscriptionCounts(ctx)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		Delivery:      c.stats.Snapshot(),
		QueueLength:   int64(c.bus.Len()),
		Subscriptions: counts,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// GetDeliveryStats returns the process-wide delivery counters
func (c *SystemCollector) GetDeliveryStats(_ context.Context) (StatsSnapshot, error) {
	return c.stats.Snapshot(), nil
}

// GetQueueLength returns the number of events waiting on the bus
func (c *SystemCollector) GetQueueLength(_ context.Context) (int64, error) {
	return int64(c.bus.Len()), nil
}

// GetSubscriptionCounts returns subscription counts by state
func (c *SystemCollector) GetSubscriptionCounts(ctx context.Context) (map[string]int64, error) {
	subs, err := c.subs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}

	counts := map[string]int64{"active": 0, "inactive": 0}
	for _, sub := range subs {
		if sub.Active {
			counts["active"]++
		} else {
			counts["inactive"]++
		}
	}
	return counts, nil
}
