package metrics

import (
	"context"
	"sync/atomic"
	"time"
)

/* Process-wide delivery counters, mutated by concurrent delivery
 * goroutines; every field is touched through sync/atomic only
 */
type DeliveryStats struct {
	totalSent  atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	retries    atomic.Int64
}

// NewDeliveryStats creates a zeroed counter set
func NewDeliveryStats() *DeliveryStats {
	return &DeliveryStats{}
}

// RecordSequence counts one completed attempt sequence and its outcome
func (s *DeliveryStats) RecordSequence(success bool) {
	s.totalSent.Add(1)
	if success {
		s.successful.Add(1)
	} else {
		s.failed.Add(1)
	}
}

// RecordRetry counts one retry wait between attempts
func (s *DeliveryStats) RecordRetry() {
	s.retries.Add(1)
}

// Snapshot returns a point-in-time copy for reporting
func (s *DeliveryStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalSent:  s.totalSent.Load(),
		Successful: s.successful.Load(),
		Failed:     s.failed.Load(),
		Retries:    s.retries.Load(),
	}
}

// StatsSnapshot is a point-in-time view of the delivery counters
type StatsSnapshot struct {
	TotalSent  int64 `json:"total_sent"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Retries    int64 `json:"retries"`
}

// Metrics represents the current state of the webhook delivery system
type Metrics struct {
	// Delivery is the process-wide attempt-sequence counter set
	Delivery StatsSnapshot `json:"delivery"`

	// QueueLength is the number of events waiting on the bus
	QueueLength int64 `json:"queue_length"`

	// Subscriptions maps "active"/"inactive" to subscription counts
	Subscriptions map[string]int64 `json:"subscriptions"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting metrics from the delivery system
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetDeliveryStats returns the process-wide delivery counters
	GetDeliveryStats(ctx context.Context) (StatsSnapshot, error)

	// GetQueueLength returns the number of events waiting on the bus
	GetQueueLength(ctx context.Context) (int64, error)

	// GetSubscriptionCounts returns subscription counts by state
	GetSubscriptionCounts(ctx context.Context) (map[string]int64, error)
}
