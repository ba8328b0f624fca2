package subscription

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// Reader provides read operations for subscriptions
type Reader interface {
	Get(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
}

// Writer provides write operations for subscriptions
type Writer interface {
	Store(ctx context.Context, sub Subscription) error
	Save(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, id string) error
	/* RecordAttempt updates the delivery counters after an attempt
	 * sequence completes: delivery_count always increments,
	 * failure_count increments when success is false, last_triggered
	 * is set to at. Implementations must be safe under concurrent
	 * calls from multiple delivery goroutines (atomic increment,
	 * never read-modify-write)
	 */
	RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	Close(ctx context.Context) error
}
