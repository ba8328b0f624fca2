package subscription

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/marcelsud/webhook-outbox/event"
)

/* Subscription represents a registered webhook endpoint plus its
 * delivery policy. Uses value semantics as it represents data, not behavior
 *
 * Counters are server-controlled: they are mutated only through
 * Writer.RecordAttempt after a delivery attempt sequence completes,
 * never through Update
 */
type Subscription struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Events        []string          `json:"events"`
	Secret        string            `json:"secret,omitempty"`
	Active        bool              `json:"active"`
	RetryPolicy   RetryPolicy       `json:"retry_policy"`
	DeliveryCount int64             `json:"delivery_count"`
	FailureCount  int64             `json:"failure_count"`
	LastTriggered *time.Time        `json:"last_triggered,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// RetryPolicy bounds the delivery attempt sequence for one subscription
type RetryPolicy struct {
	MaxRetries        int `json:"max_retries"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`
	TimeoutSeconds    int `json:"timeout_seconds"`
}

// ErrInvalidSubscription is returned when a registration or update is malformed
var ErrInvalidSubscription = errors.New("invalid subscription")

// ErrNotFound is returned when no subscription exists for the given ID
var ErrNotFound = errors.New("subscription not found")

// DefaultRetryPolicy returns the policy applied when none is supplied at registration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		RetryDelaySeconds: 5,
		TimeoutSeconds:    30,
	}
}

// Validate checks the retry policy bounds
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries cannot be negative", ErrInvalidSubscription)
	}
	if p.RetryDelaySeconds < 0 {
		return fmt.Errorf("%w: retry_delay_seconds cannot be negative", ErrInvalidSubscription)
	}
	if p.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout_seconds must be positive", ErrInvalidSubscription)
	}
	return nil
}

// RetryDelay returns the fixed wait between attempts
func (p RetryPolicy) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}

// Timeout returns the per-attempt HTTP deadline
func (p RetryPolicy) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ValidateURL checks that the destination is an absolute http(s) URL
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: parsing url: %v", ErrInvalidSubscription, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrInvalidSubscription)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url must have a host", ErrInvalidSubscription)
	}
	return nil
}

/* WantsEvent is a pure set-membership test: an empty event set or the
 * sentinel "all" subscribes the endpoint to every event
 */
func (s Subscription) WantsEvent(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	return slices.Contains(s.Events, event.TypeAll) || slices.Contains(s.Events, eventType)
}

// Matches reports whether an event of the given type should be delivered now
func (s Subscription) Matches(eventType string) bool {
	return s.Active && s.WantsEvent(eventType)
}

// Validate checks the whole record shape
func (s Subscription) Validate() error {
	if err := ValidateURL(s.URL); err != nil {
		return err
	}
	for _, eventType := range s.Events {
		if err := event.ValidateType(eventType); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
		}
	}
	return s.RetryPolicy.Validate()
}
