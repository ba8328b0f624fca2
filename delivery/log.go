package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

/* Status represents the outcome of a single delivery attempt
 * success: the receiver replied 2xx
 * failed:  the receiver replied with any other HTTP status
 * error:   the request never completed (timeout, connection error)
 */
type Status int

const (
	Success Status = iota + 1
	Failed
	Error
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "success":
		return Success
	case "failed":
		return Failed
	case "error":
		return Error
	default:
		return 0
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Success || s > Error {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// MarshalJSON encodes the status as its string form
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the status from its string form
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := NewStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

/* Entry is one row of the delivery audit trail: exactly one entry per
 * HTTP attempt, so a retried event produces multiple entries
 */
type Entry struct {
	SubscriptionID string    `json:"subscription_id"`
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Status         Status    `json:"status"`
	HTTPStatusCode int       `json:"http_status_code"`
	AttemptNumber  int       `json:"attempt_number"`
	Timestamp      time.Time `json:"timestamp"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Filter narrows log listings; zero value returns the most recent entries
type Filter struct {
	Limit  int
	Status Status
}

/* Log is the append-only, per-subscription record of delivery attempts
 * Append must be safe for concurrent writers; List returns entries
 * newest first
 */
type Log interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, subscriptionID string, filter Filter) ([]Entry, error)
	Close(ctx context.Context) error
}

// Summary aggregates a listed slice of log entries for API responses
type Summary struct {
	Total       int    `json:"total_logs"`
	Successful  int    `json:"successful_deliveries"`
	Failed      int    `json:"failed_deliveries"`
	SuccessRate string `json:"success_rate"`
}

// Summarize computes the summary over the given entries
func Summarize(entries []Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, entry := range entries {
		if entry.Status == Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = fmt.Sprintf("%.1f%%", float64(s.Successful)/float64(s.Total)*100)
	} else {
		s.SuccessRate = "0%"
	}
	return s
}
