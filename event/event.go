package event

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

/* Event represents an immutable, typed notification published by an
 * internal producer (scraping jobs, analysis jobs, admin actions)
 * Uses value semantics as it represents data, not behavior
 */
type Event struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// eventTypePattern validates event types: word characters, optionally full-stop delimited
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// New creates an Event with a freshly generated ID and the current UTC timestamp
func New(eventType string, data map[string]any) (Event, error) {
	if err := ValidateType(eventType); err != nil {
		return Event{}, err
	}

	if data == nil {
		data = map[string]any{}
	}

	return Event{
		EventID:   NewID(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

/* NewID generates a time-ordered unique event token: a UTC timestamp
 * prefix keeps log entries sortable, a random suffix keeps them unique
 * within the same microsecond
 */
func NewID() string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("event_%s_%s", time.Now().UTC().Format("20060102_150405.000000"), hex.EncodeToString(suffix))
}

// ValidateType validates an event type string
func ValidateType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must contain only [a-zA-Z0-9_.]: %s", eventType)
	}
	return nil
}
