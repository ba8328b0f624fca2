package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// Spec carries the owner-supplied fields for a new subscription
type Spec struct {
	URL         string
	Events      []string
	Secret      string
	RetryPolicy *RetryPolicy
	Metadata    map[string]string
}

// Update carries a partial update; nil fields are left untouched
type Update struct {
	URL         *string
	Events      *[]string
	Secret      *string
	Active      *bool
	RetryPolicy *RetryPolicy
	Metadata    *map[string]string
}

// Filter narrows List results; zero value matches everything
type Filter struct {
	Active    *bool
	EventType string
}

// UseCase defines the business operations for subscription management
type UseCase interface {
	Create(ctx context.Context, spec Spec) (Subscription, error)
	Get(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context, filter Filter) ([]Subscription, error)
	Update(ctx context.Context, id string, update Update) (Subscription, error)
	Delete(ctx context.Context, id string) error
	RecordAttemptOutcome(ctx context.Context, id string, success bool) error
}

type Service struct {
	Repo Repository
}

// NewService creates a new subscription service with dependency injection
func NewService(repo Repository) *Service {
	return &Service{
		Repo: repo,
	}
}

// Create validates the spec, assigns an ID and defaults, and persists the record
func (s *Service) Create(ctx context.Context, spec Spec) (Subscription, error) {
	policy := DefaultRetryPolicy()
	if spec.RetryPolicy != nil {
		policy = *spec.RetryPolicy
	}

	now := time.Now().UTC()
	sub := Subscription{
		ID:          uuid.New().String(),
		URL:         spec.URL,
		Events:      spec.Events,
		Secret:      spec.Secret,
		Active:      true,
		RetryPolicy: policy,
		Metadata:    spec.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := sub.Validate(); err != nil {
		return Subscription{}, fmt.Errorf("validating subscription: %w", err)
	}

	if err := s.Repo.Store(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("storing subscription: %w", err)
	}

	return sub, nil
}

// Get retrieves a subscription by ID
func (s *Service) Get(ctx context.Context, id string) (Subscription, error) {
	sub, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	return sub, nil
}

// List returns the subscriptions matching the filter
func (s *Service) List(ctx context.Context, filter Filter) ([]Subscription, error) {
	subs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}

	filtered := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		if filter.Active != nil && sub.Active != *filter.Active {
			continue
		}
		if filter.EventType != "" && !sub.WantsEvent(filter.EventType) {
			continue
		}
		filtered = append(filtered, sub)
	}
	return filtered, nil
}

/* Update applies a partial update to the mutable fields only
 * ID, counters and created_at are server-controlled and never change here
 */
func (s *Service) Update(ctx context.Context, id string, update Update) (Subscription, error) {
	sub, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}

	if update.URL != nil {
		sub.URL = *update.URL
	}
	if update.Events != nil {
		sub.Events = *update.Events
	}
	if update.Secret != nil {
		sub.Secret = *update.Secret
	}
	if update.Active != nil {
		sub.Active = *update.Active
	}
	if update.RetryPolicy != nil {
		sub.RetryPolicy = *update.RetryPolicy
	}
	if update.Metadata != nil {
		sub.Metadata = *update.Metadata
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := sub.Validate(); err != nil {
		return Subscription{}, fmt.Errorf("validating subscription: %w", err)
	}

	if err := s.Repo.Save(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("saving subscription: %w", err)
	}

	return sub, nil
}

// Delete removes a subscription permanently
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// RecordAttemptOutcome updates the delivery counters after an attempt sequence
func (s *Service) RecordAttemptOutcome(ctx context.Context, id string, success bool) error {
	if err := s.Repo.RecordAttempt(ctx, id, success, time.Now().UTC()); err != nil {
		return fmt.Errorf("recording attempt outcome: %w", err)
	}
	return nil
}
