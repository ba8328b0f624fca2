package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/subscription"
	_ "github.com/lib/pq" // PostgreSQL driver
)

/* PostgreSQL implementation of subscription.Repository
 * Counters are incremented inside a single UPDATE so concurrent
 * delivery goroutines never race on read-modify-write
 */

type Repository struct {
	DB *sql.DB
}

// NewRepository creates a PostgreSQL repository with the default pool (25, 5, 5 min)
func NewRepository(connectionString string) (*Repository, error) {
	return NewRepositoryWithPoolConfig(connectionString, 25, 5, 5)
}

// NewRepositoryWithPoolConfig creates a PostgreSQL repository with a custom connection pool
func NewRepositoryWithPoolConfig(connectionString string, maxOpenConns, maxIdleConns, maxLifeMinutes int) (*Repository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if maxLifeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(maxLifeMinutes) * time.Minute)
	}

	return &Repository{DB: db}, nil
}

// Migrate creates the subscriptions table if it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			events JSONB NOT NULL DEFAULT '[]',
			secret TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			max_retries INT NOT NULL,
			retry_delay_seconds INT NOT NULL,
			timeout_seconds INT NOT NULL,
			delivery_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			last_triggered TIMESTAMPTZ,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating subscriptions table: %w", err)
	}
	return nil
}

// Store persists a new subscription
func (r *Repository) Store(ctx context.Context, sub subscription.Subscription) error {
	events, metadata, err := marshalFields(sub)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO subscriptions (id, url, events, secret, active, max_retries, retry_delay_seconds, timeout_seconds, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.URL, events, sub.Secret, sub.Active,
		sub.RetryPolicy.MaxRetries, sub.RetryPolicy.RetryDelaySeconds, sub.RetryPolicy.TimeoutSeconds,
		metadata, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

// Save replaces the mutable fields of an existing subscription
func (r *Repository) Save(ctx context.Context, sub subscription.Subscription) error {
	events, metadata, err := marshalFields(sub)
	if err != nil {
		return err
	}

	result, err := r.DB.ExecContext(ctx, `
		UPDATE subscriptions
		SET url = $2, events = $3, secret = $4, active = $5,
			max_retries = $6, retry_delay_seconds = $7, timeout_seconds = $8,
			metadata = $9, updated_at = $10
		WHERE id = $1`,
		sub.ID, sub.URL, events, sub.Secret, sub.Active,
		sub.RetryPolicy.MaxRetries, sub.RetryPolicy.RetryDelaySeconds, sub.RetryPolicy.TimeoutSeconds,
		metadata, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}
	return checkAffected(result)
}

const selectColumns = `id, url, events, secret, active, max_retries, retry_delay_seconds, timeout_seconds,
	delivery_count, failure_count, last_triggered, metadata, created_at, updated_at`

// Get retrieves a subscription by ID
func (r *Repository) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return subscription.Subscription{}, subscription.ErrNotFound
		}
		return subscription.Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	return sub, nil
}

// List returns every subscription ordered by creation time
func (r *Repository) List(ctx context.Context) ([]subscription.Subscription, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+selectColumns+` FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

// Delete removes a subscription permanently
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return checkAffected(result)
}

// RecordAttempt updates the counters in a single atomic UPDATE
func (r *Repository) RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE subscriptions
		SET delivery_count = delivery_count + 1,
			failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END,
			last_triggered = $3
		WHERE id = $1`,
		id, success, at,
	)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return checkAffected(result)
}

// Close closes the database connection pool
func (r *Repository) Close(_ context.Context) error {
	return r.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (subscription.Subscription, error) {
	var (
		sub           subscription.Subscription
		events        []byte
		metadata      []byte
		lastTriggered sql.NullTime
	)

	err := row.Scan(
		&sub.ID, &sub.URL, &events, &sub.Secret, &sub.Active,
		&sub.RetryPolicy.MaxRetries, &sub.RetryPolicy.RetryDelaySeconds, &sub.RetryPolicy.TimeoutSeconds,
		&sub.DeliveryCount, &sub.FailureCount, &lastTriggered, &metadata,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return subscription.Subscription{}, err
	}

	if len(events) > 0 {
		if err := json.Unmarshal(events, &sub.Events); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling events: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if lastTriggered.Valid {
		at := lastTriggered.Time.UTC()
		sub.LastTriggered = &at
	}
	return sub, nil
}

func marshalFields(sub subscription.Subscription) ([]byte, []byte, error) {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling events: %w", err)
	}
	if sub.Events == nil {
		events = []byte("[]")
	}
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return events, metadata, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return subscription.ErrNotFound
	}
	return nil
}
