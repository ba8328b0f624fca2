package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/delivery"
	_ "github.com/lib/pq" // PostgreSQL driver
)

/* PostgreSQL implementation of delivery.Log
 * Append-only table; INSERTs from concurrent delivery goroutines are
 * safe by construction
 */

type Log struct {
	DB *sql.DB
}

// NewLog creates a PostgreSQL delivery log with the default pool (25, 5, 5 min)
func NewLog(connectionString string) (*Log, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Log{DB: db}, nil
}

// NewLogWithDB wraps an existing connection pool
func NewLogWithDB(db *sql.DB) *Log {
	return &Log{DB: db}
}

// Migrate creates the delivery_logs table if it does not exist
func (l *Log) Migrate(ctx context.Context) error {
	_, err := l.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS delivery_logs (
			id BIGSERIAL PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			http_status_code INT NOT NULL DEFAULT 0,
			attempt_number INT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			error_message TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("creating delivery_logs table: %w", err)
	}

	_, err = l.DB.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS delivery_logs_subscription_idx
		ON delivery_logs (subscription_id, id DESC)`)
	if err != nil {
		return fmt.Errorf("creating delivery_logs index: %w", err)
	}
	return nil
}

// Append adds one attempt entry to the subscription's history
func (l *Log) Append(ctx context.Context, entry delivery.Entry) error {
	_, err := l.DB.ExecContext(ctx, `
		INSERT INTO delivery_logs (subscription_id, event_id, event_type, status, http_status_code, attempt_number, timestamp, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.SubscriptionID, entry.EventID, entry.EventType, entry.Status.String(),
		entry.HTTPStatusCode, entry.AttemptNumber, entry.Timestamp, entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

// List returns entries newest first, honoring the filter
func (l *Log) List(ctx context.Context, subscriptionID string, filter delivery.Filter) ([]delivery.Entry, error) {
	query := `
		SELECT subscription_id, event_id, event_type, status, http_status_code, attempt_number, timestamp, error_message
		FROM delivery_logs
		WHERE subscription_id = $1`
	args := []any{subscriptionID}

	if filter.Status != 0 {
		query += ` AND status = $2`
		args = append(args, filter.Status.String())
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying log entries: %w", err)
	}
	defer rows.Close()

	var entries []delivery.Entry
	for rows.Next() {
		var (
			entry  delivery.Entry
			status string
		)
		err := rows.Scan(
			&entry.SubscriptionID, &entry.EventID, &entry.EventType, &status,
			&entry.HTTPStatusCode, &entry.AttemptNumber, &entry.Timestamp, &entry.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entry.Status = delivery.NewStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log entries: %w", err)
	}
	return entries, nil
}

// Close closes the database connection pool
func (l *Log) Close(_ context.Context) error {
	return l.DB.Close()
}
