package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry() delivery.Entry {
	return delivery.Entry{
		SubscriptionID: "sub-1",
		EventID:        "event_20260901_120000.000000_abcd1234",
		EventType:      "content_analyzed",
		Status:         delivery.Success,
		HTTPStatusCode: 200,
		AttemptNumber:  1,
		Timestamp:      time.Now().UTC(),
	}
}

func TestLog_Append_Unit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	log := NewLogWithDB(db)
	ctx := context.Background()
	entry := testEntry()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO delivery_logs`)).
		WithArgs(entry.SubscriptionID, entry.EventID, entry.EventType, "success",
			entry.HTTPStatusCode, entry.AttemptNumber, entry.Timestamp, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, log.Append(ctx, entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_List_Unit(t *testing.T) {
	ctx := context.Background()

	logRows := func(entries ...delivery.Entry) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{
			"subscription_id", "event_id", "event_type", "status",
			"http_status_code", "attempt_number", "timestamp", "error_message",
		})
		for _, e := range entries {
			rows.AddRow(e.SubscriptionID, e.EventID, e.EventType, e.Status.String(),
				e.HTTPStatusCode, e.AttemptNumber, e.Timestamp, e.ErrorMessage)
		}
		return rows
	}

	t.Run("success - no filter", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		log := NewLogWithDB(db)
		entry := testEntry()

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE subscription_id = $1 ORDER BY id DESC`)).
			WithArgs("sub-1").
			WillReturnRows(logRows(entry))

		entries, err := log.List(ctx, "sub-1", delivery.Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, delivery.Success, entries[0].Status)
		assert.Equal(t, entry.EventID, entries[0].EventID)
	})

	t.Run("success - status filter and limit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		log := NewLogWithDB(db)
		failed := testEntry()
		failed.Status = delivery.Failed
		failed.HTTPStatusCode = 500

		mock.ExpectQuery(regexp.QuoteMeta(`AND status = $2 ORDER BY id DESC LIMIT $3`)).
			WithArgs("sub-1", "failed", 10).
			WillReturnRows(logRows(failed))

		entries, err := log.List(ctx, "sub-1", delivery.Filter{Limit: 10, Status: delivery.Failed})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, delivery.Failed, entries[0].Status)
	})

	t.Run("success - empty history", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		log := NewLogWithDB(db)

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE subscription_id = $1`)).
			WithArgs("sub-empty").
			WillReturnRows(logRows())

		entries, err := log.List(ctx, "sub-empty", delivery.Filter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
