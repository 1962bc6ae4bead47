package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageRowColumns = []string{
	"id", "kind", "destination_type", "destination_id", "payload", "status",
	"attempts", "max_attempts", "priority", "created_at", "scheduled_for", "sent_at", "last_error",
}

func setupMessageRepoTest(t *testing.T) (*PgMessageRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPgMessageRepository(mockPool, logger), mockPool
}

func TestPgMessageRepository_Enqueue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("InsertsAndSetsID", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		msg, err := domain.NewQueuedMessage(domain.Channel("orders"), domain.OrderNotificationPayload{OrderID: "1001"}, now)
		require.NoError(t, err)

		mockPool.ExpectQuery(`INSERT INTO message_queue`).
			WithArgs("order_notification", "channel", "orders", []byte(msg.Payload), "pending", 0, 3, domain.PriorityOrderNotification, now, now).
			WillReturnRows(mockPool.NewRows([]string{"id"}).AddRow(int64(42)))

		id, err := repo.Enqueue(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
		assert.Equal(t, int64(42), msg.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("InsertError", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		msg, err := domain.NewQueuedMessage(domain.User("u-1"), domain.CustomDirectMessagePayload{Content: "x"}, now)
		require.NoError(t, err)

		mockPool.ExpectQuery(`INSERT INTO message_queue`).WillReturnError(errors.New("connection refused"))

		_, err = repo.Enqueue(ctx, msg)
		assert.ErrorContains(t, err, "connection refused")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_FetchDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	repo, mockPool := setupMessageRepoTest(t)
	rows := mockPool.NewRows(messageRowColumns).
		AddRow(int64(2), "custom_channel", "channel", "c-1", []byte(`{"content":"b"}`), "pending", 0, 3, 5, now.Add(time.Minute), now, sql.NullTime{}, sql.NullString{}).
		AddRow(int64(1), "custom_channel", "channel", "c-1", []byte(`{"content":"a"}`), "pending", 1, 3, 0, now, now, sql.NullTime{}, sql.NullString{String: "timeout", Valid: true})

	mockPool.ExpectQuery(`WHERE status = \$1 AND scheduled_for <= \$2\s+ORDER BY priority DESC, created_at ASC, id ASC\s+LIMIT \$3`).
		WithArgs("pending", now, 10).
		WillReturnRows(rows)

	msgs, err := repo.FetchDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, 5, msgs[0].Priority)
	assert.Equal(t, domain.KindCustomChannelMessage, msgs[0].Kind)
	assert.Equal(t, domain.Channel("c-1"), msgs[0].Destination)
	assert.Equal(t, domain.StatusPending, msgs[0].Status)

	assert.Equal(t, 1, msgs[1].Attempts)
	assert.Equal(t, "timeout", msgs[1].LastError.String)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgMessageRepository_IncrementAttempts(t *testing.T) {
	ctx := context.Background()

	t.Run("Claimed", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		mockPool.ExpectQuery(`(?s)SET attempts = attempts \+ 1.*WHERE id = \$1 AND status = 'pending' AND attempts < max_attempts`).
			WithArgs(int64(7), pgxmock.AnyArg()).
			WillReturnRows(mockPool.NewRows([]string{"attempts"}).AddRow(2))

		n, err := repo.IncrementAttempts(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ExhaustedOrTerminal", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		mockPool.ExpectQuery(`SET attempts = attempts \+ 1`).
			WithArgs(int64(7), pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.IncrementAttempts(ctx, 7)
		assert.ErrorIs(t, err, domain.ErrNotClaimed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_Transitions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("MarkSent", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		mockPool.ExpectExec(`(?s)SET status = 'sent'.*WHERE id = \$1 AND status = 'pending'`).
			WithArgs(int64(3), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.MarkSent(ctx, 3, now))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("MarkSentOnTerminalRowRefused", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		mockPool.ExpectExec(`SET status = 'sent'`).
			WithArgs(int64(3), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, repo.MarkSent(ctx, 3, now), domain.ErrTerminalState)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("MarkFailed", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		mockPool.ExpectExec(`SET status = 'failed', last_error = \$2`).
			WithArgs(int64(3), "dms closed", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.MarkFailed(ctx, 3, "dms closed"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Reschedule", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		next := now.Add(2 * time.Minute)
		mockPool.ExpectExec(`SET scheduled_for = \$2, last_error = \$3`).
			WithArgs(int64(3), next, "503", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.Reschedule(ctx, 3, next, "503"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("DeletesTerminalRows", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		mockPool.ExpectExec(`DELETE FROM message_queue WHERE status = ANY\(\$1\) AND created_at < \$2`).
			WithArgs([]string{"sent", "failed"}, cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 12))

		n, err := repo.PurgeOlderThan(ctx, cutoff, []domain.Status{domain.StatusSent, domain.StatusFailed})
		require.NoError(t, err)
		assert.Equal(t, int64(12), n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("RefusesPending", func(t *testing.T) {
		repo, mockPool := setupMessageRepoTest(t)
		_, err := repo.PurgeOlderThan(ctx, cutoff, []domain.Status{domain.StatusSent, domain.StatusPending})
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_CountByStatus(t *testing.T) {
	repo, mockPool := setupMessageRepoTest(t)
	mockPool.ExpectQuery(`SELECT status, COUNT\(\*\) FROM message_queue GROUP BY status`).
		WillReturnRows(mockPool.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(4)).
			AddRow("failed", int64(1)))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[domain.StatusPending])
	assert.Equal(t, int64(0), counts[domain.StatusSent])
	assert.Equal(t, int64(1), counts[domain.StatusFailed])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
