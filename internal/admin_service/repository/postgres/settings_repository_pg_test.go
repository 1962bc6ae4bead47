package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPgSettingsRepository_IsEnabled(t *testing.T) {
	tests := []struct {
		name    string
		rows    func(pgxmock.PgxPoolIface) *pgxmock.Rows
		err     error
		want    bool
		wantErr bool
	}{
		{name: "True", rows: func(m pgxmock.PgxPoolIface) *pgxmock.Rows { return m.NewRows([]string{"value"}).AddRow("true") }, want: true},
		{name: "False", rows: func(m pgxmock.PgxPoolIface) *pgxmock.Rows { return m.NewRows([]string{"value"}).AddRow("false") }, want: false},
		{name: "MissingDefaultsToEnabled", err: pgx.ErrNoRows, want: true},
		{name: "Garbage", rows: func(m pgxmock.PgxPoolIface) *pgxmock.Rows { return m.NewRows([]string{"value"}).AddRow("maybe") }, want: true},
		{name: "QueryError", err: errors.New("conn reset"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPool := newMockPool(t)
			repo := NewPgSettingsRepository(mockPool, testLogger())
			exp := mockPool.ExpectQuery(`SELECT value FROM settings WHERE key = \$1`).WithArgs("orders_enabled")
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnRows(tt.rows(mockPool))
			}

			got, err := repo.IsEnabled(context.Background(), "orders_enabled")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPgSettingsRepository_ListAndSet(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewPgSettingsRepository(mockPool, testLogger())
	repo.now = func() time.Time { return fixedNow }

	mockPool.ExpectExec(`(?s)INSERT INTO settings.*ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("auto_dm_enabled", "false", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery(`SELECT key, value FROM settings ORDER BY key`).
		WillReturnRows(mockPool.NewRows([]string{"key", "value"}).AddRow("auto_dm_enabled", "false").AddRow("orders_enabled", "true"))

	require.NoError(t, repo.Set(context.Background(), "auto_dm_enabled", "false"))
	got, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"auto_dm_enabled": "false", "orders_enabled": "true"}, got)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgTemplateRepository(t *testing.T) {
	t.Run("OverrideFound", func(t *testing.T) {
		mockPool := newMockPool(t)
		repo := NewPgTemplateRepository(mockPool, testLogger())
		mockPool.ExpectQuery(`SELECT body FROM message_templates WHERE name = \$1`).
			WithArgs("welcome_dm").
			WillReturnRows(mockPool.NewRows([]string{"body"}).AddRow("Hi {{.UserID}}"))

		body, err := repo.GetTemplate(context.Background(), "welcome_dm")
		require.NoError(t, err)
		assert.Equal(t, "Hi {{.UserID}}", body)
	})

	t.Run("NoOverride", func(t *testing.T) {
		mockPool := newMockPool(t)
		repo := NewPgTemplateRepository(mockPool, testLogger())
		mockPool.ExpectQuery(`FROM message_templates`).WithArgs("welcome_dm").WillReturnError(pgx.ErrNoRows)

		body, err := repo.GetTemplate(context.Background(), "welcome_dm")
		require.NoError(t, err)
		assert.Empty(t, body)
	})

	t.Run("SetListDelete", func(t *testing.T) {
		mockPool := newMockPool(t)
		repo := NewPgTemplateRepository(mockPool, testLogger())
		repo.now = func() time.Time { return fixedNow }
		mockPool.ExpectExec(`(?s)INSERT INTO message_templates.*ON CONFLICT \(name\)`).
			WithArgs("order_notification", "{{.OrderNumber}}", fixedNow).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectQuery(`SELECT name, body FROM message_templates`).
			WillReturnRows(mockPool.NewRows([]string{"name", "body"}).AddRow("order_notification", "{{.OrderNumber}}"))
		mockPool.ExpectExec(`DELETE FROM message_templates WHERE name = \$1`).
			WithArgs("order_notification").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		ctx := context.Background()
		require.NoError(t, repo.Set(ctx, "order_notification", "{{.OrderNumber}}"))
		got, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"order_notification": "{{.OrderNumber}}"}, got)
		require.NoError(t, repo.Delete(ctx, "order_notification"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
