package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopbridge/golang_services/internal/platform/database"
)

// PgSettingsRepository stores feature toggles as key/value rows.
type PgSettingsRepository struct {
	db     database.DBTX
	logger *slog.Logger
	now    func() time.Time
}

func NewPgSettingsRepository(db database.DBTX, logger *slog.Logger) *PgSettingsRepository {
	return &PgSettingsRepository{db: db, logger: logger.With("repository", "settings"), now: time.Now}
}

// IsEnabled reads a toggle. A missing row means enabled.
func (r *PgSettingsRepository) IsEnabled(ctx context.Context, key string) (bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		r.logger.ErrorContext(ctx, "Error reading setting", "error", err, "key", key)
		return false, err
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		r.logger.WarnContext(ctx, "Unparseable setting value, treating as enabled", "key", key, "value", value)
		return true, nil
	}
	return enabled, nil
}

func (r *PgSettingsRepository) List(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing settings", "error", err)
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

func (r *PgSettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, key, value, r.now().UTC()); err != nil {
		r.logger.ErrorContext(ctx, "Error saving setting", "error", err, "key", key)
		return fmt.Errorf("set %s: %w", key, err)
	}
	r.logger.InfoContext(ctx, "Setting updated", "key", key, "value", value)
	return nil
}
