package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopbridge/golang_services/internal/platform/database"
)

// PgTemplateRepository stores operator-edited message templates.
type PgTemplateRepository struct {
	db     database.DBTX
	logger *slog.Logger
	now    func() time.Time
}

func NewPgTemplateRepository(db database.DBTX, logger *slog.Logger) *PgTemplateRepository {
	return &PgTemplateRepository{db: db, logger: logger.With("repository", "message_templates"), now: time.Now}
}

// GetTemplate returns "" when no override exists, so the renderer uses its default.
func (r *PgTemplateRepository) GetTemplate(ctx context.Context, name string) (string, error) {
	var body string
	err := r.db.QueryRow(ctx, `SELECT body FROM message_templates WHERE name = $1`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		r.logger.ErrorContext(ctx, "Error reading template", "error", err, "name", name)
		return "", err
	}
	return body, nil
}

func (r *PgTemplateRepository) List(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT name, body FROM message_templates ORDER BY name`)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing templates", "error", err)
		return nil, err
	}
	defer rows.Close()

	templates := make(map[string]string)
	for rows.Next() {
		var name, body string
		if err := rows.Scan(&name, &body); err != nil {
			return nil, err
		}
		templates[name] = body
	}
	return templates, rows.Err()
}

func (r *PgTemplateRepository) Set(ctx context.Context, name, body string) error {
	query := `
		INSERT INTO message_templates (name, body, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, name, body, r.now().UTC()); err != nil {
		r.logger.ErrorContext(ctx, "Error saving template", "error", err, "name", name)
		return fmt.Errorf("set template %s: %w", name, err)
	}
	return nil
}

// Delete removes an override, restoring the built-in default.
func (r *PgTemplateRepository) Delete(ctx context.Context, name string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM message_templates WHERE name = $1`, name)
	return err
}
