package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/database"
)

const messageColumns = `id, kind, destination_type, destination_id, payload, status, attempts, max_attempts, priority, created_at, scheduled_for, sent_at, last_error`

// PgMessageRepository stores the outbound queue in message_queue.
type PgMessageRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgMessageRepository(db database.DBTX, logger *slog.Logger) *PgMessageRepository {
	return &PgMessageRepository{db: db, logger: logger.With("repository", "message_queue")}
}

// Enqueue inserts msg and sets its ID.
func (r *PgMessageRepository) Enqueue(ctx context.Context, msg *domain.QueuedMessage) (int64, error) {
	return r.EnqueueWith(ctx, r.db, msg)
}

// EnqueueWith inserts msg using q, typically a transaction owned by the caller.
func (r *PgMessageRepository) EnqueueWith(ctx context.Context, q database.DBTX, msg *domain.QueuedMessage) (int64, error) {
	query := `
		INSERT INTO message_queue (kind, destination_type, destination_id, payload, status, attempts, max_attempts, priority, created_at, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	var id int64
	err := q.QueryRow(ctx, query,
		string(msg.Kind), string(msg.Destination.Type), msg.Destination.ID, []byte(msg.Payload),
		string(msg.Status), msg.Attempts, msg.MaxAttempts, msg.Priority, msg.CreatedAt, msg.ScheduledFor,
	).Scan(&id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error enqueueing message", "error", err, "kind", msg.Kind, "destination", msg.Destination.String())
		return 0, fmt.Errorf("enqueue %s: %w", msg.Kind, err)
	}
	msg.ID = id
	r.logger.DebugContext(ctx, "Message enqueued", "message_id", id, "kind", msg.Kind, "priority", msg.Priority)
	return id, nil
}

func (r *PgMessageRepository) GetByID(ctx context.Context, id int64) (*domain.QueuedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM message_queue WHERE id = $1`
	msg, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting queued message", "error", err, "message_id", id)
		return nil, err
	}
	return msg, nil
}

// FetchDue selects pending messages eligible at now: priority desc, then FIFO.
func (r *PgMessageRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM message_queue
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, string(domain.StatusPending), now, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error fetching due messages", "error", err)
		return nil, fmt.Errorf("fetch due messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error scanning due message row", "error", err)
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating due message rows", "error", err)
		return nil, err
	}
	return messages, nil
}

// IncrementAttempts records a delivery attempt. The guard keeps attempts <= max_attempts
// and refuses rows that already left pending.
func (r *PgMessageRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	query := `
		UPDATE message_queue
		SET attempts = attempts + 1, updated_at = $2
		WHERE id = $1 AND status = 'pending' AND attempts < max_attempts
		RETURNING attempts
	`
	var attempts int
	if err := r.db.QueryRow(ctx, query, id, time.Now().UTC()).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: message %d", domain.ErrNotClaimed, id)
		}
		r.logger.ErrorContext(ctx, "Error incrementing attempts", "error", err, "message_id", id)
		return 0, err
	}
	return attempts, nil
}

func (r *PgMessageRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
		UPDATE message_queue
		SET status = 'sent', sent_at = $2, last_error = NULL, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, id, domain.StatusSent, query, id, sentAt.UTC())
}

func (r *PgMessageRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE message_queue
		SET status = 'failed', last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, id, domain.StatusFailed, query, id, reason, time.Now().UTC())
}

// Reschedule keeps the message pending but defers it to next.
func (r *PgMessageRepository) Reschedule(ctx context.Context, id int64, next time.Time, reason string) error {
	query := `
		UPDATE message_queue
		SET scheduled_for = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, id, domain.StatusPending, query, id, next.UTC(), reason, time.Now().UTC())
}

func (r *PgMessageRepository) transition(ctx context.Context, id int64, to domain.Status, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating queued message", "error", err, "message_id", id, "new_status", to)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Queued message not pending, transition refused", "message_id", id, "new_status", to)
		return fmt.Errorf("%w: message %d is not pending", domain.ErrTerminalState, id)
	}
	return nil
}

// PurgeOlderThan deletes terminal rows created before cutoff. Pending rows are never purged.
func (r *PgMessageRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.Status) (int64, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if !s.IsTerminal() {
			return 0, fmt.Errorf("%w: refusing to purge %s messages", domain.ErrInvalidMessage, s)
		}
		names = append(names, string(s))
	}
	if len(names) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM message_queue WHERE status = ANY($1) AND created_at < $2`, names, cutoff.UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error purging queued messages", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgMessageRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM message_queue GROUP BY status`)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error counting queued messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.Status]int64{
		domain.StatusPending: 0,
		domain.StatusSent:    0,
		domain.StatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.QueuedMessage, error) {
	var (
		msg                    domain.QueuedMessage
		kind, destType, status string
		payload                []byte
	)
	err := row.Scan(
		&msg.ID, &kind, &destType, &msg.Destination.ID, &payload, &status,
		&msg.Attempts, &msg.MaxAttempts, &msg.Priority, &msg.CreatedAt, &msg.ScheduledFor,
		&msg.SentAt, &msg.LastError,
	)
	if err != nil {
		return nil, err
	}
	msg.Kind = domain.Kind(kind)
	msg.Destination.Type = domain.DestinationType(destType)
	msg.Status = domain.Status(status)
	msg.Payload = payload
	return &msg, nil
}
