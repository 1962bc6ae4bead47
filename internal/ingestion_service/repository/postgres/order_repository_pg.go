package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
	"github.com/shopbridge/golang_services/internal/ingestion_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/database"
)

// MessageEnqueuer inserts queue rows on a caller-supplied querier.
type MessageEnqueuer interface {
	EnqueueWith(ctx context.Context, q database.DBTX, msg *deliveryDomain.QueuedMessage) (int64, error)
}

// PgOrderRepository stores processed_orders markers.
type PgOrderRepository struct {
	db       database.Pool
	messages MessageEnqueuer
	logger   *slog.Logger
}

func NewPgOrderRepository(db database.Pool, messages MessageEnqueuer, logger *slog.Logger) *PgOrderRepository {
	return &PgOrderRepository{db: db, messages: messages, logger: logger.With("repository", "processed_orders")}
}

func (r *PgOrderRepository) IsOrderProcessed(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_orders WHERE shopify_order_id = $1)`, orderID).Scan(&exists)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error checking processed order", "error", err, "order_id", orderID)
		return false, err
	}
	return exists, nil
}

// RecordOrder inserts the marker and, only if it was new, the queue rows, in one
// transaction. Either both land or neither does.
func (r *PgOrderRepository) RecordOrder(ctx context.Context, marker *domain.ProcessedOrder, msgs []*deliveryDomain.QueuedMessage) (bool, error) {
	var inserted bool
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO processed_orders (shopify_order_id, order_number, processed_at, notification_sent, sync_source)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (shopify_order_id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, query,
			marker.ShopifyOrderID, marker.OrderNumber, marker.ProcessedAt, marker.NotificationSent, string(marker.SyncSource))
		if err != nil {
			return fmt.Errorf("insert marker: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		for _, msg := range msgs {
			if _, err := r.messages.EnqueueWith(ctx, tx, msg); err != nil {
				return err
			}
		}
		inserted = true
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording order, transaction rolled back", "error", err, "order_id", marker.ShopifyOrderID)
		return false, err
	}
	return inserted, nil
}

func (r *PgOrderRepository) MarkNotificationSent(ctx context.Context, orderID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE processed_orders SET notification_sent = TRUE WHERE shopify_order_id = $1`, orderID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking notification sent", "error", err, "order_id", orderID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrMarkerNotFound, orderID)
	}
	return nil
}

func (r *PgOrderRepository) GetMarker(ctx context.Context, orderID string) (*domain.ProcessedOrder, error) {
	query := `
		SELECT shopify_order_id, order_number, processed_at, notification_sent, sync_source
		FROM processed_orders WHERE shopify_order_id = $1
	`
	var (
		m      domain.ProcessedOrder
		source string
	)
	err := r.db.QueryRow(ctx, query, orderID).Scan(&m.ShopifyOrderID, &m.OrderNumber, &m.ProcessedAt, &m.NotificationSent, &source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMarkerNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting processed order", "error", err, "order_id", orderID)
		return nil, err
	}
	m.SyncSource = domain.SyncSource(source)
	return &m, nil
}

// ListProcessedIDs returns which of ids already have markers, in one query.
func (r *PgOrderRepository) ListProcessedIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	processed := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return processed, nil
	}
	rows, err := r.db.Query(ctx, `SELECT shopify_order_id FROM processed_orders WHERE shopify_order_id = ANY($1)`, ids)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing processed orders", "error", err, "count", len(ids))
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		processed[id] = true
	}
	return processed, rows.Err()
}
