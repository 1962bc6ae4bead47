package domain

import (
	"context"
	"time"
)

// MessageRepository persists the outbound queue. Every mutation is atomic per row
// and guarded by status so terminal rows are never changed.
type MessageRepository interface {
	Enqueue(ctx context.Context, msg *QueuedMessage) (int64, error)
	GetByID(ctx context.Context, id int64) (*QueuedMessage, error)
	// FetchDue returns pending messages with scheduled_for <= now ordered by
	// priority desc, created_at asc.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*QueuedMessage, error)
	// IncrementAttempts records an attempt and returns the new count, or
	// ErrNotClaimed when the row is not pending or has no attempts left.
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	Reschedule(ctx context.Context, id int64, next time.Time, reason string) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time, statuses []Status) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
