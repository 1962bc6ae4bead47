package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

// Waker requests an immediate drain pass. *worker.PeriodicTask satisfies it.
type Waker interface {
	Trigger()
}

// Queue is the producer side of the outbound queue.
type Queue struct {
	repo     domain.MessageRepository
	waker    Waker
	defaults []domain.Option
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue creates the producer facade. defaults apply to every message before
// per-call options.
func NewQueue(repo domain.MessageRepository, waker Waker, logger *slog.Logger, defaults ...domain.Option) *Queue {
	return &Queue{
		repo:     repo,
		waker:    waker,
		defaults: defaults,
		logger:   logger.With("service", "queue"),
		now:      time.Now,
	}
}

// Enqueue persists a new pending message for payload and wakes the drain loop.
func (q *Queue) Enqueue(ctx context.Context, dest domain.Destination, payload domain.Payload, opts ...domain.Option) (*domain.QueuedMessage, error) {
	all := append(append([]domain.Option{}, q.defaults...), opts...)
	msg, err := domain.NewQueuedMessage(dest, payload, q.now(), all...)
	if err != nil {
		q.logger.WarnContext(ctx, "Rejected invalid message", "error", err, "kind", payload.Kind(), "destination", dest.String())
		return nil, err
	}
	if _, err := q.repo.Enqueue(ctx, msg); err != nil {
		return nil, err
	}
	messagesEnqueuedCounter.WithLabelValues(string(msg.Kind)).Inc()
	q.logger.InfoContext(ctx, "Message enqueued", "message_id", msg.ID, "kind", msg.Kind, "destination", dest.String())
	q.Wake()
	return msg, nil
}

// Wake asks for an immediate drain pass. Producers that enqueue inside their own
// transaction call it after commit.
func (q *Queue) Wake() {
	if q.waker != nil {
		q.waker.Trigger()
	}
}

// Stats returns message counts per status and refreshes the depth gauge.
func (q *Queue) Stats(ctx context.Context) (map[domain.Status]int64, error) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for status, n := range counts {
		queueDepthGauge.WithLabelValues(string(status)).Set(float64(n))
	}
	return counts, nil
}

// Get returns one message for diagnosis.
func (q *Queue) Get(ctx context.Context, id int64) (*domain.QueuedMessage, error) {
	return q.repo.GetByID(ctx, id)
}
