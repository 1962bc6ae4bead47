package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

// Purger removes terminal messages past the retention window. Pending messages are kept.
type Purger struct {
	repo      domain.MessageRepository
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewPurger(repo domain.MessageRepository, retention time.Duration, logger *slog.Logger) *Purger {
	return &Purger{repo: repo, retention: retention, logger: logger.With("service", "purger"), now: time.Now}
}

// PurgeOnce deletes Sent and Failed rows created before now minus the retention window.
func (p *Purger) PurgeOnce(ctx context.Context) error {
	cutoff := p.now().UTC().Add(-p.retention)
	n, err := p.repo.PurgeOlderThan(ctx, cutoff, []domain.Status{domain.StatusSent, domain.StatusFailed})
	if err != nil {
		return err
	}
	messagesPurgedCounter.Add(float64(n))
	if n > 0 {
		p.logger.InfoContext(ctx, "Purged old messages", "count", n, "cutoff", cutoff)
	}

	counts, err := p.repo.CountByStatus(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to refresh queue depth", "error", err)
		return nil
	}
	for status, c := range counts {
		queueDepthGauge.WithLabelValues(string(status)).Set(float64(c))
	}
	return nil
}
