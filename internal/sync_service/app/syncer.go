package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopbridge/golang_services/internal/ingestion_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/interaction"
	"github.com/shopbridge/golang_services/internal/platform/messagebroker"
	"github.com/shopbridge/golang_services/internal/sync_service/adapters/storefront"
	"golang.org/x/time/rate"
)

var (
	// ErrPreviewNotFound is returned by Apply for unknown, expired or already applied tokens.
	ErrPreviewNotFound = errors.New("sync preview not found or expired")
	// ErrSyncInProgress is returned when another apply is still running.
	ErrSyncInProgress = errors.New("a sync apply is already in progress")
)

const previewKeyPrefix = "sync_preview:"

// OrderSource is the storefront order history API.
type OrderSource interface {
	Probe(ctx context.Context) (*storefront.Shop, error)
	ListOrdersSince(ctx context.Context, since time.Time) ([]domain.Order, error)
	ListOrdersAfterID(ctx context.Context, sinceID int64) ([]domain.Order, error)
}

// ProcessedLookup answers which order ids already have markers.
type ProcessedLookup interface {
	ListProcessedIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// OrderProcessor is the idempotent enqueue path shared with webhooks.
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, order *domain.Order, topic domain.Topic, source domain.SyncSource) (domain.ProcessOutcome, error)
}

// SyncPreview is the candidate set awaiting operator confirmation.
type SyncPreview struct {
	Token      string         `json:"token"`
	Shop       string         `json:"shop"`
	Since      time.Time      `json:"since"`
	AfterID    int64          `json:"after_id,omitempty"`
	Found      int            `json:"found"`
	ToProcess  int            `json:"to_process"`
	Candidates []domain.Order `json:"candidates"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// SyncResult reports an applied sync.
type SyncResult struct {
	Found     int `json:"found"`
	ToProcess int `json:"to_process"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Syncer struct {
	source     OrderSource
	processed  ProcessedLookup
	processor  OrderProcessor
	store      interaction.Store
	publisher  messagebroker.Publisher
	orderDelay time.Duration
	previewTTL time.Duration
	logger     *slog.Logger

	applyMu sync.Mutex
	now     func() time.Time
}

func NewSyncer(
	source OrderSource,
	processed ProcessedLookup,
	processor OrderProcessor,
	store interaction.Store,
	publisher messagebroker.Publisher,
	orderDelay, previewTTL time.Duration,
	logger *slog.Logger,
) *Syncer {
	if publisher == nil {
		publisher = messagebroker.NoopPublisher{}
	}
	return &Syncer{
		source:     source,
		processed:  processed,
		processor:  processor,
		store:      store,
		publisher:  publisher,
		orderDelay: orderDelay,
		previewTTL: previewTTL,
		logger:     logger.With("service", "sync"),
		now:        time.Now,
	}
}

// Preview probes the storefront, fetches orders created within window and keeps
// those without a processed marker. Nothing is enqueued until Apply.
func (s *Syncer) Preview(ctx context.Context, window time.Duration) (*SyncPreview, error) {
	since := s.now().UTC().Add(-window)
	return s.preview(ctx, s.logger.With("since", since), &SyncPreview{Since: since}, func() ([]domain.Order, error) {
		return s.source.ListOrdersSince(ctx, since)
	})
}

// PreviewAfterID is Preview over every order with an id greater than afterID,
// paging by since_id instead of by creation time.
func (s *Syncer) PreviewAfterID(ctx context.Context, afterID int64) (*SyncPreview, error) {
	return s.preview(ctx, s.logger.With("after_id", afterID), &SyncPreview{AfterID: afterID}, func() ([]domain.Order, error) {
		return s.source.ListOrdersAfterID(ctx, afterID)
	})
}

func (s *Syncer) preview(ctx context.Context, logger *slog.Logger, preview *SyncPreview, fetch func() ([]domain.Order, error)) (*SyncPreview, error) {
	now := s.now().UTC()

	shop, err := s.source.Probe(ctx)
	if err != nil {
		syncRunsCounter.WithLabelValues("preview", "error").Inc()
		logger.ErrorContext(ctx, "Storefront probe failed, aborting sync", "error", err)
		return nil, fmt.Errorf("probe storefront: %w", err)
	}
	orders, err := fetch()
	if err != nil {
		syncRunsCounter.WithLabelValues("preview", "error").Inc()
		logger.ErrorContext(ctx, "Fetching order history failed, aborting sync", "error", err)
		return nil, fmt.Errorf("fetch orders: %w", err)
	}

	ids := make([]string, 0, len(orders))
	for i := range orders {
		ids = append(ids, orders[i].ExternalID())
	}
	done, err := s.processed.ListProcessedIDs(ctx, ids)
	if err != nil {
		syncRunsCounter.WithLabelValues("preview", "error").Inc()
		return nil, fmt.Errorf("diff processed orders: %w", err)
	}

	candidates := make([]domain.Order, 0, len(orders))
	for i := range orders {
		if !done[orders[i].ExternalID()] {
			candidates = append(candidates, orders[i])
		}
	}

	preview.Token = uuid.NewString()
	preview.Shop = shop.Name
	preview.Found = len(orders)
	preview.ToProcess = len(candidates)
	preview.Candidates = candidates
	preview.CreatedAt = now
	preview.ExpiresAt = now.Add(s.previewTTL)
	data, err := json.Marshal(preview)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	if err := s.store.Put(ctx, previewKeyPrefix+preview.Token, data, s.previewTTL); err != nil {
		syncRunsCounter.WithLabelValues("preview", "error").Inc()
		return nil, fmt.Errorf("store preview: %w", err)
	}

	syncRunsCounter.WithLabelValues("preview", "ok").Inc()
	logger.InfoContext(ctx, "Sync preview ready", "shop", shop.Name, "token", preview.Token,
		"found", preview.Found, "to_process", preview.ToProcess)
	return preview, nil
}

// GetPreview loads a stored preview without consuming it.
func (s *Syncer) GetPreview(ctx context.Context, token string) (*SyncPreview, error) {
	data, err := s.store.Get(ctx, previewKeyPrefix+token)
	if err != nil {
		if errors.Is(err, interaction.ErrNotFound) {
			return nil, ErrPreviewNotFound
		}
		return nil, err
	}
	var preview SyncPreview
	if err := json.Unmarshal(data, &preview); err != nil {
		return nil, fmt.Errorf("decode preview %s: %w", token, err)
	}
	return &preview, nil
}

// Apply replays a confirmed preview through the webhook enqueue path, one order
// at a time with the configured delay between orders. A token can be applied once.
func (s *Syncer) Apply(ctx context.Context, token string) (*SyncResult, error) {
	if !s.applyMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.applyMu.Unlock()

	preview, err := s.GetPreview(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, previewKeyPrefix+token); err != nil {
		return nil, fmt.Errorf("consume preview %s: %w", token, err)
	}

	result, err := s.applyOrders(ctx, preview)
	if err != nil {
		syncRunsCounter.WithLabelValues("apply", "error").Inc()
		return result, err
	}
	syncRunsCounter.WithLabelValues("apply", "ok").Inc()
	s.publish(ctx, token, result)
	return result, nil
}

func (s *Syncer) applyOrders(ctx context.Context, preview *SyncPreview) (*SyncResult, error) {
	result := &SyncResult{Found: preview.Found, ToProcess: preview.ToProcess}
	logger := s.logger.With("token", preview.Token)

	limit := rate.Inf
	if s.orderDelay > 0 {
		limit = rate.Every(s.orderDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := range preview.Candidates {
		order := &preview.Candidates[i]
		if err := limiter.Wait(ctx); err != nil {
			logger.WarnContext(ctx, "Sync apply interrupted", "error", err, "remaining", len(preview.Candidates)-i)
			return result, err
		}

		outcome, err := s.processor.ProcessOrder(ctx, order, domain.TopicReconciliation, domain.SyncSourceReconciliationSync)
		switch {
		case err != nil:
			result.Failed++
			syncOrdersCounter.WithLabelValues("failed").Inc()
			logger.ErrorContext(ctx, "Failed to replay order, continuing", "error", err, "order_id", order.ExternalID())
		case outcome == domain.OutcomeRecorded:
			result.Processed++
			syncOrdersCounter.WithLabelValues("processed").Inc()
		default:
			result.Skipped++
			syncOrdersCounter.WithLabelValues("skipped").Inc()
			logger.InfoContext(ctx, "Order skipped by sync", "order_id", order.ExternalID(), "outcome", outcome)
		}
	}

	logger.InfoContext(ctx, "Sync applied", "found", result.Found, "to_process", result.ToProcess,
		"processed", result.Processed, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// SyncOfflineOrders previews and immediately applies, for unattended startup runs.
func (s *Syncer) SyncOfflineOrders(ctx context.Context, window time.Duration) (*SyncResult, error) {
	preview, err := s.Preview(ctx, window)
	if err != nil {
		return nil, err
	}
	if preview.ToProcess == 0 {
		_ = s.store.Delete(ctx, previewKeyPrefix+preview.Token)
		s.logger.InfoContext(ctx, "No missed orders found", "found", preview.Found)
		result := &SyncResult{Found: preview.Found}
		s.publish(ctx, preview.Token, result)
		return result, nil
	}
	return s.Apply(ctx, preview.Token)
}

func (s *Syncer) publish(ctx context.Context, token string, result *SyncResult) {
	event := map[string]any{"token": token, "result": result, "at": s.now().UTC()}
	if err := messagebroker.PublishJSON(ctx, s.publisher, messagebroker.SubjectSyncCompleted, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish sync event", "error", err)
	}
}
