package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopbridge/golang_services/internal/core_domain"
	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
	"github.com/shopbridge/golang_services/internal/ingestion_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/messagebroker"
)

// SettingsReader reads feature toggles.
type SettingsReader interface {
	IsEnabled(ctx context.Context, key string) (bool, error)
}

// QueueWaker wakes the drain loop after a commit.
type QueueWaker interface {
	Wake()
}

// OrderEvent is published for recorded and pending-payment orders.
type OrderEvent struct {
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Topic       string            `json:"topic"`
	Source      domain.SyncSource `json:"source"`
	MessageIDs  []int64           `json:"message_ids,omitempty"`
	At          time.Time         `json:"at"`
}

// Service turns storefront order events into queued notifications.
type Service struct {
	verifier       *SignatureVerifier
	store          domain.OrderStore
	settings       SettingsReader
	queue          QueueWaker
	publisher      messagebroker.Publisher
	validate       *validator.Validate
	orderChannelID string
	logger         *slog.Logger

	messageOpts []deliveryDomain.Option
	ready       atomic.Bool
	now         func() time.Time
}

func NewService(
	verifier *SignatureVerifier,
	store domain.OrderStore,
	settings SettingsReader,
	queue QueueWaker,
	publisher messagebroker.Publisher,
	validate *validator.Validate,
	orderChannelID string,
	logger *slog.Logger,
) *Service {
	if publisher == nil {
		publisher = messagebroker.NoopPublisher{}
	}
	return &Service{
		verifier:       verifier,
		store:          store,
		settings:       settings,
		queue:          queue,
		publisher:      publisher,
		validate:       validate,
		orderChannelID: orderChannelID,
		logger:         logger.With("service", "ingestion"),
		now:            time.Now,
	}
}

// WithMessageOptions sets options applied to every notification this service enqueues.
func (s *Service) WithMessageOptions(opts ...deliveryDomain.Option) *Service {
	s.messageOpts = opts
	return s
}

// SetReady opens or closes the webhook path. Until then HandleWebhook returns ErrNotReady.
func (s *Service) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Service) Ready() bool { return s.ready.Load() }

// AllowsUnsigned reports whether a missing signature header is tolerated.
func (s *Service) AllowsUnsigned() bool { return s.verifier.AllowsUnsigned() }

// HandleWebhook authenticates one webhook delivery and processes it by topic.
// Unknown topics are accepted as no-ops so the storefront does not retry them.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte, signature, topic string) (domain.ProcessOutcome, error) {
	if !s.Ready() {
		return "", core_domain.ErrNotReady
	}
	if topic == "" {
		return "", fmt.Errorf("%w: topic header is required", core_domain.ErrValidation)
	}
	if signature == "" && !s.verifier.AllowsUnsigned() {
		return "", fmt.Errorf("%w: signature header is required", core_domain.ErrValidation)
	}
	if err := s.verifier.Verify(raw, signature); err != nil {
		webhooksReceivedCounter.WithLabelValues(topic, "rejected").Inc()
		s.logger.WarnContext(ctx, "Webhook signature rejected", "topic", topic, "body_len", len(raw), "error", err)
		return "", err
	}

	outcome, err := s.dispatch(ctx, raw, domain.Topic(topic))
	if err != nil {
		label := "error"
		if errors.Is(err, core_domain.ErrValidation) {
			label = "rejected"
		}
		webhooksReceivedCounter.WithLabelValues(topic, label).Inc()
		return "", err
	}
	webhooksReceivedCounter.WithLabelValues(topic, string(outcome)).Inc()
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, raw []byte, topic domain.Topic) (domain.ProcessOutcome, error) {
	switch {
	case topic.IsOrder():
		var order domain.Order
		if err := json.Unmarshal(raw, &order); err != nil {
			return "", fmt.Errorf("%w: order payload: %v", core_domain.ErrValidation, err)
		}
		if err := s.validate.StructCtx(ctx, order); err != nil {
			return "", fmt.Errorf("%w: order payload: %v", core_domain.ErrValidation, err)
		}
		return s.ProcessOrder(ctx, &order, topic, domain.SyncSourceWebhook)

	case topic.IsProduct():
		var product domain.Product
		if err := json.Unmarshal(raw, &product); err != nil {
			s.logger.WarnContext(ctx, "Ignoring unreadable product payload", "topic", topic, "error", err)
			return domain.OutcomeIgnored, nil
		}
		s.logger.InfoContext(ctx, "Product event received", "topic", topic, "product_id", product.ID, "title", product.Title)
		s.publish(ctx, messagebroker.SubjectProductUpdated, map[string]any{"topic": topic, "product_id": product.ID, "title": product.Title})
		return domain.OutcomeIgnored, nil

	default:
		s.logger.InfoContext(ctx, "Ignoring webhook with unhandled topic", "topic", topic)
		return domain.OutcomeIgnored, nil
	}
}

// ProcessOrder runs one order through the idempotent enqueue path shared by
// webhooks and the offline sync. Unpaid orders write nothing.
func (s *Service) ProcessOrder(ctx context.Context, order *domain.Order, topic domain.Topic, source domain.SyncSource) (domain.ProcessOutcome, error) {
	outcome, err := s.processOrder(ctx, order, topic, source)
	label := string(outcome)
	if err != nil {
		label = "error"
	}
	ordersProcessedCounter.WithLabelValues(string(source), label).Inc()
	return outcome, err
}

func (s *Service) processOrder(ctx context.Context, order *domain.Order, topic domain.Topic, source domain.SyncSource) (domain.ProcessOutcome, error) {
	orderID := order.ExternalID()
	logger := s.logger.With("order_id", orderID, "order_number", order.DisplayNumber(), "source", source)

	enabled, err := s.settings.IsEnabled(ctx, core_domain.SettingOrdersEnabled)
	if err != nil {
		logger.ErrorContext(ctx, "Error reading orders toggle", "error", err)
		return "", fmt.Errorf("read %s: %w", core_domain.SettingOrdersEnabled, err)
	}
	if !enabled {
		logger.InfoContext(ctx, "Order notifications disabled, skipping")
		return domain.OutcomeDisabled, nil
	}

	if !order.IsPaid() {
		logger.InfoContext(ctx, "Order not paid yet, nothing recorded", "financial_status", order.FinancialStatus)
		s.publish(ctx, messagebroker.SubjectOrderPendingPayment, OrderEvent{
			OrderID: orderID, OrderNumber: order.DisplayNumber(), Topic: string(topic), Source: source, At: s.now().UTC(),
		})
		return domain.OutcomePendingPayment, nil
	}

	processed, err := s.store.IsOrderProcessed(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("check order %s: %w", orderID, err)
	}
	if processed {
		logger.InfoContext(ctx, "Order already processed, skipping")
		return domain.OutcomeDuplicate, nil
	}

	now := s.now().UTC()
	msg, err := deliveryDomain.NewQueuedMessage(deliveryDomain.Channel(s.orderChannelID), order.Notification(topic, source), now, s.messageOpts...)
	if err != nil {
		return "", fmt.Errorf("build notification for order %s: %w", orderID, err)
	}
	marker := &domain.ProcessedOrder{
		ShopifyOrderID: orderID,
		OrderNumber:    order.DisplayNumber(),
		ProcessedAt:    now,
		SyncSource:     source,
	}

	inserted, err := s.store.RecordOrder(ctx, marker, []*deliveryDomain.QueuedMessage{msg})
	if err != nil {
		logger.ErrorContext(ctx, "Error recording order", "error", err)
		return "", fmt.Errorf("record order %s: %w", orderID, err)
	}
	if !inserted {
		logger.InfoContext(ctx, "Order recorded concurrently, skipping")
		return domain.OutcomeDuplicate, nil
	}

	if s.queue != nil {
		s.queue.Wake()
	}
	logger.InfoContext(ctx, "Order recorded and notification enqueued", "message_id", msg.ID)
	s.publish(ctx, messagebroker.SubjectOrderRecorded, OrderEvent{
		OrderID: orderID, OrderNumber: order.DisplayNumber(), Topic: string(topic), Source: source,
		MessageIDs: []int64{msg.ID}, At: now,
	})
	return domain.OutcomeRecorded, nil
}

func (s *Service) publish(ctx context.Context, subject string, v any) {
	if err := messagebroker.PublishJSON(ctx, s.publisher, subject, v); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ingestion event", "error", err, "subject", subject)
	}
}
