package domain

import (
	"context"
	"time"

	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

// SyncSource records which path first processed an order.
type SyncSource string

const (
	SyncSourceWebhook            SyncSource = "webhook"
	SyncSourceReconciliationSync SyncSource = "reconciliation_sync"
)

// ProcessedOrder is the idempotency marker for one storefront order.
type ProcessedOrder struct {
	ShopifyOrderID   string     `json:"shopify_order_id"`
	OrderNumber      string     `json:"order_number"`
	ProcessedAt      time.Time  `json:"processed_at"`
	NotificationSent bool       `json:"notification_sent"`
	SyncSource       SyncSource `json:"sync_source"`
}

// ProcessOutcome describes what ingesting one event did.
type ProcessOutcome string

const (
	OutcomeRecorded       ProcessOutcome = "recorded"
	OutcomeDuplicate      ProcessOutcome = "duplicate"
	OutcomePendingPayment ProcessOutcome = "pending_payment"
	OutcomeDisabled       ProcessOutcome = "disabled"
	OutcomeIgnored        ProcessOutcome = "ignored"
)

// OrderStore persists idempotency markers.
type OrderStore interface {
	IsOrderProcessed(ctx context.Context, orderID string) (bool, error)
	// RecordOrder writes marker and enqueues msgs in one transaction. It returns
	// false, and writes nothing, when a marker for the order already exists.
	RecordOrder(ctx context.Context, marker *ProcessedOrder, msgs []*deliveryDomain.QueuedMessage) (bool, error)
	MarkNotificationSent(ctx context.Context, orderID string) error
	GetMarker(ctx context.Context, orderID string) (*ProcessedOrder, error)
	// ListProcessedIDs returns the subset of ids that already have markers.
	ListProcessedIDs(ctx context.Context, ids []string) (map[string]bool, error)
}
