package domain

import (
	"strconv"
	"strings"
	"time"

	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

// Topic classifies an inbound storefront event.
type Topic string

const (
	TopicOrderCreated   Topic = "orders/create"
	TopicOrderUpdated   Topic = "orders/updated"
	TopicOrderFulfilled Topic = "orders/fulfilled"
	TopicProductCreated Topic = "products/create"
	TopicProductUpdated Topic = "products/update"
	// TopicReconciliation tags orders replayed by the offline sync.
	TopicReconciliation Topic = "reconciliation"
)

const financialStatusPaid = "paid"

// IsOrder reports whether events of this topic can produce an order notification.
func (t Topic) IsOrder() bool {
	return t == TopicOrderCreated || t == TopicOrderUpdated || t == TopicOrderFulfilled
}

// IsProduct reports whether t is an informational product event.
func (t Topic) IsProduct() bool {
	return t == TopicProductCreated || t == TopicProductUpdated
}

type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type LineItem struct {
	Title        string `json:"title" validate:"required"`
	VariantTitle string `json:"variant_title"`
	Quantity     int    `json:"quantity" validate:"gte=1"`
	Price        string `json:"price"`
}

// Order is the subset of a storefront order the bridge reads, shared by webhooks
// and the order history API.
type Order struct {
	ID              int64      `json:"id" validate:"required,gt=0"`
	Name            string     `json:"name"`
	OrderNumber     int        `json:"order_number"`
	FinancialStatus string     `json:"financial_status"`
	TotalPrice      string     `json:"total_price" validate:"required"`
	Currency        string     `json:"currency"`
	CreatedAt       time.Time  `json:"created_at"`
	Customer        *Customer  `json:"customer,omitempty"`
	LineItems       []LineItem `json:"line_items" validate:"dive"`
}

// ExternalID is the storefront order id as stored in processed_orders.
func (o *Order) ExternalID() string {
	return strconv.FormatInt(o.ID, 10)
}

// DisplayNumber returns the customer-facing order number, e.g. "#1001".
func (o *Order) DisplayNumber() string {
	if o.Name != "" {
		return o.Name
	}
	return "#" + strconv.Itoa(o.OrderNumber)
}

func (o *Order) IsPaid() bool {
	return strings.EqualFold(o.FinancialStatus, financialStatusPaid)
}

func (o *Order) CustomerName() string {
	if o.Customer == nil {
		return ""
	}
	return strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
}

// Notification builds the single aggregated notification for the order.
func (o *Order) Notification(topic Topic, source SyncSource) deliveryDomain.OrderNotificationPayload {
	items := make([]deliveryDomain.LineItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, deliveryDomain.LineItem{
			Title:    li.Title,
			Variant:  li.VariantTitle,
			Quantity: li.Quantity,
			Price:    li.Price,
		})
	}
	return deliveryDomain.OrderNotificationPayload{
		OrderID:      o.ExternalID(),
		OrderNumber:  o.DisplayNumber(),
		CustomerName: o.CustomerName(),
		TotalPrice:   o.TotalPrice,
		Currency:     o.Currency,
		LineItems:    items,
		Topic:        string(topic),
		Source:       string(source),
	}
}

// Product is the part of a product event that is logged and published.
type Product struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}
