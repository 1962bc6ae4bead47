package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_Helpers(t *testing.T) {
	o := &Order{
		ID:              450789469,
		OrderNumber:     1001,
		FinancialStatus: "PAID",
		TotalPrice:      "59.00",
		Currency:        "USD",
		Customer:        &Customer{FirstName: "Ada", LastName: "Lovelace"},
	}
	assert.Equal(t, "450789469", o.ExternalID())
	assert.Equal(t, "#1001", o.DisplayNumber())
	assert.True(t, o.IsPaid())
	assert.Equal(t, "Ada Lovelace", o.CustomerName())

	o.Name = "A1001"
	assert.Equal(t, "A1001", o.DisplayNumber())

	o.FinancialStatus = "pending"
	assert.False(t, o.IsPaid())

	o.Customer = nil
	assert.Empty(t, o.CustomerName())
}

func TestOrder_NotificationAggregatesLineItems(t *testing.T) {
	o := &Order{
		ID:         1,
		Name:       "#1001",
		TotalPrice: "59.00",
		Currency:   "USD",
		LineItems: []LineItem{
			{Title: "Hoodie", VariantTitle: "L", Quantity: 1, Price: "49.00"},
			{Title: "Sticker", Quantity: 2, Price: "5.00"},
		},
	}

	p := o.Notification(TopicOrderCreated, SyncSourceWebhook)
	assert.Equal(t, "1", p.OrderID)
	assert.Equal(t, "#1001", p.OrderNumber)
	assert.Equal(t, "orders/create", p.Topic)
	assert.Equal(t, "webhook", p.Source)
	require.Len(t, p.LineItems, 2)
	assert.Equal(t, "L", p.LineItems[0].Variant)
	assert.Equal(t, 2, p.LineItems[1].Quantity)
}

func TestTopic_Classification(t *testing.T) {
	assert.True(t, TopicOrderFulfilled.IsOrder())
	assert.False(t, TopicOrderFulfilled.IsProduct())
	assert.True(t, TopicProductUpdated.IsProduct())
	assert.False(t, Topic("customers/create").IsOrder())
	assert.False(t, Topic("customers/create").IsProduct())
}
