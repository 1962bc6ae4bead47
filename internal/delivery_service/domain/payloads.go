package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed body of a queued message. Each Kind has exactly one payload type.
type Payload interface {
	Kind() Kind
}

// LineItem is one product line inside an order notification.
type LineItem struct {
	Title    string `json:"title"`
	Variant  string `json:"variant,omitempty"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// OrderNotificationPayload announces a paid or fulfilled order. One per order; line
// items are listed inside it.
type OrderNotificationPayload struct {
	OrderID      string     `json:"order_id"`
	OrderNumber  string     `json:"order_number"`
	CustomerName string     `json:"customer_name,omitempty"`
	TotalPrice   string     `json:"total_price"`
	Currency     string     `json:"currency"`
	LineItems    []LineItem `json:"line_items"`
	Topic        string     `json:"topic,omitempty"`
	Source       string     `json:"source"`
}

func (OrderNotificationPayload) Kind() Kind { return KindOrderNotification }

// AutoDirectMessagePayload is an automated message to a member, rendered from a template.
type AutoDirectMessagePayload struct {
	UserID   string `json:"user_id"`
	Template string `json:"template"`
}

func (AutoDirectMessagePayload) Kind() Kind { return KindAutoDirectMessage }

// CustomDirectMessagePayload is an operator-written direct message.
type CustomDirectMessagePayload struct {
	Content string `json:"content"`
	SentBy  string `json:"sent_by"`
}

func (CustomDirectMessagePayload) Kind() Kind { return KindCustomDirectMessage }

// CustomChannelMessagePayload is an operator-written channel message.
type CustomChannelMessagePayload struct {
	Content string `json:"content"`
	SentBy  string `json:"sent_by"`
}

func (CustomChannelMessagePayload) Kind() Kind { return KindCustomChannelMessage }

// EncodePayload serializes p for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return raw, nil
}

// DecodePayload parses raw into the payload type registered for kind.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindOrderNotification:
		var v OrderNotificationPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p = v
	case KindAutoDirectMessage:
		var v AutoDirectMessagePayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p = v
	case KindCustomDirectMessage:
		var v CustomDirectMessagePayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p = v
	case KindCustomChannelMessage:
		var v CustomChannelMessagePayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return p, nil
}

// DecodedPayload decodes the message's own payload.
func (m *QueuedMessage) DecodedPayload() (Payload, error) {
	return DecodePayload(m.Kind, m.Payload)
}
