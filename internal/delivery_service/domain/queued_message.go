package domain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags what a queued message is and which payload type it carries.
type Kind string

const (
	KindOrderNotification    Kind = "order_notification"
	KindAutoDirectMessage    Kind = "auto_dm"
	KindCustomDirectMessage  Kind = "custom_dm"
	KindCustomChannelMessage Kind = "custom_channel"
)

// DestinationType says whether a destination ID names a channel or a user.
type DestinationType string

const (
	DestinationChannel DestinationType = "channel"
	DestinationUser    DestinationType = "user"
)

// Destination is where a message is delivered.
type Destination struct {
	Type DestinationType `json:"type"`
	ID   string          `json:"id"`
}

func (d Destination) String() string { return string(d.Type) + ":" + d.ID }

// Channel is a channel destination.
func Channel(id string) Destination { return Destination{Type: DestinationChannel, ID: id} }

// User is a direct-message destination.
func User(id string) Destination { return Destination{Type: DestinationUser, ID: id} }

// Status of a queued message. Sent and Failed are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool { return s == StatusSent || s == StatusFailed }

// DefaultMaxAttempts is the retry ceiling when a producer does not set one.
const DefaultMaxAttempts = 3

// Default priorities per kind. Higher is served first.
const (
	PriorityAutoDirectMessage = 0
	PriorityOrderNotification = 5
	PriorityCustom            = 10
)

// QueuedMessage is one durable outbound message.
type QueuedMessage struct {
	ID           int64           `json:"id"`
	Kind         Kind            `json:"kind"`
	Destination  Destination     `json:"destination"`
	Payload      json.RawMessage `json:"payload"` // decoded per Kind by DecodePayload
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	SentAt       sql.NullTime    `json:"sent_at,omitempty"`
	LastError    sql.NullString  `json:"last_error,omitempty"`
}

// Option customizes a new message.
type Option func(*QueuedMessage)

// WithPriority overrides the kind's default priority.
func WithPriority(p int) Option { return func(m *QueuedMessage) { m.Priority = p } }

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option { return func(m *QueuedMessage) { m.MaxAttempts = n } }

// ScheduledFor delays eligibility until t.
func ScheduledFor(t time.Time) Option { return func(m *QueuedMessage) { m.ScheduledFor = t.UTC() } }

// NewQueuedMessage builds a pending message for payload. The destination type must
// match what the payload kind is delivered to.
func NewQueuedMessage(dest Destination, payload Payload, now time.Time, opts ...Option) (*QueuedMessage, error) {
	if dest.ID == "" {
		return nil, fmt.Errorf("%w: destination id is empty", ErrInvalidMessage)
	}
	kind := payload.Kind()
	if want := kind.DestinationType(); want != dest.Type {
		return nil, fmt.Errorf("%w: %s must target a %s, got %s", ErrInvalidMessage, kind, want, dest.Type)
	}
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	msg := &QueuedMessage{
		Kind:         kind,
		Destination:  dest,
		Payload:      raw,
		Status:       StatusPending,
		MaxAttempts:  DefaultMaxAttempts,
		Priority:     kind.DefaultPriority(),
		CreatedAt:    now,
		ScheduledFor: now,
	}
	for _, opt := range opts {
		opt(msg)
	}
	if msg.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidMessage)
	}
	return msg, nil
}

// DestinationType returns the destination kind a message of this Kind is sent to.
func (k Kind) DestinationType() DestinationType {
	switch k {
	case KindAutoDirectMessage, KindCustomDirectMessage:
		return DestinationUser
	default:
		return DestinationChannel
	}
}

// DefaultPriority returns the priority a producer gets unless it overrides it.
func (k Kind) DefaultPriority() int {
	switch k {
	case KindCustomDirectMessage, KindCustomChannelMessage:
		return PriorityCustom
	case KindOrderNotification:
		return PriorityOrderNotification
	default:
		return PriorityAutoDirectMessage
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindOrderNotification, KindAutoDirectMessage, KindCustomDirectMessage, KindCustomChannelMessage:
		return true
	}
	return false
}
