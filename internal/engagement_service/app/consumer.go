package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopbridge/golang_services/internal/engagement_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/messagebroker"
)

const memberEventsQueueGroup = "bridge-engagement"

// MemberEventHandler is implemented by Engagement.
type MemberEventHandler interface {
	HandleMemberEvent(ctx context.Context, ev domain.MemberEvent) error
}

// MemberEventConsumer feeds membership events from the broker into engagement.
type MemberEventConsumer struct {
	subscriber messagebroker.Subscriber
	handler    MemberEventHandler
	validate   *validator.Validate
	timeout    time.Duration
	logger     *slog.Logger
}

func NewMemberEventConsumer(subscriber messagebroker.Subscriber, handler MemberEventHandler, validate *validator.Validate, logger *slog.Logger) *MemberEventConsumer {
	return &MemberEventConsumer{
		subscriber: subscriber,
		handler:    handler,
		validate:   validate,
		timeout:    10 * time.Second,
		logger:     logger.With("consumer", "member_events"),
	}
}

// Start subscribes to subject until ctx is cancelled.
func (c *MemberEventConsumer) Start(ctx context.Context, subject string) (messagebroker.Subscription, error) {
	return c.subscriber.Subscribe(ctx, subject, memberEventsQueueGroup, func(msg messagebroker.Message) {
		c.handle(ctx, msg)
	})
}

func (c *MemberEventConsumer) handle(ctx context.Context, msg messagebroker.Message) {
	var ev domain.MemberEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.logger.WarnContext(ctx, "Dropping unreadable member event", "error", err, "subject", msg.Subject)
		return
	}
	if err := c.validate.StructCtx(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "Dropping invalid member event", "error", err, "subject", msg.Subject)
		return
	}
	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.handler.HandleMemberEvent(hctx, ev); err != nil {
		c.logger.ErrorContext(ctx, "Member event not applied", "error", err, "type", ev.Type, "user_id", ev.UserID)
	}
}
