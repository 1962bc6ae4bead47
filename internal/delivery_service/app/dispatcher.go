package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopbridge/golang_services/internal/delivery_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/messagebroker"
)

// Renderer turns a typed payload into a chat message.
type Renderer interface {
	Render(ctx context.Context, p domain.Payload) (domain.OutboundMessage, error)
}

// OrderNotificationRecorder flags an order's notification as delivered.
type OrderNotificationRecorder interface {
	MarkNotificationSent(ctx context.Context, orderID string) error
}

// DispatcherConfig holds the drain pass tunables.
type DispatcherConfig struct {
	BatchSize       int
	DeliveryTimeout time.Duration
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ReactionDelay   time.Duration
	ReactionEmoji   string
}

// QueueEvent is published after a message reaches a terminal state.
type QueueEvent struct {
	MessageID   int64       `json:"message_id"`
	Kind        domain.Kind `json:"kind"`
	Destination string      `json:"destination"`
	Attempts    int         `json:"attempts"`
	Error       string      `json:"error,omitempty"`
	At          time.Time   `json:"at"`
}

// Dispatcher drains due messages and delivers them. DrainOnce must not run
// concurrently with itself; run it from a single worker.PeriodicTask.
type Dispatcher struct {
	cfg       DispatcherConfig
	repo      domain.MessageRepository
	sender    domain.Sender
	renderer  Renderer
	orders    OrderNotificationRecorder
	publisher messagebroker.Publisher
	logger    *slog.Logger

	backoff  domain.BackoffFunc
	now      func() time.Time
	schedule func(d time.Duration, f func())
}

func NewDispatcher(
	cfg DispatcherConfig,
	repo domain.MessageRepository,
	sender domain.Sender,
	renderer Renderer,
	orders OrderNotificationRecorder,
	publisher messagebroker.Publisher,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if publisher == nil {
		publisher = messagebroker.NoopPublisher{}
	}
	return &Dispatcher{
		cfg:       cfg,
		repo:      repo,
		sender:    sender,
		renderer:  renderer,
		orders:    orders,
		publisher: publisher,
		logger:    logger.With("service", "dispatcher"),
		backoff:   ExponentialBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		now:       time.Now,
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// DrainOnce delivers one batch of due messages. Per-message failures are
// contained; only a failure to fetch the batch is returned.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { drainDurationHist.Observe(time.Since(start).Seconds()) }()

	due, err := d.repo.FetchDue(ctx, d.now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	d.logger.DebugContext(ctx, "Draining due messages", "count", len(due))

	for i, msg := range due {
		if ctx.Err() != nil {
			d.logger.InfoContext(ctx, "Drain interrupted by shutdown", "remaining", len(due)-i)
			return nil
		}
		d.process(ctx, msg)
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, msg *domain.QueuedMessage) {
	logger := d.logger.With("message_id", msg.ID, "kind", msg.Kind, "destination", msg.Destination.String())

	attempts, err := d.repo.IncrementAttempts(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotClaimed) {
			d.failExhausted(ctx, logger, msg)
			return
		}
		logger.ErrorContext(ctx, "Failed to record delivery attempt", "error", err)
		return
	}
	msg.Attempts = attempts

	start := time.Now()
	result, deliveryErr := d.deliver(ctx, msg)
	deliveryDurationHist.WithLabelValues(string(msg.Kind)).Observe(time.Since(start).Seconds())

	now := d.now().UTC()
	t, err := domain.Decide(msg, deliveryErr, now, d.backoff)
	if err != nil {
		logger.ErrorContext(ctx, "Cannot decide message transition", "error", err)
		return
	}

	switch t.Outcome {
	case domain.OutcomeSent:
		err = d.repo.MarkSent(ctx, msg.ID, now)
	case domain.OutcomeFailed:
		err = d.repo.MarkFailed(ctx, msg.ID, t.Reason)
	case domain.OutcomeRetry:
		err = d.repo.Reschedule(ctx, msg.ID, t.NextAttemptAt, t.Reason)
	}
	if err != nil {
		// The attempt is already counted, so a persisted failure is retried next pass.
		logger.ErrorContext(ctx, "Failed to persist message transition", "error", err, "outcome", t.Outcome)
		return
	}
	msg.Apply(t, now)
	messagesProcessedCounter.WithLabelValues(string(msg.Kind), string(t.Outcome)).Inc()

	switch t.Outcome {
	case domain.OutcomeSent:
		logger.InfoContext(ctx, "Message delivered", "attempts", t.Attempts, "platform_message_id", result.MessageID)
		d.publish(ctx, messagebroker.SubjectQueueSent, msg, "")
		d.afterSent(ctx, msg, result)
	case domain.OutcomeFailed:
		logger.WarnContext(ctx, "Message failed permanently", "attempts", t.Attempts, "reason", t.Reason)
		d.publish(ctx, messagebroker.SubjectQueueFailed, msg, t.Reason)
	case domain.OutcomeRetry:
		logger.InfoContext(ctx, "Delivery failed, retry scheduled", "attempts", t.Attempts, "next_attempt_at", t.NextAttemptAt, "error", deliveryErr)
	}
}

// failExhausted closes out a row whose attempts were all counted but whose final
// transition was never stored, for example after a crash mid-delivery.
func (d *Dispatcher) failExhausted(ctx context.Context, logger *slog.Logger, msg *domain.QueuedMessage) {
	if msg.Attempts < msg.MaxAttempts {
		logger.WarnContext(ctx, "Message not claimable, skipping")
		return
	}
	reason := fmt.Sprintf("failed after %d attempts: last error: %s", msg.Attempts, msg.LastError.String)
	if err := d.repo.MarkFailed(ctx, msg.ID, reason); err != nil {
		logger.ErrorContext(ctx, "Failed to close out exhausted message", "error", err)
		return
	}
	messagesProcessedCounter.WithLabelValues(string(msg.Kind), string(domain.OutcomeFailed)).Inc()
	d.publish(ctx, messagebroker.SubjectQueueFailed, msg, reason)
}

func (d *Dispatcher) deliver(ctx context.Context, msg *domain.QueuedMessage) (domain.SendResult, error) {
	payload, err := msg.DecodedPayload()
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("%w: %v", domain.ErrUndeliverable, err)
	}
	out, err := d.renderer.Render(ctx, payload)
	if err != nil {
		return domain.SendResult{}, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	switch msg.Destination.Type {
	case domain.DestinationChannel:
		return d.sender.SendToChannel(sendCtx, msg.Destination.ID, out)
	case domain.DestinationUser:
		return d.sender.SendDirectMessage(sendCtx, msg.Destination.ID, out)
	default:
		return domain.SendResult{}, fmt.Errorf("%w: destination type %q", domain.ErrUndeliverable, msg.Destination.Type)
	}
}

func (d *Dispatcher) afterSent(ctx context.Context, msg *domain.QueuedMessage, result domain.SendResult) {
	if msg.Kind != domain.KindOrderNotification {
		return
	}
	payload, err := msg.DecodedPayload()
	if err != nil {
		return
	}
	order := payload.(domain.OrderNotificationPayload)

	if d.orders != nil {
		if err := d.orders.MarkNotificationSent(ctx, order.OrderID); err != nil {
			d.logger.ErrorContext(ctx, "Failed to flag order notification as sent", "error", err, "order_id", order.OrderID)
		}
	}

	if d.cfg.ReactionEmoji == "" || result.MessageID == "" {
		return
	}
	logger := d.logger.With("message_id", msg.ID, "platform_message_id", result.MessageID)
	d.schedule(d.cfg.ReactionDelay, func() {
		reactCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
		defer cancel()
		if err := d.sender.AddReaction(reactCtx, result.ChannelID, result.MessageID, d.cfg.ReactionEmoji); err != nil {
			logger.Warn("Failed to add order reaction", "error", err)
		}
	})
}

func (d *Dispatcher) publish(ctx context.Context, subject string, msg *domain.QueuedMessage, reason string) {
	ev := QueueEvent{
		MessageID:   msg.ID,
		Kind:        msg.Kind,
		Destination: msg.Destination.String(),
		Attempts:    msg.Attempts,
		Error:       reason,
		At:          d.now().UTC(),
	}
	if err := messagebroker.PublishJSON(ctx, d.publisher, subject, ev); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish queue event", "error", err, "subject", subject, "message_id", msg.ID)
	}
}
