package messagebroker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Subjects published by the bridge.
const (
	SubjectQueueSent           = "bridge.queue.sent"
	SubjectQueueFailed         = "bridge.queue.failed"
	SubjectOrderRecorded       = "bridge.orders.recorded"
	SubjectOrderPendingPayment = "bridge.orders.pending_payment"
	SubjectProductUpdated      = "bridge.products.updated"
	SubjectSyncCompleted       = "bridge.sync.completed"
)

// PublishJSON marshals v and publishes it on subject.
func PublishJSON(ctx context.Context, p Publisher, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}
	return p.Publish(ctx, subject, data)
}
