package http

import (
	"time"

	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type QueueStatsResponse struct {
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

// SendMessageRequest enqueues an operator-written message.
type SendMessageRequest struct {
	Target   string `json:"target" validate:"required,oneof=user channel"`
	TargetID string `json:"target_id" validate:"required"`
	Content  string `json:"content" validate:"required,max=2000"`
}

type SendMessageResponse struct {
	MessageID int64                 `json:"message_id"`
	Status    deliveryDomain.Status `json:"status"`
}

type SetSettingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SetTemplateRequest struct {
	Body string `json:"body" validate:"required"`
}

// SyncPreviewRequest selects the fetch mode: orders after AfterID when set,
// otherwise orders created within WindowHours (or the configured window).
type SyncPreviewRequest struct {
	WindowHours int   `json:"window_hours" validate:"gte=0,lte=720,excluded_with=AfterID"`
	AfterID     int64 `json:"after_id" validate:"gte=0"`
}
