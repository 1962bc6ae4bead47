package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/shopbridge/golang_services/internal/core_domain"
	"github.com/shopbridge/golang_services/internal/ingestion_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/httpserver"
)

// Storefront webhook headers.
const (
	HeaderSignature = "X-Shopify-Hmac-Sha256"
	HeaderTopic     = httpserver.TopicHeader
	HeaderWebhookID = "X-Shopify-Webhook-Id"
)

// MaxRequestBodySize caps webhook bodies.
const MaxRequestBodySize = 1 << 20 // 1 MiB

// WebhookProcessor handles one authenticated-or-not webhook delivery.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, raw []byte, signature, topic string) (domain.ProcessOutcome, error)
	AllowsUnsigned() bool
}

type WebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

func NewWebhookHandler(processor WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger.With("handler", "webhook")}
}

// HandleShopifyWebhook reads the raw body untouched, since the signature is
// computed over the exact bytes received.
func (h *WebhookHandler) HandleShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi_middleware.GetReqID(ctx)
	topic := r.Header.Get(HeaderTopic)
	signature := r.Header.Get(HeaderSignature)
	logger := h.logger.With("request_id", requestID, "topic", topic, "webhook_id", r.Header.Get(HeaderWebhookID))

	if topic == "" || (signature == "" && !h.processor.AllowsUnsigned()) {
		logger.WarnContext(ctx, "Webhook missing required headers", "has_signature", signature != "")
		httpserver.WriteError(w, http.StatusBadRequest, "missing required webhook headers")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			logger.WarnContext(ctx, "Webhook body too large", "limit", maxErr.Limit)
			httpserver.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		logger.ErrorContext(ctx, "Failed to read webhook body", "error", err)
		httpserver.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	outcome, err := h.processor.HandleWebhook(ctx, raw, signature, topic)
	if err != nil {
		switch {
		case errors.Is(err, core_domain.ErrNotReady):
			logger.WarnContext(ctx, "Webhook received before ingestion is ready")
			w.Header().Set("Retry-After", "5")
			httpserver.WriteError(w, http.StatusServiceUnavailable, "service not ready")
		case errors.Is(err, core_domain.ErrAuthentication):
			logger.WarnContext(ctx, "Webhook authentication failed", "error", err, "remote_addr", r.RemoteAddr)
			httpserver.WriteError(w, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, core_domain.ErrValidation):
			logger.WarnContext(ctx, "Webhook rejected", "error", err)
			httpserver.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			logger.ErrorContext(ctx, "Webhook processing failed", "error", err)
			httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	logger.InfoContext(ctx, "Webhook accepted", "outcome", outcome)
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted", "outcome": string(outcome)})
}
