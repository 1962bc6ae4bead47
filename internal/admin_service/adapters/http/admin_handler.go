package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/shopbridge/golang_services/internal/admin_service/app"
	"github.com/shopbridge/golang_services/internal/core_domain"
	"github.com/shopbridge/golang_services/internal/delivery_service/adapters/render"
	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
	engagementApp "github.com/shopbridge/golang_services/internal/engagement_service/app"
	engagementDomain "github.com/shopbridge/golang_services/internal/engagement_service/domain"
	"github.com/shopbridge/golang_services/internal/platform/httpserver"
	syncApp "github.com/shopbridge/golang_services/internal/sync_service/app"
)

const maxBodySize = 64 << 10

// Toggles an operator may change.
var knownSettings = map[string]bool{
	core_domain.SettingOrdersEnabled: true,
	core_domain.SettingAutoDMEnabled: true,
}

type Authenticator interface {
	TokenValidator
	Login(ctx context.Context, username, password string) (string, *app.Operator, error)
}

type QueueAdmin interface {
	Stats(ctx context.Context) (map[deliveryDomain.Status]int64, error)
	Enqueue(ctx context.Context, dest deliveryDomain.Destination, payload deliveryDomain.Payload, opts ...deliveryDomain.Option) (*deliveryDomain.QueuedMessage, error)
	Get(ctx context.Context, id int64) (*deliveryDomain.QueuedMessage, error)
}

// DrainTrigger requests an immediate queue drain. *worker.PeriodicTask satisfies it.
type DrainTrigger interface {
	Trigger()
}

type KeyValueStore interface {
	List(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

type TemplateStore interface {
	KeyValueStore
	Delete(ctx context.Context, name string) error
}

type SyncRunner interface {
	Preview(ctx context.Context, window time.Duration) (*syncApp.SyncPreview, error)
	PreviewAfterID(ctx context.Context, afterID int64) (*syncApp.SyncPreview, error)
	GetPreview(ctx context.Context, token string) (*syncApp.SyncPreview, error)
	Apply(ctx context.Context, token string) (*syncApp.SyncResult, error)
}

type MemberReader interface {
	GetMember(ctx context.Context, userID string) (*engagementDomain.MemberRecord, error)
}

type WelcomeTrigger interface {
	FireWelcome(ctx context.Context, userID string) (engagementApp.WelcomeOutcome, error)
}

// Deps are the services behind the admin console.
type Deps struct {
	Auth       Authenticator
	Queue      QueueAdmin
	Drain      DrainTrigger
	Settings   KeyValueStore
	Templates  TemplateStore
	Sync       SyncRunner
	Members    MemberReader
	Welcome    WelcomeTrigger
	SyncWindow time.Duration
}

type AdminHandler struct {
	deps     Deps
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAdminHandler(deps Deps, validate *validator.Validate, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, validate: validate, logger: logger.With("handler", "admin")}
}

// NewRouter returns the /admin sub-router with CORS for the console origins.
func NewRouter(h *AdminHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.deps.Auth, h.logger))

		r.Get("/queue/stats", h.handleQueueStats)
		r.Post("/queue/drain", h.handleDrain)
		r.Get("/queue/messages/{id}", h.handleGetMessage)
		r.Post("/messages", h.handleSendMessage)

		r.Get("/settings", h.handleListSettings)
		r.Put("/settings/{key}", h.handleSetSetting)
		r.Get("/templates", h.handleListTemplates)
		r.Put("/templates/{name}", h.handleSetTemplate)
		r.Delete("/templates/{name}", h.handleDeleteTemplate)

		r.Post("/sync/preview", h.handleSyncPreview)
		r.Get("/sync/{token}", h.handleGetSyncPreview)
		r.Post("/sync/{token}/apply", h.handleSyncApply)

		r.Get("/members/{userID}", h.handleGetMember)
		r.Post("/members/{userID}/welcome", h.handleFireWelcome)
	})
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	if err := h.validate.StructCtx(r.Context(), v); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

func (h *AdminHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, "error", err, "request_id", chi_middleware.GetReqID(r.Context()))
	httpserver.WriteError(w, http.StatusInternalServerError, "internal server error")
}

func (h *AdminHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	token, op, err := h.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, core_domain.ErrAuthentication) {
			httpserver.WriteError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		h.internalError(w, r, "Login failed", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: op.ExpiresAt})
}

func (h *AdminHandler) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.deps.Queue.Stats(r.Context())
	if err != nil {
		h.internalError(w, r, "Error reading queue stats", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, QueueStatsResponse{
		Pending: counts[deliveryDomain.StatusPending],
		Sent:    counts[deliveryDomain.StatusSent],
		Failed:  counts[deliveryDomain.StatusFailed],
	})
}

func (h *AdminHandler) handleDrain(w http.ResponseWriter, r *http.Request) {
	h.deps.Drain.Trigger()
	httpserver.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "drain requested"})
}

func (h *AdminHandler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	msg, err := h.deps.Queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, deliveryDomain.ErrNotFound) {
			httpserver.WriteError(w, http.StatusNotFound, "message not found")
			return
		}
		h.internalError(w, r, "Error getting message", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, msg)
}

func (h *AdminHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	op, _ := OperatorFromContext(r.Context())

	var (
		dest    deliveryDomain.Destination
		payload deliveryDomain.Payload
	)
	if req.Target == "user" {
		dest = deliveryDomain.User(req.TargetID)
		payload = deliveryDomain.CustomDirectMessagePayload{Content: req.Content, SentBy: op.Username}
	} else {
		dest = deliveryDomain.Channel(req.TargetID)
		payload = deliveryDomain.CustomChannelMessagePayload{Content: req.Content, SentBy: op.Username}
	}

	msg, err := h.deps.Queue.Enqueue(r.Context(), dest, payload)
	if err != nil {
		if errors.Is(err, deliveryDomain.ErrInvalidMessage) {
			httpserver.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, r, "Error enqueueing custom message", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Custom message enqueued", "message_id", msg.ID, "operator", op.Username, "destination", dest.String())
	httpserver.WriteJSON(w, http.StatusAccepted, SendMessageResponse{MessageID: msg.ID, Status: msg.Status})
}

func (h *AdminHandler) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.deps.Settings.List(r.Context())
	if err != nil {
		h.internalError(w, r, "Error listing settings", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, settings)
}

func (h *AdminHandler) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !knownSettings[key] {
		httpserver.WriteError(w, http.StatusNotFound, "unknown setting")
		return
	}
	var req SetSettingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.deps.Settings.Set(r.Context(), key, strconv.FormatBool(*req.Enabled)); err != nil {
		h.internalError(w, r, "Error saving setting", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]bool{key: *req.Enabled})
}

func (h *AdminHandler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.deps.Templates.List(r.Context())
	if err != nil {
		h.internalError(w, r, "Error listing templates", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"defaults":  render.DefaultTemplates(),
		"overrides": overrides,
	})
}

func (h *AdminHandler) handleSetTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req SetTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := render.ValidateTemplate(name, req.Body); err != nil {
		if errors.Is(err, render.ErrUnknownTemplate) {
			httpserver.WriteError(w, http.StatusNotFound, "unknown template")
			return
		}
		httpserver.WriteError(w, http.StatusBadRequest, "invalid template: "+err.Error())
		return
	}
	if err := h.deps.Templates.Set(r.Context(), name, req.Body); err != nil {
		h.internalError(w, r, "Error saving template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Templates.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.internalError(w, r, "Error deleting template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleSyncPreview(w http.ResponseWriter, r *http.Request) {
	var req SyncPreviewRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	window := h.deps.SyncWindow
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours) * time.Hour
	}

	var (
		preview *syncApp.SyncPreview
		err     error
	)
	if req.AfterID > 0 {
		preview, err = h.deps.Sync.PreviewAfterID(r.Context(), req.AfterID)
	} else {
		preview, err = h.deps.Sync.Preview(r.Context(), window)
	}
	if err != nil {
		var upstream *core_domain.UpstreamAPIError
		if errors.As(err, &upstream) {
			h.logger.WarnContext(r.Context(), "Sync preview aborted by storefront error", "error", err)
			httpserver.WriteError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.internalError(w, r, "Error building sync preview", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, preview)
}

func (h *AdminHandler) handleGetSyncPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.deps.Sync.GetPreview(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, syncApp.ErrPreviewNotFound) {
			httpserver.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.internalError(w, r, "Error loading sync preview", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, preview)
}

func (h *AdminHandler) handleSyncApply(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	op, _ := OperatorFromContext(r.Context())
	h.logger.InfoContext(r.Context(), "Sync apply confirmed", "token", token, "operator", op.Username)

	result, err := h.deps.Sync.Apply(r.Context(), token)
	switch {
	case errors.Is(err, syncApp.ErrPreviewNotFound):
		httpserver.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, syncApp.ErrSyncInProgress):
		httpserver.WriteError(w, http.StatusConflict, err.Error())
	case err != nil && result != nil:
		// Interrupted part way; report what was done.
		h.logger.WarnContext(r.Context(), "Sync apply interrupted", "error", err, "token", token)
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{"result": result, "interrupted": err.Error()})
	case err != nil:
		h.internalError(w, r, "Error applying sync", err)
	default:
		httpserver.WriteJSON(w, http.StatusOK, result)
	}
}

func (h *AdminHandler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.deps.Members.GetMember(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		if errors.Is(err, engagementDomain.ErrMemberNotFound) {
			httpserver.WriteError(w, http.StatusNotFound, "member not tracked")
			return
		}
		h.internalError(w, r, "Error getting member", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, member)
}

func (h *AdminHandler) handleFireWelcome(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.deps.Welcome.FireWelcome(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.internalError(w, r, "Error running welcome gates", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
