package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	t.Run("AllHealthy", func(t *testing.T) {
		h := HealthHandler(map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
		})
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["checks"].(map[string]any)["postgres"])
	})

	t.Run("OneUnhealthy", func(t *testing.T) {
		h := HealthHandler(map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"nats":     func(ctx context.Context) error { return errors.New("disconnected") },
		})
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "disconnected")
	})
}

func TestNewRouter_ServesMetricsAndRoutes(t *testing.T) {
	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"pong": "yes"})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"pong":"yes"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bridge_http_requests_total")
}

func TestTopicLabel(t *testing.T) {
	tests := map[string]string{
		"":                 "none",
		"orders/create":    "orders/create",
		" Orders/Paid ":    "orders/paid",
		"orders/cancelled": "orders/other",
		"products/delete":  "products/other",
		"app/uninstalled":  "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, topicLabel(in), in)
	}
}

func TestPrometheusMetricsMiddleware_LabelsWebhookTopic(t *testing.T) {
	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	r.Post("/webhooks/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", nil)
	req.Header.Set(TopicHeader, "orders/create")
	r.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(),
		`bridge_http_requests_total{method="POST",route="/webhooks/test",status_code="202",topic="orders/create"}`)
	assert.Contains(t, rr.Body.String(), "bridge_http_requests_in_flight")
}
