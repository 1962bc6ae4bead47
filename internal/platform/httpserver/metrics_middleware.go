package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TopicHeader carries the storefront webhook topic, e.g. "orders/create".
const TopicHeader = "X-Shopify-Topic"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, status and webhook topic (\"none\" outside the webhook endpoint).",
		},
		[]string{"method", "route", "status_code", "topic"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bridge",
		Name:      "http_requests_in_flight",
		Help:      "Requests currently being served.",
	})
)

// Topics the bridge acts on keep their own label; anything else collapses
// into its resource family so a misbehaving sender cannot grow the series.
var trackedTopics = map[string]bool{
	"orders/create":    true,
	"orders/updated":   true,
	"orders/paid":      true,
	"orders/fulfilled": true,
	"products/create":  true,
	"products/update":  true,
}

func topicLabel(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	switch {
	case topic == "":
		return "none"
	case trackedTopics[topic]:
		return topic
	case strings.HasPrefix(topic, "orders/"):
		return "orders/other"
	case strings.HasPrefix(topic, "products/"):
		return "products/other"
	default:
		return "other"
	}
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

// PrometheusMetricsMiddleware records request counts, latency and in-flight
// requests, labelled by chi route pattern rather than raw path.
func PrometheusMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)
		httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status), topicLabel(r.Header.Get(TopicHeader))).Inc()
	})
}
