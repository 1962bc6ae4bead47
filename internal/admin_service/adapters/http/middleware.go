package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopbridge/golang_services/internal/admin_service/app"
	"github.com/shopbridge/golang_services/internal/platform/httpserver"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const OperatorContextKey = ContextKey("operator")

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Validate(token string) (*app.Operator, error)
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// operator in the request context.
func AuthMiddleware(validator TokenValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httpserver.WriteError(w, http.StatusUnauthorized, "authorization header required")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				httpserver.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			op, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				httpserver.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the operator set by AuthMiddleware.
func OperatorFromContext(ctx context.Context) (*app.Operator, bool) {
	op, ok := ctx.Value(OperatorContextKey).(*app.Operator)
	return op, ok
}
