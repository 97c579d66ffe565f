package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vocallabs/golang_services/internal/platform/auth"
)

// SessionAuthMiddleware validates the session token issued by the external
// auth provider and places the session, plus the raw credential for backend
// calls, on the request context.
func SessionAuthMiddleware(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With("component", "auth_middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				unauthorized(w, "missing_credentials")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				unauthorized(w, "invalid_credentials")
				return
			}
			token := strings.TrimSpace(parts[1])

			session, err := auth.ParseSessionToken(secret, token)
			if err != nil {
				logger.WarnContext(r.Context(), "Session token validation failed", "error", err)
				unauthorized(w, "invalid_credentials")
				return
			}

			ctx := auth.WithSession(r.Context(), *session, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
