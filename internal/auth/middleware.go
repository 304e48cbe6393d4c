// internal/auth/middleware.go
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const TenantIDKey contextKey = "tenant_id"

// JWTAuthMiddleware accepts the token as a Bearer header or, for browser
// websocket clients that cannot set headers, a token query parameter.
func JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			tokenStr = r.URL.Query().Get("token")
		}
		if tokenStr == "" {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateToken(tokenStr)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := uuid.Parse(claims.TenantID); err != nil {
			http.Error(w, "unauthorized tenant", http.StatusUnauthorized)
			return
		}

		// Inject tenant_id into context
		ctx := context.WithValue(r.Context(), TenantIDKey, claims.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ServiceTokenMiddleware guards service-to-service routes with a shared
// secret sent as X-Ingest-Token or Bearer. An empty token disables the check.
func ServiceTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Ingest-Token")
			if got == "" {
				got = bearerToken(r)
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// GetTenantID extracts tenant_id from context
func GetTenantID(r *http.Request) string {
	if val, ok := r.Context().Value(TenantIDKey).(string); ok {
		return val
	}
	return ""
}

// TenantUUID is GetTenantID parsed; the middleware has already validated it.
func TenantUUID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(GetTenantID(r))
	return id, err == nil
}
