package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/wadash/backend/internal/services"
)

// InternalAPIKey guards the internal API used by the send handler and ops
// tooling. An empty key rejects every request.
func InternalAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
				return
			}

			if key == "" || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(key)) != 1 {
				services.SendErrorResponse(w, "Invalid API key", http.StatusUnauthorized, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
