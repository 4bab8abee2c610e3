// internal/api/auth.go
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAPIKey checks the Authorization header against the shared secret.
// An unconfigured secret is a server misconfiguration, not a client error.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey == "" {
			h.logger.Error("API key is not configured")
			respondWithError(w, http.StatusInternalServerError, "API key is not configured")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respondWithError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
			respondWithError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
