package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"willsave/pkg/apierror"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// APIKeys are the accepted keys. An empty list disables authentication,
	// which suits a daemon bound to loopback.
	APIKeys []string
}

// NewAuthMiddleware creates an API key middleware. Keys are read from the
// X-API-Key header or a Bearer token.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(cfg.APIKeys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			// Skip auth for health check endpoints
			if r.URL.Path == "/api/v1/health" || r.URL.Path == "/api/v1/ready" {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				writeError(w, apierror.Unauthorized("Authentication required. Use X-API-Key header."))
				return
			}

			if !isValidKey(apiKey, cfg.APIKeys) {
				writeError(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
