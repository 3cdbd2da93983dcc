package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/Nileshshinde09/cortex/internal/config"
	"github.com/Nileshshinde09/cortex/internal/logging"
	"github.com/Nileshshinde09/cortex/internal/metrics"
)

// APIKeyHeader carries the API key on every authenticated request.
const APIKeyHeader = "X-API-Key"

const msgUnauthorized = "Unauthorized - Invalid or missing API key"

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Authenticate reports whether r carries the configured key. With auth
// disabled every request passes. allowQuery also accepts an api_key query
// parameter, for WebSocket clients that cannot set headers.
func (a AuthConfig) Authenticate(r *http.Request, allowQuery bool) bool {
	if !a.Enabled {
		return true
	}
	key := r.Header.Get(APIKeyHeader)
	if key == "" && allowQuery {
		key = r.URL.Query().Get("api_key")
	}
	return key != "" && constantTimeCompare(key, a.APIKey)
}

// AuthMiddleware rejects requests without the API key. / and /health are
// always public; /ws authenticates during the handshake instead.
func AuthMiddleware(cfg AuthConfig, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled || isPublicEndpoint(r.URL.Path) || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		if !cfg.Authenticate(r, false) {
			reason := "invalid API key"
			if r.Header.Get(APIKeyHeader) == "" {
				reason = "missing API key"
			}
			logging.SecurityEvent("unauthorized_request", "auth",
				"path", r.URL.Path,
				"reason", reason,
				"remote_addr", r.RemoteAddr)
			m.AuthFailed("http")
			respondError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicEndpoint(path string) bool {
	return path == "/" || path == "/health"
}

// ValidateAuthConfig validates the authentication configuration.
func ValidateAuthConfig(cfg AuthConfig) error {
	if cfg.Enabled && cfg.APIKey == "" {
		return fmt.Errorf("API key is required when authentication is enabled")
	}
	if cfg.Enabled && len(cfg.APIKey) < config.MinAPIKeyLength {
		return fmt.Errorf("API key must be at least %d characters (got %d)", config.MinAPIKeyLength, len(cfg.APIKey))
	}
	return nil
}

func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
