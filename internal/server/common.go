// Package server provides shared HTTP middleware for the MCP transports.
package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gorilla/handlers"

	"github.com/Nileshshinde09/cortex/internal/logging"
)

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowedOrigins []string // empty = allow all (*)
}

// CORS wraps next with gorilla/handlers CORS support. Browsers may send
// JSON bodies and the API key header to the MCP endpoints.
func CORS(cfg CORSConfig, next http.Handler) http.Handler {
	opts := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key", "Mcp-Session-Id"}),
		handlers.ExposedHeaders([]string{"Mcp-Session-Id", "X-Request-ID"}),
		handlers.MaxAge(600),
	}
	if len(cfg.AllowedOrigins) > 0 {
		opts = append(opts, handlers.AllowedOrigins(cfg.AllowedOrigins), handlers.AllowCredentials())
	}
	return handlers.CORS(opts...)(next)
}

// recoveryLogger adapts the logging package to handlers.RecoveryHandlerLogger.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...any) {
	logging.Error("panic recovered", "panic", strings.TrimSpace(fmt.Sprintln(v...)), "stack", string(debug.Stack()))
}

// Recover turns handler panics into 500 responses and logs them.
func Recover(next http.Handler) http.Handler {
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(next)
}

// ProxyHeaders trusts X-Forwarded-For and friends for the client address,
// used when the server runs behind a reverse proxy.
func ProxyHeaders(next http.Handler) http.Handler {
	return handlers.ProxyHeaders(next)
}
