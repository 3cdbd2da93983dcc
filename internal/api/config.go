package api

import (
	"net"
	"strconv"
	"time"

	"github.com/Nileshshinde09/cortex/internal/config"
)

// Limits applied when Config leaves them zero.
const (
	DefaultMaxBodyBytes   = 4 << 20
	DefaultMaxMessageSize = 4 << 20
	DefaultMaxMessageRate = 20
	DefaultBurst          = 10
)

// Config holds the settings of one HTTP listener.
type Config struct {
	Addr string

	// HTTP mounts POST /mcp and GET /sse.
	HTTP bool
	// WebSocket mounts GET /ws.
	WebSocket bool
	// Metrics mounts GET /metrics.
	Metrics bool

	Auth           AuthConfig
	RateLimit      RateLimiterConfig
	TLS            TLSConfig
	AllowedOrigins []string // CORS and WebSocket origins (empty = allow all)
	TrustProxy     bool     // take the client address from X-Forwarded-For

	SSEPing         time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	MaxMessageSize  int64 // WebSocket frame limit
	MaxMessageRate  int   // WebSocket messages per second per client
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Enabled reports whether the listener serves HTTPS.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// FromConfig derives the listener settings for port from the server
// configuration. httpRoutes and wsRoutes select the mounted transports.
func FromConfig(c *config.Config, port int, httpRoutes, wsRoutes bool) Config {
	return Config{
		Addr:      net.JoinHostPort(c.Host, strconv.Itoa(port)),
		HTTP:      httpRoutes,
		WebSocket: wsRoutes,
		Metrics:   c.Metrics,
		Auth:      AuthConfig{Enabled: c.AuthEnabled(), APIKey: c.APIKey},
		RateLimit: RateLimiterConfig{
			RequestsPerMinute: c.RateLimit.RequestsPerMinute,
			BurstSize:         c.RateLimit.Burst,
		},
		TLS:             TLSConfig{CertFile: c.TLS.CertFile, KeyFile: c.TLS.KeyFile},
		AllowedOrigins:  c.AllowedOrigins,
		TrustProxy:      c.TrustProxy,
		SSEPing:         c.SSEPing,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}

func (c *Config) setDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxMessageRate <= 0 {
		c.MaxMessageRate = DefaultMaxMessageRate
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
		c.RateLimit.BurstSize = DefaultBurst
	}
	if c.SSEPing <= 0 {
		c.SSEPing = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}
