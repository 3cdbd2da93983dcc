// Package config loads the MCP server configuration. Values come from
// built-in defaults, an optional YAML file, CORTEX_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/Nileshshinde09/cortex/core/cortex"
)

// Transports accepted by the server.
const (
	TransportStdio     = "stdio"
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportAll       = "all"
)

// DefaultPort is the HTTP port; "all" mode puts WebSocket on DefaultPort+1.
const DefaultPort = 5173

// MinAPIKeyLength is the shortest accepted API key.
const MinAPIKeyLength = 16

// Config holds server configuration.
type Config struct {
	Database        string        `yaml:"database"`
	ReadOnly        bool          `yaml:"read_only"`
	Transport       string        `yaml:"transport"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	APIKey          string        `yaml:"api_key"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
	TLS             TLS           `yaml:"tls"`
	SSEPing         time.Duration `yaml:"sse_ping_interval"`
	SchemaCacheTTL  time.Duration `yaml:"schema_cache_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
	Log             Log           `yaml:"log"`
}

// RateLimit configures per-client request limiting. Zero disables it.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// TLS holds certificate paths; both empty means plain HTTP.
type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether TLS is configured.
func (t TLS) Enabled() bool { return t.CertFile != "" || t.KeyFile != "" }

// Log selects the log level and format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Transport:       TransportStdio,
		Host:            "localhost",
		Port:            DefaultPort,
		SSEPing:         30 * time.Second,
		SchemaCacheTTL:  time.Minute,
		ShutdownTimeout: 10 * time.Second,
		Metrics:         true,
		Log:             Log{Level: "info", Format: "json"},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then with the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.Decode(f); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode overlays YAML from r onto cfg. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// ApplyEnv overlays CORTEX_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CORTEX_DB":         &c.Database,
		"CORTEX_TRANSPORT":  &c.Transport,
		"CORTEX_HOST":       &c.Host,
		"CORTEX_API_KEY":    &c.APIKey,
		"CORTEX_LOG_LEVEL":  &c.Log.Level,
		"CORTEX_LOG_FORMAT": &c.Log.Format,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	if v, ok := lookup("CORTEX_PORT"); ok {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("CORTEX_PORT: %w", err)
		}
		c.Port = p
	}
	if v, ok := lookup("CORTEX_READ_ONLY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("CORTEX_READ_ONLY: %w", err)
		}
		c.ReadOnly = b
	}
	if v, ok := lookup("CORTEX_TRUST_PROXY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("CORTEX_TRUST_PROXY: %w", err)
		}
		c.TrustProxy = b
	}
	if v, ok := lookup("CORTEX_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// AuthEnabled reports whether requests must carry the API key.
func (c *Config) AuthEnabled() bool { return c.APIKey != "" }

// WebSocketPort is the port the WebSocket transport listens on.
func (c *Config) WebSocketPort() int {
	if c.Transport == TransportAll {
		return c.Port + 1
	}
	return c.Port
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Database == "" {
		result = multierror.Append(result, fmt.Errorf("database path is required"))
	} else if err := cortex.ValidatePath(c.Database); err != nil {
		result = multierror.Append(result, err)
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportWebSocket, TransportAll:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown transport %q (want stdio, http, websocket or all)", c.Transport))
	}
	if c.Port < 1 || c.WebSocketPort() > 65535 {
		result = multierror.Append(result, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.APIKey != "" && len(c.APIKey) < MinAPIKeyLength {
		result = multierror.Append(result, fmt.Errorf("API key must be at least %d characters (got %d)", MinAPIKeyLength, len(c.APIKey)))
	}
	if c.TLS.Enabled() && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		result = multierror.Append(result, fmt.Errorf("TLS needs both cert_file and key_file"))
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		result = multierror.Append(result, fmt.Errorf("rate limit values must not be negative"))
	}
	if c.SSEPing <= 0 {
		result = multierror.Append(result, fmt.Errorf("sse_ping_interval must be positive"))
	}
	if c.SchemaCacheTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("schema_cache_ttl must not be negative"))
	}
	return result.ErrorOrNil()
}

// MaskedKey returns the API key with all but its last four characters hidden.
func (c *Config) MaskedKey() string {
	if len(c.APIKey) <= 4 {
		return strings.Repeat("*", len(c.APIKey))
	}
	return strings.Repeat("*", len(c.APIKey)-4) + c.APIKey[len(c.APIKey)-4:]
}
