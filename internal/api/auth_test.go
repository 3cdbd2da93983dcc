package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Nileshshinde09/cortex/internal/metrics"
)

const testKey = "test-api-key-12345678"

func TestAuthMiddleware(t *testing.T) {
	enabled := AuthConfig{Enabled: true, APIKey: testKey}

	tests := []struct {
		name   string
		cfg    AuthConfig
		path   string
		key    string
		status int
	}{
		{"disabled", AuthConfig{}, "/mcp", "", http.StatusOK},
		{"valid key", enabled, "/mcp", testKey, http.StatusOK},
		{"missing key", enabled, "/mcp", "", http.StatusUnauthorized},
		{"wrong key", enabled, "/mcp", "wrong-api-key-12345678", http.StatusUnauthorized},
		{"prefix of key", enabled, "/mcp", testKey[:10], http.StatusUnauthorized},
		{"metrics protected", enabled, "/metrics", "", http.StatusUnauthorized},
		{"root public", enabled, "/", "", http.StatusOK},
		{"health public", enabled, "/health", "", http.StatusOK},
		{"websocket deferred", enabled, "/ws", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			handler := AuthMiddleware(tt.cfg, m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusUnauthorized {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["error"] != msgUnauthorized {
				t.Errorf("error = %q", body["error"])
			}
		})
	}
}

func TestAuthenticateQueryParam(t *testing.T) {
	cfg := AuthConfig{Enabled: true, APIKey: testKey}
	req := httptest.NewRequest(http.MethodGet, "/ws?api_key="+testKey, nil)
	if cfg.Authenticate(req, false) {
		t.Error("query parameter accepted without allowQuery")
	}
	if !cfg.Authenticate(req, true) {
		t.Error("query parameter rejected with allowQuery")
	}
}

func TestValidateAuthConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AuthConfig
		wantErr string
	}{
		{"disabled", AuthConfig{}, ""},
		{"valid", AuthConfig{Enabled: true, APIKey: testKey}, ""},
		{"empty key", AuthConfig{Enabled: true}, "required"},
		{"short key", AuthConfig{Enabled: true, APIKey: "short"}, "at least 16"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAuthConfig(tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
