package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nileshshinde09/cortex/internal/mcp"
)

func dialWS(t *testing.T, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestWebSocketSession(t *testing.T) {
	s, ts := newTestServer(t, Config{WebSocket: true, Auth: AuthConfig{Enabled: true, APIKey: testKey}})
	conn, _, err := dialWS(t, ts.URL, http.Header{APIKeyHeader: {testKey}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var hello struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	readJSON(t, conn, &hello)
	if hello.Event != "connected" || hello.Data["status"] != "Cortex MCP Server connected" {
		t.Errorf("greeting = %+v", hello)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"cortex_query","arguments":{"sql":"SELECT count(*) AS n FROM notes"}}}`))
	var resp struct {
		ID     int                `json:"id"`
		Result mcp.CallToolResult `json:"result"`
	}
	readJSON(t, conn, &resp)
	if resp.ID != 1 || resp.Result.Text() != `{"n": 0}` {
		t.Errorf("response = %+v", resp)
	}

	// Malformed input is answered and the session stays open.
	conn.WriteMessage(websocket.TextMessage, []byte(`{oops`))
	var bad struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	readJSON(t, conn, &bad)
	if bad.Error.Code != -32700 {
		t.Errorf("parse error = %+v", bad)
	}
	conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	var pong map[string]json.RawMessage
	readJSON(t, conn, &pong)
	if string(pong["id"]) != "2" {
		t.Errorf("ping response = %v", pong)
	}

	if n := s.Hub().Count(); n != 1 {
		t.Errorf("hub count = %d, want 1", n)
	}
}

func TestWebSocketUnauthorized(t *testing.T) {
	_, ts := newTestServer(t, Config{WebSocket: true, Auth: AuthConfig{Enabled: true, APIKey: testKey}})
	conn, _, err := dialWS(t, ts.URL, http.Header{APIKeyHeader: {"wrong-api-key-12345678"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseUnauthorized) {
		t.Fatalf("read error = %v, want close %d", err, CloseUnauthorized)
	}
	if ce := err.(*websocket.CloseError); ce.Text != "Unauthorized" {
		t.Errorf("close reason = %q", ce.Text)
	}
}

func TestWebSocketQueryKey(t *testing.T) {
	_, ts := newTestServer(t, Config{WebSocket: true, Auth: AuthConfig{Enabled: true, APIKey: testKey}})
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?api_key="+testKey, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var hello map[string]any
	readJSON(t, conn, &hello)
	if hello["event"] != "connected" {
		t.Errorf("greeting = %v", hello)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	_, ts := newTestServer(t, Config{WebSocket: true, MaxMessageRate: 1})
	conn, _, err := dialWS(t, ts.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var hello map[string]any
	readJSON(t, conn, &hello)

	for i := 0; i < 5; i++ {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("read error = %v, want policy violation", err)
	}
}

func TestWebSocketOrigin(t *testing.T) {
	_, ts := newTestServer(t, Config{WebSocket: true, AllowedOrigins: []string{"https://app.example.com"}})

	if _, _, err := dialWS(t, ts.URL, http.Header{"Origin": {"https://evil.example.org"}}); err == nil {
		t.Error("disallowed origin upgraded")
	}
	if _, _, err := dialWS(t, ts.URL, http.Header{"Origin": {"https://app.example.com"}}); err != nil {
		t.Errorf("allowed origin: %v", err)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"https://a.com", nil, true},
		{"", []string{"https://a.com"}, true},
		{"https://a.com", []string{"https://a.com"}, true},
		{"https://b.com", []string{"https://a.com"}, false},
		{"https://x.a.com", []string{"*.a.com"}, true},
		{"https://evila.com", []string{"*.a.com"}, false},
		{"https://b.com", []string{"*"}, true},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, tt.allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
		}
	}
}
