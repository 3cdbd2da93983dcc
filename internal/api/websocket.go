package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Nileshshinde09/cortex/internal/logging"
)

// CloseUnauthorized is the close code sent when the handshake lacks a
// valid API key.
const CloseUnauthorized = 4001

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var errClientClosed = errors.New("websocket client closed")

// Event is a server notice sent outside JSON-RPC.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// connectedEvent greets every authenticated client.
var connectedEvent = Event{Event: "connected", Data: map[string]string{"status": "Cortex MCP Server connected"}}

// Hub tracks connected WebSocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logging.WebSocketEvent("client_connected", n, "client_id", c.id)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	logging.WebSocketEvent("client_disconnected", n, "client_id", c.id)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Client is one WebSocket connection. It is the mcp.MessageConn of that
// connection: reads come straight off the socket, writes are queued for
// writePump so control frames and replies never interleave.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *tokenBucket
}

func newClient(id string, conn *websocket.Conn, messagesPerSecond int) *Client {
	rate := float64(messagesPerSecond)
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
		limiter: newTokenBucket(rate*2, rate, time.Now()),
	}
}

// ReadMessage returns the next text or binary frame. A client exceeding
// its message rate is disconnected with a policy violation.
func (c *Client) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logging.Warn("websocket unexpected close", "client_id", c.id, "error", err)
			}
			return nil, err
		}
		if ok, _, _ := c.limiter.take(time.Now()); !ok {
			logging.SecurityEvent("message_rate_exceeded", "websocket", "client_id", c.id)
			c.closeWith(websocket.ClosePolicyViolation, "Rate limit exceeded")
			return nil, errors.New("websocket message rate exceeded")
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage queues data as a text frame.
func (c *Client) WriteMessage(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	}
}

// Close stops writePump and closes the socket.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *Client) closeWith(code int, reason string) {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.Close()
}

func (c *Client) writeEvent(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.WriteMessage(b)
}

// writePump owns all frame writes on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// isOriginAllowed checks origin against the allowed list. Exact matches,
// "*" and "*.example.com" patterns are supported. An empty list or a
// request without Origin (a non-browser client) is allowed.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" || len(allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, allowed[1:]) {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if isOriginAllowed(origin, s.cfg.AllowedOrigins) {
		return true
	}
	logging.SecurityEvent("origin_rejected", "websocket", "origin", origin)
	return false
}

// handleWebSocket accepts the upgrade, then authenticates: a bad key gets
// close code 4001. Authenticated clients are greeted and served JSON-RPC
// until they disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	client := newClient(uuid.NewString(), conn, s.cfg.MaxMessageRate)
	if !s.cfg.Auth.Authenticate(r, true) {
		logging.SecurityEvent("unauthorized_request", "websocket", "remote_addr", r.RemoteAddr)
		s.metrics.AuthFailed("websocket")
		client.closeWith(CloseUnauthorized, "Unauthorized")
		return
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	s.hub.register(client)
	defer s.hub.unregister(client)
	go client.writePump()

	if err := client.writeEvent(connectedEvent); err != nil {
		client.Close()
		return
	}
	ctx := logging.WithSessionID(r.Context(), client.id)
	if err := s.mcp.Serve(ctx, client, "websocket"); err != nil {
		logging.Debug("websocket session ended", "client_id", client.id, "error", err)
	}
	client.Close()
}
