// Package api serves the MCP server over HTTP: JSON-RPC on POST /mcp, a
// keep-alive event stream on /sse and full-duplex JSON-RPC on /ws.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Nileshshinde09/cortex/internal/logging"
	"github.com/Nileshshinde09/cortex/internal/mcp"
	"github.com/Nileshshinde09/cortex/internal/metrics"
	"github.com/Nileshshinde09/cortex/internal/server"
)

// SessionHeader carries the MCP session id on streamable HTTP requests.
const SessionHeader = "Mcp-Session-Id"

// Server is one HTTP listener in front of an mcp.Server.
type Server struct {
	cfg      Config
	mcp      *mcp.Server
	metrics  *metrics.Metrics
	hub      *Hub
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New builds the listener's routes and middleware. m may be nil.
func New(cfg Config, srv *mcp.Server, m *metrics.Metrics) (*Server, error) {
	if err := ValidateAuthConfig(cfg.Auth); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	cfg.setDefaults()
	s := &Server{
		cfg:     cfg,
		mcp:     srv,
		metrics: m,
		hub:     NewHub(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit)
	}
	s.handler = s.middleware(s.routes())
	return s, nil
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the WebSocket client registry.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	if s.cfg.HTTP {
		r.HandleFunc("/mcp", s.handleMCP).Methods(http.MethodPost)
		r.HandleFunc("/sse", s.handleSSE).Methods(http.MethodGet)
	}
	if s.cfg.WebSocket {
		r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	}
	if s.cfg.Metrics && s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// middleware wraps h, outermost first: panic recovery, request logging,
// CORS, security headers, rate limiting, authentication and the body limit.
func (s *Server) middleware(h http.Handler) http.Handler {
	h = server.LimitBody(s.cfg.MaxBodyBytes, h)
	h = AuthMiddleware(s.cfg.Auth, s.metrics, h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = server.SecurityHeaders(server.APICSPConfig(), h)
	h = server.CORS(server.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}, h)
	h = logging.CombinedMiddleware(h)
	if s.cfg.TrustProxy {
		h = server.ProxyHeaders(h)
	}
	return server.Recover(h)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{"health": "/health"}
	if s.cfg.HTTP {
		endpoints["mcp"] = "/mcp"
		endpoints["sse"] = "/sse"
	}
	if s.cfg.WebSocket {
		endpoints["websocket"] = "/ws"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"server":    mcp.ServerName,
		"version":   mcp.Version,
		"endpoints": endpoints,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "server": mcp.ServerName})
}

// handleMCP answers one JSON-RPC message or batch. initialize opens a
// session whose id is returned in Mcp-Session-Id; a body holding only
// notifications gets 202 Accepted.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if !server.ValidateContentType(r.Header.Get("Content-Type"), []string{"application/json"}) {
		respondError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	ctx := r.Context()
	sid := r.Header.Get(SessionHeader)
	if mcp.IsInitialize(body) {
		sid = uuid.NewString()
	}
	if sid != "" {
		w.Header().Set(SessionHeader, sid)
		ctx = logging.WithSessionID(ctx, sid)
	}

	resp := s.mcp.HandleMessage(ctx, "http", body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

// handleSSE holds an event stream open: a connected event, then a ping
// every SSEPing until the client or the server goes away.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	id := uuid.NewString()
	s.metrics.ConnOpened("sse")
	defer s.metrics.ConnClosed("sse")
	logging.InfoContext(r.Context(), "sse client connected", "client_id", id)
	defer logging.InfoContext(r.Context(), "sse client disconnected", "client_id", id)

	send := func(event string, data any) bool {
		if err := writeSSE(w, event, data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}
	if !send("connected", map[string]string{"status": "Cortex MCP Server connected"}) {
		return
	}

	ticker := time.NewTicker(s.cfg.SSEPing)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send("ping", map[string]string{"status": "alive"}) {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within ShutdownTimeout. Open event streams and WebSocket
// sessions end with ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	protocol, wsProtocol := "http", "ws"
	if s.cfg.TLS.Enabled() {
		protocol, wsProtocol = "https", "wss"
	}
	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	logging.ServerStartup("mcp", protocol, port,
		"websocket_protocol", wsProtocol,
		"http", s.cfg.HTTP,
		"websocket", s.cfg.WebSocket,
		"auth", s.cfg.Auth.Enabled,
		"rate_limit", s.cfg.RateLimit.RequestsPerMinute)

	if s.limiter != nil {
		go s.limiter.Cleanup(ctx, time.Minute)
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(sctx)
	}()

	var err error
	if s.cfg.TLS.Enabled() {
		err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = srv.Serve(ln)
	}
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logging.Info("server stopped", "addr", ln.Addr().String())
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
