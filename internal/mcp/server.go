package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/internal/cache"
	"github.com/Nileshshinde09/cortex/internal/logging"
	"github.com/Nileshshinde09/cortex/internal/metrics"
)

// Options configures a Server.
type Options struct {
	// ReadOnly rejects cortex_execute.
	ReadOnly bool
	// SchemaCacheTTL keeps cortex_tables and cortex_schema results; zero
	// disables the cache.
	SchemaCacheTTL time.Duration
	// Metrics receives tool and RPC counters; nil disables them.
	Metrics *metrics.Metrics
	// Instructions is sent to clients in the initialize result.
	Instructions string
}

// Server answers MCP requests against one database connection.
type Server struct {
	mu       sync.RWMutex
	db       *cortex.Conn
	readOnly bool
	schemas  *cache.TTLCache[string, string]
	metrics  *metrics.Metrics
	instr    string
	tools    map[string]*toolDef
	order    []string
}

// NewServer returns a Server for db. db may be nil; tool calls then report
// that no database is connected.
func NewServer(db *cortex.Conn, opts Options) *Server {
	s := &Server{
		db:       db,
		readOnly: opts.ReadOnly,
		schemas:  cache.New[string, string](opts.SchemaCacheTTL),
		metrics:  opts.Metrics,
		instr:    opts.Instructions,
		tools:    map[string]*toolDef{},
	}
	s.registerTools()
	return s
}

// SetDatabase swaps the connection the tools run against.
func (s *Server) SetDatabase(db *cortex.Conn) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.schemas.Invalidate()
}

// Database returns the current connection, or nil.
func (s *Server) Database() *cortex.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Dispatch runs one method. A nil result with a nil error is the answer
// to a notification. Protocol failures are *jsonrpc2.Error values.
func (s *Server) Dispatch(ctx context.Context, transport, method string, params json.RawMessage) (any, error) {
	s.metrics.ObserveRPC(transport, method)
	logging.DebugContext(ctx, "rpc", "transport", transport, "method", method)

	switch method {
	case MethodInitialize:
		var p InitializeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.initialize(ctx, transport, &p), nil
	case MethodInitialized, MethodCancelled:
		return nil, nil
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return ListToolsResult{Tools: s.Tools()}, nil
	case MethodToolsCall:
		var p CallToolParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, rpcError(jsonrpc2.CodeInvalidParams, "tool name is required")
		}
		return s.CallTool(ctx, p.Name, p.Arguments), nil
	}
	return nil, rpcError(jsonrpc2.CodeMethodNotFound, "Method not found: "+method)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rpcError(jsonrpc2.CodeInvalidParams, "Invalid params: "+err.Error())
	}
	return nil
}

func (s *Server) initialize(ctx context.Context, transport string, p *InitializeParams) *InitializeResult {
	version := LatestProtocolVersion
	for _, v := range supportedVersions {
		if v == p.ProtocolVersion {
			version = v
		}
	}
	logging.InfoContext(ctx, "client initialized",
		"transport", transport,
		"client", p.ClientInfo.Name,
		"client_version", p.ClientInfo.Version,
		"protocol_version", version)
	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		ServerInfo:      Implementation{Name: ServerName, Version: Version},
		Instructions:    s.instr,
	}
}

// Handler adapts the server to a jsonrpc2 connection.
func (s *Server) Handler(transport string) jsonrpc2.Handler {
	return jsonrpc2.HandlerWithError(func(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		var params json.RawMessage
		if req.Params != nil {
			params = *req.Params
		}
		res, err := s.Dispatch(ctx, transport, req.Method, params)
		if req.Notif {
			return nil, nil
		}
		if err == nil && res == nil {
			res = struct{}{}
		}
		return res, err
	})
}

// HandleMessage answers one encoded message or batch, as carried by an
// HTTP POST. It returns nil when nothing needs to be sent back
// (notifications only).
func (s *Server) HandleMessage(ctx context.Context, transport string, data []byte) []byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return marshalError(nil, rpcError(jsonrpc2.CodeParseError, "Parse error"))
	}
	if data[0] != '[' {
		return s.handleOne(ctx, transport, data)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(data, &batch); err != nil || len(batch) == 0 {
		return marshalError(nil, rpcError(jsonrpc2.CodeInvalidRequest, "Invalid Request"))
	}
	var out [][]byte
	for _, msg := range batch {
		if resp := s.handleOne(ctx, transport, msg); resp != nil {
			out = append(out, resp)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return append(append([]byte{'['}, bytes.Join(out, []byte{','})...), ']')
}

// envelope holds the fields checked before a message is treated as a request.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
}

func (s *Server) handleOne(ctx context.Context, transport string, data []byte) []byte {
	var p envelope
	if err := json.Unmarshal(data, &p); err != nil || p.JSONRPC != "2.0" || !isString(p.Method) {
		return marshalError(nil, rpcError(jsonrpc2.CodeInvalidRequest, "Invalid Request"))
	}
	var req jsonrpc2.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return marshalError(nil, rpcError(jsonrpc2.CodeInvalidRequest, "Invalid Request"))
	}
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	res, err := s.Dispatch(ctx, transport, req.Method, params)
	if req.Notif {
		return nil
	}
	if err == nil && res == nil {
		res = struct{}{}
	}

	resp := &jsonrpc2.Response{ID: req.ID}
	if err == nil {
		err = resp.SetResult(res)
	}
	if err != nil {
		e, ok := err.(*jsonrpc2.Error)
		if !ok {
			e = rpcError(jsonrpc2.CodeInternalError, err.Error())
		}
		resp.Error = e
		resp.Result = nil
	}
	b, mErr := json.Marshal(resp)
	if mErr != nil {
		return marshalError(&req.ID, rpcError(jsonrpc2.CodeInternalError, fmt.Sprintf("encode response: %v", mErr)))
	}
	return b
}

func isString(raw json.RawMessage) bool {
	var s string
	return len(raw) > 0 && json.Unmarshal(raw, &s) == nil && s != ""
}

// IsInitialize reports whether an encoded message (not a batch) is an
// initialize request.
func IsInitialize(data []byte) bool {
	var p struct {
		Method string `json:"method"`
	}
	return json.Unmarshal(bytes.TrimSpace(data), &p) == nil && p.Method == MethodInitialize
}
