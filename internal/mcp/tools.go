package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/errors"
	"github.com/Nileshshinde09/cortex/internal/logging"
)

// Tool names.
const (
	ToolQuery   = "cortex_query"
	ToolExecute = "cortex_execute"
	ToolTables  = "cortex_tables"
	ToolSchema  = "cortex_schema"
)

// Tool result texts.
const (
	msgNoResults  = "No results found"
	msgExecuted   = "Executed successfully"
	msgNoTables   = "No tables found"
	msgNoSchema   = "No schema found"
	msgNoDatabase = "Error: No database connected"
)

type toolFunc func(ctx context.Context, db *cortex.Conn, args map[string]any) (string, error)

type toolDef struct {
	Tool
	run toolFunc
}

func (s *Server) registerTools() {
	s.register(Tool{
		Name:        ToolQuery,
		Description: "Run a SELECT query and return results",
		InputSchema: InputSchema{
			Type:       "object",
			Properties: map[string]Property{"sql": {Type: "string", Description: "SELECT SQL statement"}},
			Required:   []string{"sql"},
		},
	}, s.query)
	s.register(Tool{
		Name:        ToolExecute,
		Description: "Execute INSERT, UPDATE, DELETE or CREATE statements",
		InputSchema: InputSchema{
			Type:       "object",
			Properties: map[string]Property{"sql": {Type: "string", Description: "SQL statement to execute"}},
			Required:   []string{"sql"},
		},
	}, s.execute)
	s.register(Tool{
		Name:        ToolTables,
		Description: "List all tables in the database",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	}, s.tables)
	s.register(Tool{
		Name:        ToolSchema,
		Description: "Get schema of a table or all tables",
		InputSchema: InputSchema{
			Type:       "object",
			Properties: map[string]Property{"table": {Type: "string", Description: "Table name (optional)"}},
		},
	}, s.schema)
}

func (s *Server) register(t Tool, run toolFunc) {
	s.tools[t.Name] = &toolDef{Tool: t, run: run}
	s.order = append(s.order, t.Name)
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []Tool {
	out := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name].Tool)
	}
	return out
}

// CallTool runs a tool. Failures inside the tool come back as an error
// result, never as a protocol error.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) *CallToolResult {
	def, ok := s.tools[name]
	if !ok {
		return errorResult("Unknown tool: " + name)
	}
	db := s.Database()
	if db == nil {
		return errorResult(msgNoDatabase)
	}

	start := time.Now()
	text, err := def.run(ctx, db, args)
	elapsed := time.Since(start)
	s.metrics.ObserveTool(name, elapsed, err != nil)
	logging.ToolCall(ctx, name, elapsed, err)
	if err != nil {
		return errorResult("Error: " + errors.MessageOf(err))
	}
	return textResult(text)
}

func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required argument %q", name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must not be empty", name)
	}
	return s, nil
}

func renderRows(rs *cortex.ResultSet) string {
	lines := make([]string, len(rs.Rows))
	for i := range rs.Rows {
		lines[i] = rs.Ordered(i).String()
	}
	return strings.Join(lines, "\n")
}

func (s *Server) query(ctx context.Context, db *cortex.Conn, args map[string]any) (string, error) {
	q, err := stringArg(args, "sql", true)
	if err != nil {
		return "", err
	}
	rs, err := db.QueryReadOnly(ctx, q)
	if err != nil {
		return "", err
	}
	if len(rs.Rows) == 0 {
		return msgNoResults, nil
	}
	return renderRows(rs), nil
}

func (s *Server) execute(ctx context.Context, db *cortex.Conn, args map[string]any) (string, error) {
	q, err := stringArg(args, "sql", true)
	if err != nil {
		return "", err
	}
	if s.readOnly {
		return "", errors.New("cortex_execute", errors.READONLY, "server is read-only")
	}
	if _, err := db.Exec(ctx, q); err != nil {
		return "", err
	}
	s.schemas.Invalidate()
	return msgExecuted, nil
}

// tablesKey caches the table list next to per-table schemas; it cannot
// collide with a table name because those never start with NUL.
const tablesKey = "\x00tables"

func (s *Server) tables(ctx context.Context, db *cortex.Conn, _ map[string]any) (string, error) {
	return s.cached(tablesKey, func() (string, error) {
		names, err := db.Tables(ctx)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return msgNoTables, nil
		}
		return strings.Join(names, "\n"), nil
	})
}

func (s *Server) schema(ctx context.Context, db *cortex.Conn, args map[string]any) (string, error) {
	table, err := stringArg(args, "table", false)
	if err != nil {
		return "", err
	}
	return s.cached("schema:"+table, func() (string, error) {
		rs, err := db.Schema(ctx, table)
		if errors.Is(err, errors.ErrNotFound) {
			return msgNoSchema, nil
		}
		if err != nil {
			return "", err
		}
		if len(rs.Rows) == 0 {
			return msgNoSchema, nil
		}
		return renderRows(rs), nil
	})
}

func (s *Server) cached(key string, load func() (string, error)) (string, error) {
	if v, ok := s.schemas.Get(key); ok {
		s.metrics.CacheLookup(true)
		return v, nil
	}
	s.metrics.CacheLookup(false)
	return s.schemas.GetOrLoad(key, load)
}
