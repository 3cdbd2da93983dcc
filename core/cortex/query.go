package cortex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Nileshshinde09/cortex/core/engine"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// Query runs sql and returns every row positionally, with declared column
// types. Blank column names become _c<i>.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("query"); err != nil {
		return nil, c.record(err)
	}
	rs, err := c.query(ctx, "query", query, args)
	return rs, c.record(err)
}

// QueryReadOnly is Query restricted to one read statement. The statement
// must start with SELECT, WITH, VALUES, EXPLAIN or PRAGMA, may not set a
// pragma, and runs under PRAGMA query_only so any write it attempts fails
// with READONLY. Text after the first statement is refused.
func (c *Conn) QueryReadOnly(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("query"); err != nil {
		return nil, c.record(err)
	}
	stmt, err := readStatement(query)
	if err != nil {
		return nil, c.record(err)
	}

	var prev int64
	if err := c.conn.QueryRowContext(ctx, "PRAGMA query_only").Scan(&prev); err != nil {
		return nil, c.record(engine.Classify("query", err))
	}
	if prev == 0 {
		if _, err := c.conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return nil, c.record(engine.Classify("query", err))
		}
	}
	rs, err := c.query(ctx, "query", stmt, args)
	if prev == 0 {
		if _, rerr := c.conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF"); rerr != nil && err == nil {
			rs, err = nil, engine.Classify("query", rerr)
		}
	}
	return rs, c.record(err)
}

var readVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "EXPLAIN": true, "PRAGMA": true,
}

// readPragmas take an argument but only report.
var readPragmas = map[string]bool{
	"TABLE_INFO": true, "TABLE_XINFO": true, "TABLE_LIST": true,
	"INDEX_LIST": true, "INDEX_INFO": true, "INDEX_XINFO": true,
	"FOREIGN_KEY_LIST": true, "FOREIGN_KEY_CHECK": true,
	"INTEGRITY_CHECK": true, "QUICK_CHECK": true,
}

// readStatement returns the single statement of query if it may run as a
// read-only query.
func readStatement(query string) (string, error) {
	stmt, tail, ok := engine.Split(query)
	if !ok {
		return "", errors.NewValidation("sql", "empty statement")
	}
	if _, _, more := engine.Split(tail); more {
		return "", errors.New("query", errors.READONLY, "a read-only query takes a single statement")
	}
	w := engine.Words(stmt, 5)
	if len(w) == 0 {
		return stmt, nil
	}
	if !readVerbs[w[0]] {
		return "", errors.New("query", errors.READONLY, w[0]+" is not allowed in a read-only query")
	}
	if w[0] != "PRAGMA" || len(w) < 2 {
		return stmt, nil
	}
	name, rest := w[1], w[2:]
	if len(rest) >= 2 && rest[0] == "." {
		name, rest = rest[1], rest[2:]
	}
	if len(rest) > 0 && (rest[0] == "=" || (rest[0] == "(" && !readPragmas[name])) {
		return "", errors.New("query", errors.READONLY, "setting PRAGMA "+strings.ToLower(name)+" is not allowed in a read-only query")
	}
	return stmt, nil
}

// Fetch runs sql and returns every row keyed by column name. No rows gives
// an empty, non-nil slice.
func (c *Conn) Fetch(ctx context.Context, query string, args ...any) ([]Row, error) {
	rs, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rs.Maps(), nil
}

// FetchOne returns the first row of sql, or nil when there is none.
func (c *Conn) FetchOne(ctx context.Context, query string, args ...any) (Row, error) {
	rs, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 {
		return nil, nil
	}
	return rs.Ordered(0).Map(), nil
}

// Tables lists the user tables of the main database ordered by name.
func (c *Conn) Tables(ctx context.Context) ([]string, error) {
	rs, err := c.Query(ctx, `SELECT name FROM cortex_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rs.Rows))
	for _, r := range rs.Rows {
		if s, ok := r[0].(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// Schema describes table: one row per column with cid, name, type,
// notnull, dflt_value and pk. With an empty table name it returns the
// CREATE statement of every user table instead. An unknown table is a
// NotFoundError.
func (c *Conn) Schema(ctx context.Context, table string) (*ResultSet, error) {
	if table == "" {
		return c.Query(ctx, `SELECT sql FROM cortex_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	}
	rs, err := c.Query(ctx, `SELECT cid, name, type, "notnull", dflt_value, pk
		FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 {
		return nil, errors.NewNotFound("table", table)
	}
	return rs, nil
}

// query runs sql on the pinned connection. Callers hold mu.
func (c *Conn) query(ctx context.Context, op, query string, args []any) (*ResultSet, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(args) > 0 && c.cache != nil {
		var stmt *sql.Stmt
		stmt, err = c.cache.get(ctx, c.conn, query)
		if err == nil {
			rows, err = stmt.QueryContext(ctx, args...)
		}
	} else {
		rows, err = c.conn.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, engine.Classify(op, err)
	}
	defer rows.Close()

	rs, err := scanRows(rows)
	if err != nil {
		return nil, engine.Classify(op, err)
	}
	if isSchemaChange(query) {
		c.cache.purge()
	}
	return rs, nil
}

func scanRows(rows *sql.Rows) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{
		Columns: make([]string, len(cols)),
		Types:   make([]string, len(cols)),
		Rows:    [][]any{},
	}
	for i, name := range cols {
		if name == "" {
			name = fmt.Sprintf("_c%d", i)
		}
		rs.Columns[i] = name
	}
	if types, err := rows.ColumnTypes(); err == nil {
		for i, t := range types {
			rs.Types[i] = t.DatabaseTypeName()
		}
	}

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]any, len(cols))
		for i, v := range dest {
			row[i] = normalizeColumn(v, rs.Types[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}
