package cortex

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"strings"

	"github.com/Nileshshinde09/cortex/core/engine"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// Stmt is a prepared statement. It is bound, stepped row by row and reset
// like a native statement handle, and must be finalized before the
// connection can Close. A Stmt is not safe for concurrent use.
type Stmt struct {
	c      *Conn
	text   string
	tail   string
	stmt   *sql.Stmt
	params []string
	args   []any

	rows      *sql.Rows
	peeked    bool
	described bool
	cols      []string
	decl      []string
	cur       []any
	done      bool
	finalized bool
}

// Prepare compiles the first statement of query. The remaining text is
// available from Tail.
func (c *Conn) Prepare(ctx context.Context, query string) (*Stmt, error) {
	first, tail, ok := engine.Split(query)
	if !ok {
		return nil, errors.NewValidation("sql", "empty statement")
	}
	params, err := engine.Parameters(first)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("prepare"); err != nil {
		return nil, c.record(err)
	}
	stmt, err := c.conn.PrepareContext(ctx, first)
	if err != nil {
		return nil, c.record(engine.Classify("prepare", err))
	}
	s := &Stmt{
		c:      c,
		text:   first,
		tail:   tail,
		stmt:   stmt,
		params: params,
		args:   make([]any, len(params)),
	}
	c.users[s] = struct{}{}
	c.record(nil)
	return s, nil
}

// SQL returns the text of the prepared statement.
func (s *Stmt) SQL() string { return s.text }

// Tail returns the text following the prepared statement.
func (s *Stmt) Tail() string { return s.tail }

// BindParameterCount returns the largest parameter index.
func (s *Stmt) BindParameterCount() int { return len(s.params) }

// BindParameterName returns the name of parameter i (1-based), including
// its prefix, or "" for anonymous and out of range parameters.
func (s *Stmt) BindParameterName(i int) string {
	if i < 1 || i > len(s.params) {
		return ""
	}
	return s.params[i-1]
}

// BindParameterIndex returns the index of the named parameter, or 0.
func (s *Stmt) BindParameterIndex(name string) int {
	for i, p := range s.params {
		if p != "" && p == name {
			return i + 1
		}
	}
	return 0
}

// Bind sets parameter i (1-based) to v, which is stored as one of the five
// storage classes. Binding is refused while the statement is running.
func (s *Stmt) Bind(i int, v any) error {
	if s.finalized {
		return errors.New("bind", errors.MISUSE, "statement is finalized")
	}
	if err := s.unstarted(); err != nil {
		return err
	}
	if i < 1 || i > len(s.params) {
		return errors.New("bind", errors.RANGE, "")
	}
	s.args[i-1] = Normalize(v)
	return nil
}

// BindNamed binds the parameter with the given name, prefix included.
func (s *Stmt) BindNamed(name string, v any) error {
	i := s.BindParameterIndex(name)
	if i == 0 {
		return errors.New("bind", errors.RANGE, "no such parameter: "+name)
	}
	return s.Bind(i, v)
}

func (s *Stmt) BindInt64(i int, v int64) error    { return s.Bind(i, v) }
func (s *Stmt) BindDouble(i int, v float64) error { return s.Bind(i, v) }
func (s *Stmt) BindText(i int, v string) error    { return s.Bind(i, v) }
func (s *Stmt) BindNull(i int) error              { return s.Bind(i, nil) }

// BindBlob binds a copy of v. A nil slice binds a zero-length blob.
func (s *Stmt) BindBlob(i int, v []byte) error {
	if v == nil {
		v = []byte{}
	}
	return s.Bind(i, v)
}

// ClearBindings resets every parameter to NULL.
func (s *Stmt) ClearBindings() error {
	if err := s.unstarted(); err != nil {
		return err
	}
	for i := range s.args {
		s.args[i] = nil
	}
	return nil
}

// unstarted refuses to rebind a running statement. A statement only
// started to learn its columns is rewound instead.
func (s *Stmt) unstarted() error {
	if s.rows == nil {
		return nil
	}
	if s.peeked {
		s.c.mu.Lock()
		s.rewind()
		s.c.mu.Unlock()
		return nil
	}
	return errors.New("bind", errors.MISUSE, "statement is running; call Reset first")
}

// driverArgs maps bindings to database/sql arguments: numbered and
// anonymous parameters by position, named ones by name.
func (s *Stmt) driverArgs() []any {
	out := make([]any, len(s.params))
	for i, name := range s.params {
		if name == "" || name[0] == '?' || isNumeric(name[1:]) {
			out[i] = s.args[i]
			continue
		}
		out[i] = sql.Named(name[1:], s.args[i])
	}
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Step advances the statement. It returns errors.ROW while a row is
// available and errors.DONE when the statement has finished. Stepping a
// finished statement starts it again.
func (s *Stmt) Step(ctx context.Context) (errors.Code, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.finalized {
		return errors.MISUSE, errors.New("step", errors.MISUSE, "statement is finalized")
	}
	if err := c.checkOpen("step"); err != nil {
		return errors.MISUSE, c.record(err)
	}
	if s.done {
		s.rewind()
	}
	if s.rows == nil {
		if err := s.start(ctx); err != nil {
			err = c.record(err)
			return errors.CodeOf(err).Primary(), err
		}
	}
	s.peeked = false

	if s.rows.Next() {
		dest := make([]any, len(s.cols))
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			err = c.record(engine.Classify("step", err))
			return errors.CodeOf(err).Primary(), err
		}
		for i, v := range dest {
			dest[i] = normalizeColumn(v, s.decl[i])
		}
		s.cur = dest
		c.record(nil)
		return errors.ROW, nil
	}

	err := s.rows.Err()
	s.rows.Close()
	s.rows = nil
	s.cur = nil
	s.done = true
	if err != nil {
		err = c.record(engine.Classify("step", err))
		return errors.CodeOf(err).Primary(), err
	}
	if len(s.cols) == 0 {
		var n int64
		if err := c.conn.QueryRowContext(ctx, "SELECT changes()").Scan(&n); err == nil {
			c.changes = n
		}
	}
	if isSchemaChange(s.text) {
		c.cache.purge()
	}
	c.record(nil)
	return errors.DONE, nil
}

// start runs the statement with the current bindings. Callers hold mu.
func (s *Stmt) start(ctx context.Context) error {
	rows, err := s.stmt.QueryContext(ctx, s.driverArgs()...)
	if err != nil {
		return engine.Classify("step", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return engine.Classify("step", err)
	}
	s.rows, s.cols = rows, cols
	s.decl = make([]string, len(cols))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, t := range types {
			s.decl[i] = t.DatabaseTypeName()
		}
	}
	return nil
}

// describe learns the result columns of a statement that has not been
// stepped by starting it under PRAGMA query_only. A statement that would
// write fails to start and reports no columns until its first Step.
// Callers hold mu.
func (s *Stmt) describe() {
	c := s.c
	if s.described || s.cols != nil || s.rows != nil || s.finalized || c.closed {
		return
	}
	s.described = true
	ctx := context.Background()
	var prev int64
	if err := c.conn.QueryRowContext(ctx, "PRAGMA query_only").Scan(&prev); err != nil {
		return
	}
	if prev == 0 {
		if _, err := c.conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return
		}
		defer c.conn.ExecContext(ctx, "PRAGMA query_only = OFF")
	}
	if s.start(ctx) == nil {
		s.peeked = true
	}
}

// rewind drops any running result set. Bindings and known columns are
// kept.
func (s *Stmt) rewind() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	s.peeked = false
	s.cur = nil
	s.done = false
}

// Reset rewinds the statement so the next Step runs it from the start.
// Bindings are kept.
func (s *Stmt) Reset() error {
	if s.finalized {
		return errors.New("reset", errors.MISUSE, "statement is finalized")
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.rewind()
	return nil
}

// Finalize releases the statement. Finalizing twice is a no-op. When the
// connection was closed with CloseV2, finalizing its last statement
// completes the close.
func (s *Stmt) Finalize() error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.finalized {
		return nil
	}
	s.rewind()
	s.finalized = true
	err := s.stmt.Close()
	c.releaseUser(s)
	if err != nil {
		return engine.Classify("finalize", err)
	}
	return nil
}

// ColumnCount returns the number of result columns. Statements that write
// report theirs from the first Step on.
func (s *Stmt) ColumnCount() int {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.describe()
	return len(s.cols)
}

// DataCount returns the number of values in the current row, 0 when there
// is none.
func (s *Stmt) DataCount() int { return len(s.cur) }

// ColumnName returns the name of result column i (0-based).
func (s *Stmt) ColumnName(i int) (string, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.describe()
	if i < 0 || i >= len(s.cols) {
		return "", errors.New("column", errors.RANGE, "")
	}
	return s.cols[i], nil
}

func (s *Stmt) value(i int) (any, error) {
	if s.cur == nil {
		return nil, errors.New("column", errors.MISUSE, "no current row")
	}
	if i < 0 || i >= len(s.cur) {
		return nil, errors.New("column", errors.RANGE, "")
	}
	return s.cur[i], nil
}

// ColumnValue returns column i of the current row as stored.
func (s *Stmt) ColumnValue(i int) (any, error) {
	return s.value(i)
}

// ColumnType returns the storage class of column i of the current row.
func (s *Stmt) ColumnType(i int) (ColumnType, error) {
	v, err := s.value(i)
	if err != nil {
		return Null, err
	}
	return TypeOf(v), nil
}

// ColumnInt64 returns column i converted to an integer the way the engine
// converts: reals truncate, text uses its longest numeric prefix and NULL
// is 0.
func (s *Stmt) ColumnInt64(i int) (int64, error) {
	v, err := s.value(i)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return realToInt(x), nil
	case string:
		return textToInt(x), nil
	case []byte:
		return textToInt(string(x)), nil
	}
	return 0, nil
}

// ColumnDouble returns column i converted to a real.
func (s *Stmt) ColumnDouble(i int) (float64, error) {
	v, err := s.value(i)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		return textToReal(x), nil
	case []byte:
		return textToReal(string(x)), nil
	}
	return 0, nil
}

// ColumnText returns column i converted to text. NULL is "".
func (s *Stmt) ColumnText(i int) (string, error) {
	v, err := s.value(i)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return realToText(x), nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return "", nil
}

// ColumnBlob returns column i as bytes. NULL is nil.
func (s *Stmt) ColumnBlob(i int) ([]byte, error) {
	v, err := s.value(i)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []byte:
		return x, nil
	case nil:
		return nil, nil
	}
	t, _ := s.ColumnText(i)
	return []byte(t), nil
}

func realToInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func realToText(f float64) string {
	s := strconv.FormatFloat(f, 'g', 15, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// numericPrefix returns the longest prefix of s that parses as a number.
func numericPrefix(s string) string {
	s = strings.TrimLeft(s, " \t\n\r")
	end := 0
	seenDigit, seenDot, seenExp := false, false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9':
			seenDigit = true
			end = i + 1
		case (ch == '+' || ch == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		case ch == '.' && !seenDot && !seenExp:
			seenDot = true
		case (ch == 'e' || ch == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			return s[:end]
		}
	}
	return s[:end]
}

func textToReal(s string) float64 {
	f, _ := strconv.ParseFloat(numericPrefix(s), 64)
	return f
}

func textToInt(s string) int64 {
	p := numericPrefix(s)
	if n, err := strconv.ParseInt(p, 10, 64); err == nil {
		return n
	}
	return realToInt(textToReal(p))
}
