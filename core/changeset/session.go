package changeset

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// Sessions keep their state in TEMP tables of the connection, so they see
// exactly the changes made through that connection.
const setupSQL = `
CREATE TEMP TABLE IF NOT EXISTS cortex_sessions (
	name     TEXT PRIMARY KEY,
	enabled  INTEGER NOT NULL DEFAULT 1,
	indirect INTEGER NOT NULL DEFAULT 0
);
CREATE TEMP TABLE IF NOT EXISTS cortex_changelog (
	seq      INTEGER PRIMARY KEY,
	session  TEXT NOT NULL,
	tbl      TEXT NOT NULL,
	op       INTEGER NOT NULL,
	old      TEXT,
	new      TEXT,
	indirect INTEGER NOT NULL DEFAULT 0
);`

var sessionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type tableInfo struct {
	name    string
	columns []string
	pk      []bool
}

// Session records changes to attached tables of one connection.
type Session struct {
	conn    *cortex.Conn
	name    string
	tables  map[string]*tableInfo
	order   []string
	deleted bool
}

// NewSession creates the session name on conn. Names are identifiers and
// must be unique per connection.
func NewSession(ctx context.Context, conn *cortex.Conn, name string) (*Session, error) {
	if !sessionName.MatchString(name) {
		return nil, errors.NewValidation("session", fmt.Sprintf("invalid session name %q", name))
	}
	if err := conn.ExecScript(ctx, setupSQL); err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "INSERT INTO temp.cortex_sessions (name) VALUES (?)", name); err != nil {
		if errors.Is(err, errors.ErrConstraint) {
			return nil, errors.New("session_create", errors.MISUSE, fmt.Sprintf("session %s already exists", name))
		}
		return nil, err
	}
	return &Session{conn: conn, name: name, tables: map[string]*tableInfo{}}, nil
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

func (s *Session) check(op string) error {
	if s.deleted {
		return errors.New(op, errors.MISUSE, "session is deleted")
	}
	return nil
}

// Attach starts recording changes to table. An empty name attaches every
// table of the main database that has a primary key. A named table must
// have one.
func (s *Session) Attach(ctx context.Context, table string) error {
	if err := s.check("session_attach"); err != nil {
		return err
	}
	if table == "" {
		names, err := s.conn.Tables(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			info, err := loadTableInfo(ctx, s.conn, name)
			if err != nil {
				return err
			}
			if !anyTrue(info.pk) {
				continue
			}
			if err := s.attach(ctx, info); err != nil {
				return err
			}
		}
		return nil
	}

	info, err := loadTableInfo(ctx, s.conn, table)
	if err != nil {
		return err
	}
	if !anyTrue(info.pk) {
		return errors.New("session_attach", errors.SCHEMA, fmt.Sprintf("table %s has no primary key", table))
	}
	return s.attach(ctx, info)
}

func loadTableInfo(ctx context.Context, conn *cortex.Conn, table string) (*tableInfo, error) {
	rs, err := conn.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	info := &tableInfo{name: table}
	for i := range rs.Rows {
		col := rs.Ordered(i).Map()
		name, _ := col["name"].(string)
		pk, _ := col["pk"].(int64)
		info.columns = append(info.columns, name)
		info.pk = append(info.pk, pk > 0)
	}
	return info, nil
}

func (s *Session) attach(ctx context.Context, info *tableInfo) error {
	if _, ok := s.tables[info.name]; ok {
		return nil
	}
	if err := s.conn.ExecScript(ctx, s.triggerSQL(info)); err != nil {
		return err
	}
	s.tables[info.name] = info
	s.order = append(s.order, info.name)
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// rowJSON renders a trigger expression that captures every column of the
// OLD or NEW row as a JSON array of (type, value) pairs. Reals are printed
// with 17 significant digits and blobs as hex so both survive JSON.
func rowJSON(ref string, cols []string) string {
	parts := make([]string, 0, len(cols)*2)
	for _, c := range cols {
		v := ref + "." + quoteIdent(c)
		parts = append(parts,
			"typeof("+v+")",
			"CASE typeof("+v+") WHEN 'blob' THEN hex("+v+") WHEN 'real' THEN printf('%.17g', "+v+") ELSE "+v+" END")
	}
	return "json_array(" + strings.Join(parts, ", ") + ")"
}

// triggerName length-prefixes the session and table names so distinct
// pairs never share a trigger.
func (s *Session) triggerName(table, op string) string {
	return quoteIdent(fmt.Sprintf("cortex_session_%d_%s_%d_%s_%s", len(s.name), s.name, len(table), table, op))
}

// triggerSQL builds the three capture triggers for info. Trigger bodies may
// not name a schema on their INSERT target; a TEMP trigger resolves the
// bare cortex_changelog to the temp table.
func (s *Session) triggerSQL(info *tableInfo) string {
	sess := quoteLiteral(s.name)
	tbl := quoteLiteral(info.name)
	target := "main." + quoteIdent(info.name)
	when := "WHEN (SELECT enabled FROM cortex_sessions WHERE name = " + sess + ")"
	indirect := "(SELECT indirect FROM cortex_sessions WHERE name = " + sess + ")"
	oldRow := rowJSON("OLD", info.columns)
	newRow := rowJSON("NEW", info.columns)

	var b strings.Builder
	fmt.Fprintf(&b, `CREATE TEMP TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s %s BEGIN
	INSERT INTO cortex_changelog (session, tbl, op, old, new, indirect)
	VALUES (%s, %s, %d, NULL, %s, %s);
END;
`, s.triggerName(info.name, "ins"), target, when, sess, tbl, int(Insert), newRow, indirect)
	fmt.Fprintf(&b, `CREATE TEMP TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s %s BEGIN
	INSERT INTO cortex_changelog (session, tbl, op, old, new, indirect)
	VALUES (%s, %s, %d, %s, %s, %s);
END;
`, s.triggerName(info.name, "upd"), target, when, sess, tbl, int(Update), oldRow, newRow, indirect)
	fmt.Fprintf(&b, `CREATE TEMP TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s %s BEGIN
	INSERT INTO cortex_changelog (session, tbl, op, old, new, indirect)
	VALUES (%s, %s, %d, %s, NULL, %s);
END;
`, s.triggerName(info.name, "del"), target, when, sess, tbl, int(Delete), oldRow, indirect)
	return b.String()
}

// Enable turns recording on or off.
func (s *Session) Enable(ctx context.Context, on bool) error {
	if err := s.check("session_enable"); err != nil {
		return err
	}
	_, err := s.conn.Exec(ctx, "UPDATE temp.cortex_sessions SET enabled = ? WHERE name = ?", boolInt(on), s.name)
	return err
}

// Enabled reports whether the session is recording.
func (s *Session) Enabled(ctx context.Context) (bool, error) {
	return s.flag(ctx, "enabled")
}

// SetIndirect marks subsequent changes as indirect, as for changes made by
// triggers or foreign key actions on behalf of the application.
func (s *Session) SetIndirect(ctx context.Context, on bool) error {
	if err := s.check("session_indirect"); err != nil {
		return err
	}
	_, err := s.conn.Exec(ctx, "UPDATE temp.cortex_sessions SET indirect = ? WHERE name = ?", boolInt(on), s.name)
	return err
}

func (s *Session) flag(ctx context.Context, col string) (bool, error) {
	if err := s.check("session_" + col); err != nil {
		return false, err
	}
	row, err := s.conn.FetchOne(ctx, "SELECT "+col+" AS v FROM temp.cortex_sessions WHERE name = ?", s.name)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, errors.NewNotFound("session", s.name)
	}
	v, _ := row["v"].(int64)
	return v != 0, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// IsEmpty reports whether nothing has been recorded yet.
func (s *Session) IsEmpty(ctx context.Context) (bool, error) {
	if err := s.check("session_isempty"); err != nil {
		return false, err
	}
	row, err := s.conn.FetchOne(ctx,
		"SELECT EXISTS (SELECT 1 FROM temp.cortex_changelog WHERE session = ?) AS n", s.name)
	if err != nil {
		return false, err
	}
	n, _ := row["n"].(int64)
	return n == 0, nil
}

// Changeset returns the net changes recorded so far.
func (s *Session) Changeset(ctx context.Context) (*Changeset, error) {
	if err := s.check("session_changeset"); err != nil {
		return nil, err
	}
	rs, err := s.conn.Query(ctx, `SELECT tbl, op, old, new, indirect FROM temp.cortex_changelog
		WHERE session = ? ORDER BY seq`, s.name)
	if err != nil {
		return nil, err
	}
	g := NewChangegroup()
	for i := range rs.Rows {
		row := rs.Rows[i]
		table, _ := row[0].(string)
		info, ok := s.tables[table]
		if !ok {
			continue
		}
		opCode, _ := row[1].(int64)
		changes, err := logChanges(info, Op(opCode), row[2], row[3], row[4] == int64(1))
		if err != nil {
			return nil, err
		}
		for _, c := range changes {
			if err := g.add(c); err != nil {
				return nil, err
			}
		}
	}
	return g.Output(), nil
}

// Patchset returns the net changes recorded so far in patchset form.
func (s *Session) Patchset(ctx context.Context) (*Changeset, error) {
	cs, err := s.Changeset(ctx)
	if err != nil {
		return nil, err
	}
	return cs.ToPatchset(), nil
}

// logChanges turns one changelog row into changes. An UPDATE that moves a
// row to a new primary key is recorded as a DELETE and an INSERT.
func logChanges(info *tableInfo, op Op, oldJSON, newJSON any, indirect bool) ([]Change, error) {
	oldRow, err := decodeLogRow(oldJSON, len(info.columns))
	if err != nil {
		return nil, err
	}
	newRow, err := decodeLogRow(newJSON, len(info.columns))
	if err != nil {
		return nil, err
	}
	base := Change{Table: info.name, Columns: info.columns, PK: info.pk, Indirect: indirect}

	switch op {
	case Insert:
		c := base
		c.Op, c.New = Insert, newRow
		return []Change{c}, nil
	case Delete:
		c := base
		c.Op, c.Old = Delete, oldRow
		return []Change{c}, nil
	case Update:
		for i, pk := range info.pk {
			if pk && !valuesEqual(oldRow[i], newRow[i]) {
				del, ins := base, base
				del.Op, del.Old = Delete, oldRow
				ins.Op, ins.New = Insert, newRow
				return []Change{del, ins}, nil
			}
		}
		c := base
		c.Op, c.Old, c.New = Update, oldRow, newRow
		c.Mask, _ = diffMask(oldRow, newRow)
		return []Change{c}, nil
	}
	return nil, errors.New("session_changeset", errors.CORRUPT, fmt.Sprintf("unknown logged operation %d", op))
}

// decodeLogRow parses the (type, value) pairs written by the triggers.
func decodeLogRow(raw any, width int) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	text, ok := raw.(string)
	if !ok {
		return nil, errors.New("session_changeset", errors.CORRUPT, "changelog row is not text")
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var pairs []any
	if err := dec.Decode(&pairs); err != nil {
		return nil, errors.New("session_changeset", errors.CORRUPT, err.Error())
	}
	if len(pairs) != width*2 {
		return nil, errors.New("session_changeset", errors.SCHEMA, "table changed shape while the session was recording")
	}
	row := make([]any, width)
	for i := range row {
		typ, _ := pairs[2*i].(string)
		v, err := decodeLogValue(typ, pairs[2*i+1])
		if err != nil {
			return nil, errors.New("session_changeset", errors.CORRUPT, err.Error())
		}
		row[i] = v
	}
	return row, nil
}

func decodeLogValue(typ string, v any) (any, error) {
	switch typ {
	case "null":
		return nil, nil
	case "integer":
		switch x := v.(type) {
		case json.Number:
			return x.Int64()
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case "real":
		switch x := v.(type) {
		case json.Number:
			return x.Float64()
		case string:
			return parseReal(x)
		}
	case "text":
		if s, ok := v.(string); ok {
			return s, nil
		}
	case "blob":
		if s, ok := v.(string); ok {
			return hex.DecodeString(s)
		}
	}
	return nil, fmt.Errorf("bad %s value %v", typ, v)
}

// Delete detaches every table, drops the triggers and discards the
// recorded changes.
func (s *Session) Delete(ctx context.Context) error {
	if s.deleted {
		return nil
	}
	var b strings.Builder
	for _, name := range s.order {
		for _, op := range []string{"ins", "upd", "del"} {
			fmt.Fprintf(&b, "DROP TRIGGER IF EXISTS temp.%s;\n", s.triggerName(name, op))
		}
	}
	fmt.Fprintf(&b, "DELETE FROM temp.cortex_changelog WHERE session = %s;\n", quoteLiteral(s.name))
	fmt.Fprintf(&b, "DELETE FROM temp.cortex_sessions WHERE name = %s;\n", quoteLiteral(s.name))
	if err := s.conn.ExecScript(ctx, b.String()); err != nil {
		return err
	}
	s.deleted = true
	s.tables = nil
	s.order = nil
	return nil
}
