package cortex

import (
	"context"
	"testing"

	"github.com/Nileshshinde09/cortex/core/errors"
)

func TestStmtStepRows(t *testing.T) {
	c := openTest(t)
	seedUsers(t, c)
	ctx := context.Background()

	stmt, err := c.Prepare(ctx, "SELECT id, name FROM users ORDER BY id")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Finalize()

	var names []string
	for {
		rc, err := stmt.Step(ctx)
		if err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		if rc == errors.DONE {
			break
		}
		if rc != errors.ROW {
			t.Fatalf("Step() = %v", rc)
		}
		name, err := stmt.ColumnText(1)
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("names = %v", names)
	}
	if stmt.ColumnCount() != 2 {
		t.Errorf("ColumnCount() = %d", stmt.ColumnCount())
	}
	if n, _ := stmt.ColumnName(0); n != "id" {
		t.Errorf("ColumnName(0) = %q", n)
	}
	if _, err := stmt.ColumnInt64(0); !errors.Is(err, errors.ErrMisuse) {
		t.Errorf("column access after DONE = %v, want MISUSE", err)
	}

	// stepping a finished statement runs it again
	rc, err := stmt.Step(ctx)
	if err != nil || rc != errors.ROW {
		t.Errorf("Step() after DONE = %v, %v; want ROW", rc, err)
	}
}

func TestStmtBind(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	c.Exec(ctx, "CREATE TABLE t (a INTEGER, b REAL, c TEXT, d BLOB, e)")

	ins, err := c.Prepare(ctx, "INSERT INTO t VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		t.Fatal(err)
	}
	if ins.BindParameterCount() != 5 {
		t.Fatalf("BindParameterCount() = %d", ins.BindParameterCount())
	}
	ins.BindInt64(1, 42)
	ins.BindDouble(2, 2.5)
	ins.BindText(3, "hi")
	ins.BindBlob(4, []byte{1, 2})
	ins.BindNull(5)
	if rc, err := ins.Step(ctx); err != nil || rc != errors.DONE {
		t.Fatalf("Step() = %v, %v", rc, err)
	}
	if c.Changes() != 1 {
		t.Errorf("Changes() = %d, want 1", c.Changes())
	}
	if err := ins.Bind(6, 1); !errors.Is(err, errors.ErrRange) {
		t.Errorf("Bind(6) = %v, want RANGE", err)
	}
	if err := ins.Bind(0, 1); !errors.Is(err, errors.ErrRange) {
		t.Errorf("Bind(0) = %v, want RANGE", err)
	}
	ins.Finalize()

	sel, err := c.Prepare(ctx, "SELECT a, b, c, d, e FROM t")
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Finalize()
	if rc, err := sel.Step(ctx); err != nil || rc != errors.ROW {
		t.Fatalf("Step() = %v, %v", rc, err)
	}
	want := []ColumnType{Integer, Float, Text, Blob, Null}
	for i, w := range want {
		got, err := sel.ColumnType(i)
		if err != nil || got != w {
			t.Errorf("ColumnType(%d) = %v, %v; want %v", i, got, err, w)
		}
	}
	if b, _ := sel.ColumnBlob(3); len(b) != 2 || b[1] != 2 {
		t.Errorf("ColumnBlob(3) = %v", b)
	}
	if _, err := sel.ColumnValue(5); !errors.Is(err, errors.ErrRange) {
		t.Errorf("ColumnValue(5) = %v, want RANGE", err)
	}
}

func TestStmtNamedParameters(t *testing.T) {
	c := openTest(t)
	seedUsers(t, c)
	ctx := context.Background()

	stmt, err := c.Prepare(ctx, "SELECT name FROM users WHERE id = :id OR name = @name")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Finalize()

	if stmt.BindParameterIndex(":id") != 1 || stmt.BindParameterIndex("@name") != 2 {
		t.Fatalf("indexes = %d, %d", stmt.BindParameterIndex(":id"), stmt.BindParameterIndex("@name"))
	}
	if stmt.BindParameterName(2) != "@name" {
		t.Errorf("BindParameterName(2) = %q", stmt.BindParameterName(2))
	}
	stmt.BindNamed(":id", 2)
	stmt.BindNamed("@name", "nobody")
	if rc, err := stmt.Step(ctx); err != nil || rc != errors.ROW {
		t.Fatalf("Step() = %v, %v", rc, err)
	}
	if name, _ := stmt.ColumnText(0); name != "bob" {
		t.Errorf("name = %q, want bob", name)
	}
	if err := stmt.BindNamed(":missing", 1); !errors.Is(err, errors.ErrRange) {
		t.Errorf("BindNamed(missing) = %v, want RANGE", err)
	}
}

func TestStmtResetKeepsBindings(t *testing.T) {
	c := openTest(t)
	seedUsers(t, c)
	ctx := context.Background()

	stmt, err := c.Prepare(ctx, "SELECT name FROM users WHERE id = ?")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Finalize()
	stmt.BindInt64(1, 1)
	stmt.Step(ctx)

	if err := stmt.BindInt64(1, 2); !errors.Is(err, errors.ErrMisuse) {
		t.Errorf("Bind while running = %v, want MISUSE", err)
	}
	if err := stmt.Reset(); err != nil {
		t.Fatal(err)
	}
	rc, _ := stmt.Step(ctx)
	if name, _ := stmt.ColumnText(0); rc != errors.ROW || name != "alice" {
		t.Errorf("after Reset: %v %q, want ROW alice", rc, name)
	}

	stmt.Reset()
	stmt.ClearBindings()
	rc, err = stmt.Step(ctx)
	if err != nil || rc != errors.DONE {
		t.Errorf("after ClearBindings: %v, %v; want DONE", rc, err)
	}
}

func TestStmtConversions(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	stmt, err := c.Prepare(ctx, "SELECT 3.75, '12abc', 7, NULL, 100.0")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Finalize()
	if _, err := stmt.Step(ctx); err != nil {
		t.Fatal(err)
	}

	if n, _ := stmt.ColumnInt64(0); n != 3 {
		t.Errorf("ColumnInt64(real) = %d, want 3", n)
	}
	if n, _ := stmt.ColumnInt64(1); n != 12 {
		t.Errorf("ColumnInt64('12abc') = %d, want 12", n)
	}
	if f, _ := stmt.ColumnDouble(2); f != 7 {
		t.Errorf("ColumnDouble(7) = %v", f)
	}
	if s, _ := stmt.ColumnText(2); s != "7" {
		t.Errorf("ColumnText(7) = %q", s)
	}
	if s, _ := stmt.ColumnText(3); s != "" {
		t.Errorf("ColumnText(NULL) = %q", s)
	}
	if b, _ := stmt.ColumnBlob(3); b != nil {
		t.Errorf("ColumnBlob(NULL) = %v", b)
	}
	if s, _ := stmt.ColumnText(4); s != "100.0" {
		t.Errorf("ColumnText(100.0) = %q, want 100.0", s)
	}
}

func TestPrepareTail(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	stmt, err := c.Prepare(ctx, "SELECT 1; SELECT 2;")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Finalize()
	if stmt.SQL() != "SELECT 1;" || stmt.Tail() != " SELECT 2;" {
		t.Errorf("SQL() = %q, Tail() = %q", stmt.SQL(), stmt.Tail())
	}

	if _, err := c.Prepare(ctx, "  -- nothing "); err == nil {
		t.Error("expected error for empty statement")
	}
	_, err = c.Prepare(ctx, "SELECT FROM WHERE")
	if !errors.Is(err, &errors.Error{Code: errors.ERROR}) {
		t.Errorf("syntax error = %v, want ERROR", err)
	}
}

func TestFinalizeTwice(t *testing.T) {
	c := openTest(t)
	stmt, err := c.Prepare(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatal(err)
	}
	if err := stmt.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := stmt.Finalize(); err != nil {
		t.Errorf("second Finalize() = %v", err)
	}
	if _, err := stmt.Step(context.Background()); !errors.Is(err, errors.ErrMisuse) {
		t.Errorf("Step after Finalize = %v, want MISUSE", err)
	}
}

func TestStmtColumnsBeforeStep(t *testing.T) {
	c := openTest(t)
	seedUsers(t, c)
	ctx := context.Background()

	stmt, err := c.Prepare(ctx, "SELECT id, name AS who FROM users WHERE id = ?")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Finalize()

	if n := stmt.ColumnCount(); n != 2 {
		t.Fatalf("ColumnCount() before Step = %d, want 2", n)
	}
	if name, err := stmt.ColumnName(1); err != nil || name != "who" {
		t.Errorf("ColumnName(1) = %q, %v", name, err)
	}
	// binding after the columns were read still works
	if err := stmt.BindInt64(1, 2); err != nil {
		t.Fatalf("Bind after ColumnCount = %v", err)
	}
	if rc, err := stmt.Step(ctx); err != nil || rc != errors.ROW {
		t.Fatalf("Step() = %v, %v", rc, err)
	}
	if who, _ := stmt.ColumnText(1); who != "bob" {
		t.Errorf("who = %q, want bob", who)
	}

	ins, err := c.Prepare(ctx, "INSERT INTO users (id, name) VALUES (3, 'carol')")
	if err != nil {
		t.Fatal(err)
	}
	defer ins.Finalize()
	if n := ins.ColumnCount(); n != 0 {
		t.Errorf("INSERT ColumnCount() = %d", n)
	}
	row, _ := c.FetchOne(ctx, "SELECT count(*) AS n FROM users")
	if row["n"] != int64(2) {
		t.Errorf("reading columns ran the INSERT: %v rows", row["n"])
	}
	if rc, err := ins.Step(ctx); err != nil || rc != errors.DONE {
		t.Fatalf("INSERT Step() = %v, %v", rc, err)
	}
	row, _ = c.FetchOne(ctx, "SELECT count(*) AS n FROM users")
	if row["n"] != int64(3) {
		t.Errorf("rows after INSERT = %v", row["n"])
	}
}
