package changeset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/errors"
)

func openDB(t *testing.T, name string) *cortex.Conn {
	t.Helper()
	c, err := cortex.Open(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.CloseV2() })
	err = c.ExecScript(context.Background(), `
		CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, price REAL, data BLOB);
		CREATE TABLE logs (line TEXT);`)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mustExec(t *testing.T, c *cortex.Conn, sql string, args ...any) {
	t.Helper()
	if _, err := c.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("Exec(%q) error = %v", sql, err)
	}
}

func newTestSession(t *testing.T, c *cortex.Conn) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), c, "main_session")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := s.Attach(context.Background(), "items"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return s
}

func TestSessionCapturesChanges(t *testing.T) {
	c := openDB(t, "a.ctx")
	ctx := context.Background()
	mustExec(t, c, "INSERT INTO items VALUES (1, 'pen', 1.5, NULL), (2, 'ink', 3.25, x'00FF')")

	s := newTestSession(t, c)
	empty, err := s.IsEmpty(ctx)
	if err != nil || !empty {
		t.Fatalf("IsEmpty() = %v, %v; want true", empty, err)
	}

	mustExec(t, c, "INSERT INTO items VALUES (3, 'pad', 0.1, x'CAFE')")
	mustExec(t, c, "UPDATE items SET price = 2.0 WHERE id = 1")
	mustExec(t, c, "DELETE FROM items WHERE id = 2")

	cs, err := s.Changeset(ctx)
	if err != nil {
		t.Fatalf("Changeset() error = %v", err)
	}
	if len(cs.Changes) != 3 {
		t.Fatalf("got %d changes, want 3: %+v", len(cs.Changes), cs.Changes)
	}

	byOp := map[Op]Change{}
	for _, ch := range cs.Changes {
		byOp[ch.Op] = ch
	}
	ins := byOp[Insert]
	if ins.New[0] != int64(3) || ins.New[2] != 0.1 {
		t.Errorf("insert = %v", ins.New)
	}
	if b, ok := ins.New[3].([]byte); !ok || len(b) != 2 || b[0] != 0xCA {
		t.Errorf("insert blob = %#v", ins.New[3])
	}
	upd := byOp[Update]
	if upd.Old[2] != 1.5 || upd.New[2] != 2.0 {
		t.Errorf("update = %v -> %v", upd.Old, upd.New)
	}
	if !upd.Mask[2] || upd.Mask[1] {
		t.Errorf("update mask = %v, want only price", upd.Mask)
	}
	del := byOp[Delete]
	if del.Old[1] != "ink" {
		t.Errorf("delete = %v", del.Old)
	}
	if !del.PK[0] || del.PK[1] {
		t.Errorf("PK flags = %v", del.PK)
	}
}

func TestSessionConsolidates(t *testing.T) {
	c := openDB(t, "b.ctx")
	mustExec(t, c, "INSERT INTO items VALUES (1, 'a', 1, NULL), (2, 'b', 2, NULL), (3, 'c', 3, NULL)")
	s := newTestSession(t, c)

	// insert + update -> insert of final values
	mustExec(t, c, "INSERT INTO items VALUES (10, 'new', 1, NULL)")
	mustExec(t, c, "UPDATE items SET name = 'newer' WHERE id = 10")
	// insert + delete -> nothing
	mustExec(t, c, "INSERT INTO items VALUES (11, 'tmp', 1, NULL)")
	mustExec(t, c, "DELETE FROM items WHERE id = 11")
	// update + update back -> nothing
	mustExec(t, c, "UPDATE items SET name = 'x' WHERE id = 1")
	mustExec(t, c, "UPDATE items SET name = 'a' WHERE id = 1")
	// update + delete -> delete of original
	mustExec(t, c, "UPDATE items SET name = 'y' WHERE id = 2")
	mustExec(t, c, "DELETE FROM items WHERE id = 2")
	// delete + insert -> update
	mustExec(t, c, "DELETE FROM items WHERE id = 3")
	mustExec(t, c, "INSERT INTO items VALUES (3, 'c2', 3, NULL)")

	cs, err := s.Changeset(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Changes) != 3 {
		t.Fatalf("got %d changes, want 3: %+v", len(cs.Changes), cs.Changes)
	}
	for _, ch := range cs.Changes {
		switch key := ch.key()[0]; key {
		case int64(10):
			if ch.Op != Insert || ch.New[1] != "newer" {
				t.Errorf("row 10 = %v %v", ch.Op, ch.New)
			}
		case int64(2):
			if ch.Op != Delete || ch.Old[1] != "b" {
				t.Errorf("row 2 = %v %v", ch.Op, ch.Old)
			}
		case int64(3):
			if ch.Op != Update || ch.Old[1] != "c" || ch.New[1] != "c2" {
				t.Errorf("row 3 = %v %v -> %v", ch.Op, ch.Old, ch.New)
			}
		default:
			t.Errorf("unexpected change for key %v", key)
		}
	}
}

func TestSessionPrimaryKeyChange(t *testing.T) {
	c := openDB(t, "pk.ctx")
	mustExec(t, c, "INSERT INTO items VALUES (1, 'a', 1, NULL)")
	s := newTestSession(t, c)
	mustExec(t, c, "UPDATE items SET id = 5 WHERE id = 1")

	cs, err := s.Changeset(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Changes) != 2 || cs.Changes[0].Op != Delete || cs.Changes[1].Op != Insert {
		t.Fatalf("changes = %+v, want DELETE then INSERT", cs.Changes)
	}
}

func TestSessionEnableAndIndirect(t *testing.T) {
	c := openDB(t, "e.ctx")
	ctx := context.Background()
	s := newTestSession(t, c)

	if err := s.Enable(ctx, false); err != nil {
		t.Fatal(err)
	}
	if on, _ := s.Enabled(ctx); on {
		t.Error("Enabled() = true after Enable(false)")
	}
	mustExec(t, c, "INSERT INTO items VALUES (1, 'hidden', 0, NULL)")
	if empty, _ := s.IsEmpty(ctx); !empty {
		t.Error("disabled session recorded a change")
	}

	s.Enable(ctx, true)
	s.SetIndirect(ctx, true)
	mustExec(t, c, "INSERT INTO items VALUES (2, 'seen', 0, NULL)")
	cs, err := s.Changeset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Changes) != 1 || !cs.Changes[0].Indirect {
		t.Errorf("changes = %+v, want one indirect insert", cs.Changes)
	}
}

func TestSessionAttach(t *testing.T) {
	c := openDB(t, "att.ctx")
	ctx := context.Background()
	s, err := NewSession(ctx, c, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(ctx, "logs"); !errors.Is(err, &errors.Error{Code: errors.SCHEMA}) {
		t.Errorf("Attach(no pk) = %v, want SCHEMA", err)
	}
	if err := s.Attach(ctx, "missing"); err == nil {
		t.Error("Attach(missing) should fail")
	}
	if err := s.Attach(ctx, ""); err != nil {
		t.Fatalf("Attach(all) error = %v", err)
	}
	mustExec(t, c, "INSERT INTO logs VALUES ('ignored')")
	mustExec(t, c, "INSERT INTO items (id) VALUES (1)")
	cs, _ := s.Changeset(ctx)
	if len(cs.Changes) != 1 || cs.Changes[0].Table != "items" {
		t.Errorf("changes = %+v", cs.Changes)
	}

	if _, err := NewSession(ctx, c, "s1"); !errors.Is(err, errors.ErrMisuse) {
		t.Errorf("duplicate session = %v, want MISUSE", err)
	}
	if _, err := NewSession(ctx, c, "bad name"); err == nil {
		t.Error("invalid session name accepted")
	}
}

func TestSessionDelete(t *testing.T) {
	c := openDB(t, "del.ctx")
	ctx := context.Background()
	s := newTestSession(t, c)
	mustExec(t, c, "INSERT INTO items (id) VALUES (1)")

	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Changeset(ctx); !errors.Is(err, errors.ErrMisuse) {
		t.Errorf("Changeset after Delete = %v, want MISUSE", err)
	}
	row, err := c.FetchOne(ctx, "SELECT count(*) AS n FROM temp.sqlite_master WHERE type = 'trigger'")
	if err != nil {
		t.Fatal(err)
	}
	if row["n"] != int64(0) {
		t.Errorf("%v triggers left after Delete", row["n"])
	}
	// the name can be reused
	if _, err := NewSession(ctx, c, "main_session"); err != nil {
		t.Errorf("NewSession after Delete = %v", err)
	}
}

func TestPatchset(t *testing.T) {
	c := openDB(t, "p.ctx")
	mustExec(t, c, "INSERT INTO items VALUES (1, 'a', 1, NULL), (2, 'b', 2, NULL)")
	s := newTestSession(t, c)
	mustExec(t, c, "UPDATE items SET price = 9 WHERE id = 1")
	mustExec(t, c, "DELETE FROM items WHERE id = 2")

	ps, err := s.Patchset(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ps.Patch || len(ps.Changes) != 2 {
		t.Fatalf("patchset = %+v", ps)
	}
	upd := ps.Changes[0]
	if upd.Op != Update || upd.Old[1] != nil || upd.New[1] != nil || upd.New[2] != float64(9) {
		t.Errorf("patch update = old %v new %v", upd.Old, upd.New)
	}
	del := ps.Changes[1]
	if del.Old[0] != int64(2) || del.Old[1] != nil {
		t.Errorf("patch delete = %v", del.Old)
	}
}

func TestSessionTriggerNamesDistinct(t *testing.T) {
	c := openDB(t, "names.ctx")
	ctx := context.Background()
	if err := c.ExecScript(ctx, `
		CREATE TABLE b_c (id INTEGER PRIMARY KEY, v TEXT);
		CREATE TABLE c (id INTEGER PRIMARY KEY, v TEXT);`); err != nil {
		t.Fatal(err)
	}
	// "a" + "b_c" and "a_b" + "c" join to the same text
	sa, err := NewSession(ctx, c, "a")
	if err != nil {
		t.Fatal(err)
	}
	sab, err := NewSession(ctx, c, "a_b")
	if err != nil {
		t.Fatal(err)
	}
	if err := sa.Attach(ctx, "b_c"); err != nil {
		t.Fatal(err)
	}
	if err := sab.Attach(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	mustExec(t, c, "INSERT INTO b_c VALUES (1, 'x')")
	mustExec(t, c, "INSERT INTO c VALUES (1, 'y')")

	for _, tt := range []struct {
		s     *Session
		table string
	}{{sa, "b_c"}, {sab, "c"}} {
		cs, err := tt.s.Changeset(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(cs.Changes) != 1 || cs.Changes[0].Table != tt.table {
			t.Errorf("session %s changes = %+v, want one insert into %s", tt.s.Name(), cs.Changes, tt.table)
		}
	}
}
