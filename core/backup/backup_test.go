package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/errors"
)

func openSource(t *testing.T, rows int) *cortex.Conn {
	t.Helper()
	c, err := cortex.Open(filepath.Join(t.TempDir(), "src.ctx"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.CloseV2() })

	ctx := context.Background()
	if _, err := c.Exec(ctx, "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < rows; i++ {
		body := fmt.Sprintf("note %d %0500d", i, i)
		if _, err := c.Exec(ctx, "INSERT INTO notes (body) VALUES (?)", body); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func countNotes(t *testing.T, path string) int64 {
	t.Helper()
	c, err := cortex.Open(path, cortex.WithReadOnly())
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	defer c.Close()
	row, err := c.FetchOne(context.Background(), "SELECT count(*) AS n FROM notes")
	if err != nil {
		t.Fatal(err)
	}
	return row["n"].(int64)
}

func TestBackupStepwise(t *testing.T) {
	src := openSource(t, 200)
	dst := filepath.Join(t.TempDir(), "dst.ctx")
	ctx := context.Background()

	b, err := Init(ctx, src, dst)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	total := b.PageCount()
	if total < 10 {
		t.Fatalf("PageCount() = %d, expected a multi-page database", total)
	}
	if b.Remaining() != total {
		t.Errorf("Remaining() before first step = %d, want %d", b.Remaining(), total)
	}

	done, err := b.Step(5)
	if err != nil {
		t.Fatalf("Step(5) error = %v", err)
	}
	if done {
		t.Fatal("Step(5) finished a multi-page database")
	}
	if b.Remaining() != total-5 {
		t.Errorf("Remaining() = %d, want %d", b.Remaining(), total-5)
	}

	if err := src.Close(); !errors.Is(err, errors.ErrBusy) {
		t.Errorf("Close() during backup = %v, want BUSY", err)
	}

	for !done {
		if done, err = b.Step(5); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	if b.Remaining() != 0 {
		t.Errorf("Remaining() after done = %d", b.Remaining())
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Errorf("second Finish() error = %v", err)
	}
	if _, err := b.Step(1); !errors.Is(err, errors.ErrMisuse) {
		t.Errorf("Step after Finish = %v, want MISUSE", err)
	}

	if n := countNotes(t, dst); n != 200 {
		t.Errorf("backup holds %d notes, want 200", n)
	}
}

func TestRun(t *testing.T) {
	src := openSource(t, 20)
	dst := filepath.Join(t.TempDir(), "copy.ctx")
	if err := Run(context.Background(), src, dst, -1, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := countNotes(t, dst); n != 20 {
		t.Errorf("backup holds %d notes, want 20", n)
	}
	if err := src.Close(); err != nil {
		t.Errorf("source should close after Run: %v", err)
	}
}

func TestInitValidation(t *testing.T) {
	src := openSource(t, 1)
	ctx := context.Background()

	if _, err := Init(ctx, src, filepath.Join(t.TempDir(), "out.db")); err == nil {
		t.Error("expected extension error")
	}
	if _, err := Init(ctx, src, src.Path()); err == nil {
		t.Error("expected error for identical source and destination")
	}
}

func TestBackupCanceled(t *testing.T) {
	src := openSource(t, 200)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, src, filepath.Join(t.TempDir(), "c.ctx"), 1, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() with canceled context = %v, want context.Canceled", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("source should be released after cancel: %v", err)
	}
}
