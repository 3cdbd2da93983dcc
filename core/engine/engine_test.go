package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Nileshshinde09/cortex/core/errors"
)

func TestDriverInfo(t *testing.T) {
	info := GetInfo()
	if info.DriverName != DriverName() {
		t.Errorf("DriverName = %q, want %q", info.DriverName, DriverName())
	}
	if info.DriverType != "purego" && info.DriverType != "cgo" {
		t.Errorf("unexpected DriverType %q", info.DriverType)
	}
	if info.IsCGO != (info.DriverType == "cgo") {
		t.Error("IsCGO disagrees with DriverType")
	}
	if info.Package == "" {
		t.Error("Package should not be empty")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		path string
		opts Options
		want string
	}{
		{
			name: "defaults",
			path: "/tmp/a.ctx",
			want: "file:/tmp/a.ctx?mode=rwc",
		},
		{
			name: "read only skips journal mode",
			path: "/tmp/a.ctx",
			opts: Options{Flags: OpenReadOnly, JournalMode: "wal"},
			want: "file:/tmp/a.ctx?mode=ro",
		},
		{
			name: "read write without create",
			path: "a.ctx",
			opts: Options{Flags: OpenReadWrite},
			want: "file:a.ctx?mode=rw",
		},
		{
			name: "memory",
			path: ":memory:",
			want: "file::memory:",
		},
		{
			name: "escaped path",
			path: "/tmp/what?#%.ctx",
			want: "file:/tmp/what%3f%23%25.ctx?mode=rwc",
		},
		{
			name: "uri passthrough",
			path: "file:x.ctx?vfs=unix",
			opts: Options{Flags: OpenURI | OpenReadWrite | OpenCreate},
			want: "file:x.ctx?vfs=unix&mode=rwc",
		},
		{
			name: "shared cache",
			path: "a.ctx",
			opts: Options{Flags: DefaultFlags | OpenSharedCache},
			want: "file:a.ctx?mode=rwc&cache=shared",
		},
		{
			name: "pragmas",
			path: "a.ctx",
			opts: Options{BusyTimeout: 5 * time.Second, JournalMode: "wal", Synchronous: "normal", ForeignKeys: true},
			want: "file:a.ctx?mode=rwc&" + strings.Join([]string{
				pragmaParam("busy_timeout", "5000"),
				pragmaParam("journal_mode", "WAL"),
				pragmaParam("synchronous", "NORMAL"),
				pragmaParam("foreign_keys", "1"),
			}, "&"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.path, tt.opts); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"zero", Options{}, false},
		{"wal", Options{JournalMode: "WAL"}, false},
		{"lowercase ok", Options{JournalMode: "truncate", Synchronous: "full"}, false},
		{"injection", Options{JournalMode: "WAL)&_pragma=x("}, true},
		{"bad sync", Options{Synchronous: "sometimes"}, true},
		{"negative timeout", Options{BusyTimeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestIsMemory(t *testing.T) {
	for path, want := range map[string]bool{
		":memory:":               true,
		"":                       true,
		"file::memory:?cache=ab": true,
		"db.ctx":                 false,
	} {
		if got := IsMemory(path); got != want {
			t.Errorf("IsMemory(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestOpenAndClassify(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.ctx")

	db, err := Open(ctx, path, Options{BusyTimeout: time.Second, JournalMode: "WAL", ForeignKeys: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	_, err = db.ExecContext(ctx, "SELECT * FROM no_such_table")
	if err == nil {
		t.Fatal("expected error for missing table")
	}
	code, ok := ExtractCode(err)
	if !ok || code.Primary() != errors.ERROR {
		t.Errorf("ExtractCode() = %v, %v; want ERROR", code, ok)
	}
	classified := Classify("exec", err)
	if got := errors.MessageOf(classified); got != "no such table: no_such_table" {
		t.Errorf("message = %q", got)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE t(id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatal(err)
	}
	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	classified = Classify("exec", err)
	if !errors.Is(classified, errors.ErrConstraint) {
		t.Errorf("expected constraint error, got %v", classified)
	}
	if got := errors.CodeOf(classified); got != errors.CONSTRAINT_PRIMARYKEY {
		t.Errorf("CodeOf() = %v, want CONSTRAINT_PRIMARYKEY", got)
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.ctx")
	_, err := Open(context.Background(), path, Options{Flags: OpenReadOnly})
	if err == nil {
		t.Fatal("expected error opening missing file read-only")
	}
	if !errors.Is(err, errors.ErrCantOpen) {
		t.Errorf("expected CANTOPEN, got %v", err)
	}
}

func TestClassifyPlainError(t *testing.T) {
	if Classify("x", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
	err := Classify("exec", fmt.Errorf("boom"))
	if errors.CodeOf(err) != errors.ERROR {
		t.Errorf("CodeOf() = %v, want ERROR", errors.CodeOf(err))
	}
	again := Classify("step", errors.New("close", errors.BUSY, "busy"))
	if errors.CodeOf(again) != errors.BUSY {
		t.Errorf("CodeOf() = %v, want BUSY", errors.CodeOf(again))
	}
}
