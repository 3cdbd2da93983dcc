package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with ID",
			err:      &NotFoundError{Resource: "table", ID: "users"},
			wantMsg:  "table not found: users",
			wantBase: ErrNotFound,
		},
		{
			name:     "without ID",
			err:      &NotFoundError{Resource: "session"},
			wantMsg:  "session not found",
			wantBase: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, tt.wantBase) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantBase)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidation("path", "must have .ctx extension")
	if got := err.Error(); got != "validation failed for path: must have .ctx extension" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("expected ValidationError to unwrap to ErrInvalidInput")
	}

	bare := &ValidationError{Message: "empty"}
	if got := bare.Error(); got != "validation failed: empty" {
		t.Errorf("Error() = %q", got)
	}
}

func TestPermissionError(t *testing.T) {
	err := NewPermission("write", "database", "opened read-only")
	if got := err.Error(); got != "permission denied: cannot write database: opened read-only" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Error("expected PermissionError to unwrap to ErrUnauthorized")
	}
}

func TestCodePrimary(t *testing.T) {
	tests := []struct {
		code Code
		want Code
	}{
		{OK, OK},
		{BUSY_TIMEOUT, BUSY},
		{CONSTRAINT_UNIQUE, CONSTRAINT},
		{IOERR_CORRUPTFS, IOERR},
		{ROW, ROW},
		{DONE, DONE},
	}
	for _, tt := range tests {
		if got := tt.code.Primary(); got != tt.want {
			t.Errorf("%d.Primary() = %d, want %d", tt.code, got, tt.want)
		}
	}
	if !CONSTRAINT_NOTNULL.IsExtended() {
		t.Error("CONSTRAINT_NOTNULL should be extended")
	}
	if MISUSE.IsExtended() {
		t.Error("MISUSE should not be extended")
	}
}

func TestCodeValues(t *testing.T) {
	if BUSY_TIMEOUT != 773 {
		t.Errorf("BUSY_TIMEOUT = %d, want 773", BUSY_TIMEOUT)
	}
	if CONSTRAINT_PRIMARYKEY != 1555 {
		t.Errorf("CONSTRAINT_PRIMARYKEY = %d, want 1555", CONSTRAINT_PRIMARYKEY)
	}
	if IOERR_READ != 266 {
		t.Errorf("IOERR_READ = %d, want 266", IOERR_READ)
	}
}

func TestCodeString(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{OK, "CORTEX_OK"},
		{BUSY, "CORTEX_BUSY"},
		{BUSY_TIMEOUT, "CORTEX_BUSY_TIMEOUT"},
		{DONE, "CORTEX_DONE"},
		{CONSTRAINT | (40 << 8), "CORTEX_CONSTRAINT(10259)"},
		{Code(77), "CORTEX_UNKNOWN(77)"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrstr(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{OK, "not an error"},
		{BUSY, "database is locked"},
		{BUSY_TIMEOUT, "database is locked (timeout)"},
		{CONSTRAINT_UNIQUE, "constraint failed"},
		{ABORT_ROLLBACK, "abort due to ROLLBACK"},
		{ROW, "another row available"},
		{Code(99), "unknown error"},
	}
	for _, tt := range tests {
		if got := Errstr(tt.code); got != tt.want {
			t.Errorf("Errstr(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestErrorIsByPrimaryCode(t *testing.T) {
	err := New("exec", CONSTRAINT_UNIQUE, "UNIQUE constraint failed: t.id")
	if !errors.Is(err, ErrConstraint) {
		t.Error("expected errors.Is to match ErrConstraint")
	}
	if errors.Is(err, ErrBusy) {
		t.Error("did not expect errors.Is to match ErrBusy")
	}
	if got := err.Error(); got != "exec: UNIQUE constraint failed: t.id" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, ErrConstraint) {
		t.Error("expected match through fmt wrapping")
	}
}

func TestErrorWithoutMessageUsesErrstr(t *testing.T) {
	err := New("close", BUSY, "")
	if got := err.Error(); got != "close: database is locked" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap("exec", ERROR, nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := fmt.Errorf("no such table: foo")
	err := Wrap("query", ERROR, base)
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ce.Code != ERROR || ce.Msg != "no such table: foo" {
		t.Errorf("unexpected wrapped error: %+v", ce)
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to unwrap to base")
	}

	rewrapped := Wrap("fetch", ERROR, New("step", BUSY_SNAPSHOT, "snapshot busy"))
	if !errors.As(rewrapped, &ce) {
		t.Fatalf("expected *Error, got %T", rewrapped)
	}
	if ce.Op != "fetch" || ce.Extended != BUSY_SNAPSHOT {
		t.Errorf("rewrap lost code or op: %+v", ce)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"engine", New("exec", CONSTRAINT_NOTNULL, "x"), CONSTRAINT_NOTNULL},
		{"wrapped engine", fmt.Errorf("ctx: %w", New("open", CANTOPEN, "")), CANTOPEN},
		{"validation", NewValidation("sql", "empty"), MISUSE},
		{"plain", fmt.Errorf("boom"), ERROR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(nil); got != "not an error" {
		t.Errorf("MessageOf(nil) = %q", got)
	}
	if got := MessageOf(New("exec", ERROR, "near \"SELEC\": syntax error")); got != "near \"SELEC\": syntax error" {
		t.Errorf("MessageOf() = %q", got)
	}
	if got := MessageOf(New("close", BUSY, "")); got != "database is locked" {
		t.Errorf("MessageOf() = %q", got)
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
	base := errors.New("base")
	err := Wrapf(base, "step %d", 3)
	if err.Error() != "step 3: base" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(err, base) {
		t.Error("expected Is to match base")
	}
	var target *Error
	if As(err, &target) {
		t.Error("did not expect As to find *Error")
	}
}
