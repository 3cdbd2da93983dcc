//go:build !cgo_sqlite

package engine

import (
	"fmt"
	"strconv"
	"strings"

	"modernc.org/sqlite"

	"github.com/Nileshshinde09/cortex/core/errors"
)

const (
	driverName    = "sqlite"
	driverType    = "purego"
	driverPackage = "modernc.org/sqlite"
)

func pragmaParam(name, value string) string {
	return fmt.Sprintf("_pragma=%s(%s)", name, value)
}

// modernc serializes access per connection on its own.
func mutexParams(OpenFlags) []string {
	return nil
}

func extractCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

// engineMessage trims the decorations modernc adds around errmsg: the
// errstr prefix and the " (code)" trailer.
func engineMessage(err error) string {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err.Error()
	}
	msg := strings.TrimSuffix(se.Error(), " (SQLITE_BUSY)")
	if i := strings.LastIndex(msg, " ("); i >= 0 && strings.HasSuffix(msg, ")") {
		if _, convErr := strconv.Atoi(msg[i+2 : len(msg)-1]); convErr == nil {
			msg = msg[:i]
		}
	}
	prefix := errors.Errstr(errors.Code(se.Code())) + ": "
	return strings.TrimPrefix(msg, prefix)
}

type moderncBackuper interface {
	NewBackup(dstURI string) (*sqlite.Backup, error)
	NewRestore(srcURI string) (*sqlite.Backup, error)
}

type moderncStepper struct {
	b *sqlite.Backup
}

func (s *moderncStepper) Step(n int) (bool, error) {
	more, err := s.b.Step(int32(n))
	if err != nil {
		return false, err
	}
	return !more, nil
}

// modernc does not expose backup_remaining/backup_pagecount.
func (s *moderncStepper) Progress() (remaining, pageCount int, ok bool) {
	return 0, 0, false
}

func (s *moderncStepper) Finish() error {
	return s.b.Finish()
}

func newStepper(driverConn any, path string, restore bool) (Stepper, error) {
	bc, ok := driverConn.(moderncBackuper)
	if !ok {
		return nil, errors.New("backup", errors.MISUSE, fmt.Sprintf("driver connection %T does not support backup", driverConn))
	}
	var (
		b   *sqlite.Backup
		err error
	)
	if restore {
		b, err = bc.NewRestore(path)
	} else {
		b, err = bc.NewBackup(path)
	}
	if err != nil {
		return nil, err
	}
	return &moderncStepper{b: b}, nil
}
