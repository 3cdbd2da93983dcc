//go:build cgo_sqlite

// CGO engine driver using mattn/go-sqlite3.
// This is used when the cgo_sqlite build tag is set.
//
// Build with: go build -tags cgo_sqlite
// Requires: CGO_ENABLED=1
package engine

import (
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/Nileshshinde09/cortex/core/errors"
)

const (
	driverName    = "sqlite3"
	driverType    = "cgo"
	driverPackage = "github.com/mattn/go-sqlite3"
)

func pragmaParam(name, value string) string {
	return fmt.Sprintf("_%s=%s", name, value)
}

func mutexParams(f OpenFlags) []string {
	switch {
	case f&OpenNoMutex != 0:
		return []string{"_mutex=no"}
	case f&OpenFullMutex != 0:
		return []string{"_mutex=full"}
	}
	return nil
}

func extractCode(err error) (int, bool) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode != 0 {
			return int(se.ExtendedCode), true
		}
		return int(se.Code), true
	}
	return 0, false
}

func engineMessage(err error) string {
	return err.Error()
}

type mattnStepper struct {
	b     *sqlite3.SQLiteBackup
	other *sqlite3.SQLiteConn
}

func (s *mattnStepper) Step(n int) (bool, error) {
	return s.b.Step(n)
}

func (s *mattnStepper) Progress() (remaining, pageCount int, ok bool) {
	return s.b.Remaining(), s.b.PageCount(), true
}

func (s *mattnStepper) Finish() error {
	err := s.b.Finish()
	if cerr := s.other.Close(); err == nil {
		err = cerr
	}
	return err
}

func newStepper(driverConn any, path string, restore bool) (Stepper, error) {
	own, ok := driverConn.(*sqlite3.SQLiteConn)
	if !ok {
		return nil, errors.New("backup", errors.MISUSE, fmt.Sprintf("driver connection %T does not support backup", driverConn))
	}
	dc, err := (&sqlite3.SQLiteDriver{}).Open(path)
	if err != nil {
		return nil, err
	}
	other := dc.(*sqlite3.SQLiteConn)

	var b *sqlite3.SQLiteBackup
	if restore {
		b, err = own.Backup("main", other, "main")
	} else {
		b, err = other.Backup("main", own, "main")
	}
	if err != nil {
		other.Close()
		return nil, err
	}
	return &mattnStepper{b: b, other: other}, nil
}
