// Package engine selects the SQL engine driver and exposes the pieces of it
// that cortex needs beyond database/sql: DSN construction from open flags,
// result-code extraction from driver errors, and the online backup object.
//
// Build modes:
//   - Default (CGO_ENABLED=0): pure Go modernc.org/sqlite
//   - CGO mode (CGO_ENABLED=1 -tags cgo_sqlite): mattn/go-sqlite3
//
// Use Open() instead of sql.Open() to ensure the correct driver and DSN
// dialect are used.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Nileshshinde09/cortex/core/errors"
)

// DriverName returns the database/sql driver name in use.
func DriverName() string {
	return driverName
}

// DriverType returns "cgo" for mattn/go-sqlite3 and "purego" for
// modernc.org/sqlite.
func DriverType() string {
	return driverType
}

// IsCGO returns true if the CGO implementation is being used.
func IsCGO() bool {
	return driverType == "cgo"
}

// Info contains information about the engine driver configuration.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo returns information about the current engine configuration.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      IsCGO(),
		Package:    driverPackage,
	}
}

// OpenFlags mirror the open_v2 flags of the engine. Only flags that map to
// a DSN parameter of the active driver have an effect.
type OpenFlags int

const (
	OpenReadOnly     OpenFlags = 0x00000001
	OpenReadWrite    OpenFlags = 0x00000002
	OpenCreate       OpenFlags = 0x00000004
	OpenURI          OpenFlags = 0x00000040
	OpenMemory       OpenFlags = 0x00000080
	OpenNoMutex      OpenFlags = 0x00008000
	OpenFullMutex    OpenFlags = 0x00010000
	OpenSharedCache  OpenFlags = 0x00020000
	OpenPrivateCache OpenFlags = 0x00040000
)

// DefaultFlags is used when Options.Flags is zero.
const DefaultFlags = OpenReadWrite | OpenCreate

// ReadOnly reports whether f requests a read-only handle.
func (f OpenFlags) ReadOnly() bool {
	return f&OpenReadOnly != 0
}

func (f OpenFlags) mode() string {
	switch {
	case f&OpenMemory != 0:
		return "memory"
	case f&OpenReadOnly != 0:
		return "ro"
	case f&OpenCreate == 0:
		return "rw"
	}
	return "rwc"
}

func (f OpenFlags) cache() string {
	switch {
	case f&OpenSharedCache != 0:
		return "shared"
	case f&OpenPrivateCache != 0:
		return "private"
	}
	return ""
}

// Options controls how a database is opened.
type Options struct {
	Flags       OpenFlags
	BusyTimeout time.Duration
	JournalMode string // DELETE, TRUNCATE, PERSIST, MEMORY, WAL or OFF
	Synchronous string // OFF, NORMAL, FULL or EXTRA
	ForeignKeys bool
}

var (
	journalModes = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	syncModes    = []string{"OFF", "NORMAL", "FULL", "EXTRA"}
)

// Validate checks option values that end up inside the DSN.
func (o Options) Validate() error {
	if o.JournalMode != "" && !oneOf(o.JournalMode, journalModes) {
		return errors.NewValidation("journal_mode", fmt.Sprintf("unsupported journal mode %q", o.JournalMode))
	}
	if o.Synchronous != "" && !oneOf(o.Synchronous, syncModes) {
		return errors.NewValidation("synchronous", fmt.Sprintf("unsupported synchronous mode %q", o.Synchronous))
	}
	if o.BusyTimeout < 0 {
		return errors.NewValidation("busy_timeout", "must not be negative")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// IsMemory reports whether path names an in-memory database.
func IsMemory(path string) bool {
	return path == ":memory:" || path == "" || strings.HasPrefix(path, "file::memory:")
}

// DSN builds the data source name for path in the active driver's dialect.
func DSN(path string, o Options) string {
	flags := o.Flags
	if flags == 0 {
		flags = DefaultFlags
	}

	var base string
	switch {
	case flags&OpenURI != 0:
		base = path
	case path == ":memory:" || path == "":
		base = "file::memory:"
	default:
		base = "file:" + escapePath(path)
	}

	var params []string
	if !IsMemory(path) || flags&OpenMemory != 0 {
		params = append(params, "mode="+flags.mode())
	}
	if c := flags.cache(); c != "" {
		params = append(params, "cache="+c)
	}
	if o.BusyTimeout > 0 {
		params = append(params, pragmaParam("busy_timeout", strconv.FormatInt(o.BusyTimeout.Milliseconds(), 10)))
	}
	if o.JournalMode != "" && !flags.ReadOnly() {
		params = append(params, pragmaParam("journal_mode", strings.ToUpper(o.JournalMode)))
	}
	if o.Synchronous != "" {
		params = append(params, pragmaParam("synchronous", strings.ToUpper(o.Synchronous)))
	}
	if o.ForeignKeys {
		params = append(params, pragmaParam("foreign_keys", "1"))
	}
	params = append(params, mutexParams(flags)...)

	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + strings.Join(params, "&")
}

// escapePath escapes the characters that would otherwise end the path
// component of a file: URI.
func escapePath(path string) string {
	r := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
	return r.Replace(path)
}

// Open opens path with the active driver and verifies the handle with a ping.
func Open(ctx context.Context, path string, o Options) (*sql.DB, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, DSN(path, o))
	if err != nil {
		return nil, Classify("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Classify("open", err)
	}
	return db, nil
}

// ExtractCode returns the engine result code carried by a driver error.
func ExtractCode(err error) (errors.Code, bool) {
	code, ok := extractCode(err)
	return errors.Code(code), ok
}

// Classify converts a driver error into an *errors.Error. Errors without an
// engine code are reported as ERROR.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *errors.Error
	if errors.As(err, &ce) {
		return errors.Wrap(op, ce.Code, err)
	}
	code, ok := ExtractCode(err)
	if !ok {
		code = errors.ERROR
	}
	return &errors.Error{
		Op:       op,
		Code:     code.Primary(),
		Extended: code,
		Msg:      engineMessage(err),
		Err:      err,
	}
}
