package errors

import "fmt"

// Code is an engine result code. Primary codes occupy the low byte;
// extended codes carry additional detail in the higher bits.
type Code int

// Primary result codes.
const (
	OK         Code = 0
	ERROR      Code = 1
	INTERNAL   Code = 2
	PERM       Code = 3
	ABORT      Code = 4
	BUSY       Code = 5
	LOCKED     Code = 6
	NOMEM      Code = 7
	READONLY   Code = 8
	INTERRUPT  Code = 9
	IOERR      Code = 10
	CORRUPT    Code = 11
	NOTFOUND   Code = 12
	FULL       Code = 13
	CANTOPEN   Code = 14
	PROTOCOL   Code = 15
	EMPTY      Code = 16
	SCHEMA     Code = 17
	TOOBIG     Code = 18
	CONSTRAINT Code = 19
	MISMATCH   Code = 20
	MISUSE     Code = 21
	NOLFS      Code = 22
	AUTH       Code = 23
	FORMAT     Code = 24
	RANGE      Code = 25
	NOTADB     Code = 26
	NOTICE     Code = 27
	WARNING    Code = 28
	ROW        Code = 100
	DONE       Code = 101
)

// Extended result codes.
const (
	ERROR_MISSING_COLLSEQ   = ERROR | (1 << 8)
	ERROR_RETRY             = ERROR | (2 << 8)
	ERROR_SNAPSHOT          = ERROR | (3 << 8)
	IOERR_READ              = IOERR | (1 << 8)
	IOERR_SHORT_READ        = IOERR | (2 << 8)
	IOERR_WRITE             = IOERR | (3 << 8)
	IOERR_FSYNC             = IOERR | (4 << 8)
	IOERR_DIR_FSYNC         = IOERR | (5 << 8)
	IOERR_TRUNCATE          = IOERR | (6 << 8)
	IOERR_FSTAT             = IOERR | (7 << 8)
	IOERR_UNLOCK            = IOERR | (8 << 8)
	IOERR_RDLOCK            = IOERR | (9 << 8)
	IOERR_DELETE            = IOERR | (10 << 8)
	IOERR_NOMEM             = IOERR | (12 << 8)
	IOERR_ACCESS            = IOERR | (13 << 8)
	IOERR_LOCK              = IOERR | (15 << 8)
	IOERR_CLOSE             = IOERR | (16 << 8)
	IOERR_SHMOPEN           = IOERR | (18 << 8)
	IOERR_SEEK              = IOERR | (22 << 8)
	IOERR_DELETE_NOENT      = IOERR | (23 << 8)
	IOERR_MMAP              = IOERR | (24 << 8)
	IOERR_GETTEMPPATH       = IOERR | (25 << 8)
	IOERR_CORRUPTFS         = IOERR | (33 << 8)
	LOCKED_SHAREDCACHE      = LOCKED | (1 << 8)
	LOCKED_VTAB             = LOCKED | (2 << 8)
	BUSY_RECOVERY           = BUSY | (1 << 8)
	BUSY_SNAPSHOT           = BUSY | (2 << 8)
	BUSY_TIMEOUT            = BUSY | (3 << 8)
	CANTOPEN_NOTEMPDIR      = CANTOPEN | (1 << 8)
	CANTOPEN_ISDIR          = CANTOPEN | (2 << 8)
	CANTOPEN_FULLPATH       = CANTOPEN | (3 << 8)
	CANTOPEN_CONVPATH       = CANTOPEN | (4 << 8)
	CANTOPEN_SYMLINK        = CANTOPEN | (6 << 8)
	CORRUPT_VTAB            = CORRUPT | (1 << 8)
	CORRUPT_SEQUENCE        = CORRUPT | (2 << 8)
	CORRUPT_INDEX           = CORRUPT | (3 << 8)
	READONLY_RECOVERY       = READONLY | (1 << 8)
	READONLY_CANTLOCK       = READONLY | (2 << 8)
	READONLY_ROLLBACK       = READONLY | (3 << 8)
	READONLY_DBMOVED        = READONLY | (4 << 8)
	READONLY_CANTINIT       = READONLY | (5 << 8)
	READONLY_DIRECTORY      = READONLY | (6 << 8)
	ABORT_ROLLBACK          = ABORT | (2 << 8)
	CONSTRAINT_CHECK        = CONSTRAINT | (1 << 8)
	CONSTRAINT_COMMITHOOK   = CONSTRAINT | (2 << 8)
	CONSTRAINT_FOREIGNKEY   = CONSTRAINT | (3 << 8)
	CONSTRAINT_FUNCTION     = CONSTRAINT | (4 << 8)
	CONSTRAINT_NOTNULL      = CONSTRAINT | (5 << 8)
	CONSTRAINT_PRIMARYKEY   = CONSTRAINT | (6 << 8)
	CONSTRAINT_TRIGGER      = CONSTRAINT | (7 << 8)
	CONSTRAINT_UNIQUE       = CONSTRAINT | (8 << 8)
	CONSTRAINT_VTAB         = CONSTRAINT | (9 << 8)
	CONSTRAINT_ROWID        = CONSTRAINT | (10 << 8)
	CONSTRAINT_PINNED       = CONSTRAINT | (11 << 8)
	CONSTRAINT_DATATYPE     = CONSTRAINT | (12 << 8)
	NOTICE_RECOVER_WAL      = NOTICE | (1 << 8)
	NOTICE_RECOVER_ROLLBACK = NOTICE | (2 << 8)
	WARNING_AUTOINDEX       = WARNING | (1 << 8)
	AUTH_USER               = AUTH | (1 << 8)
	OK_LOAD_PERMANENTLY     = OK | (1 << 8)
)

// Primary returns the primary result code, stripping extended bits.
func (c Code) Primary() Code {
	if c == ROW || c == DONE {
		return c
	}
	return c & 0xff
}

// IsExtended reports whether c carries extended information.
func (c Code) IsExtended() bool {
	return c != c.Primary()
}

var primaryNames = map[Code]string{
	OK:         "OK",
	ERROR:      "ERROR",
	INTERNAL:   "INTERNAL",
	PERM:       "PERM",
	ABORT:      "ABORT",
	BUSY:       "BUSY",
	LOCKED:     "LOCKED",
	NOMEM:      "NOMEM",
	READONLY:   "READONLY",
	INTERRUPT:  "INTERRUPT",
	IOERR:      "IOERR",
	CORRUPT:    "CORRUPT",
	NOTFOUND:   "NOTFOUND",
	FULL:       "FULL",
	CANTOPEN:   "CANTOPEN",
	PROTOCOL:   "PROTOCOL",
	EMPTY:      "EMPTY",
	SCHEMA:     "SCHEMA",
	TOOBIG:     "TOOBIG",
	CONSTRAINT: "CONSTRAINT",
	MISMATCH:   "MISMATCH",
	MISUSE:     "MISUSE",
	NOLFS:      "NOLFS",
	AUTH:       "AUTH",
	FORMAT:     "FORMAT",
	RANGE:      "RANGE",
	NOTADB:     "NOTADB",
	NOTICE:     "NOTICE",
	WARNING:    "WARNING",
	ROW:        "ROW",
	DONE:       "DONE",
}

var extendedNames = map[Code]string{
	ERROR_MISSING_COLLSEQ:   "ERROR_MISSING_COLLSEQ",
	ERROR_RETRY:             "ERROR_RETRY",
	ERROR_SNAPSHOT:          "ERROR_SNAPSHOT",
	IOERR_READ:              "IOERR_READ",
	IOERR_SHORT_READ:        "IOERR_SHORT_READ",
	IOERR_WRITE:             "IOERR_WRITE",
	IOERR_FSYNC:             "IOERR_FSYNC",
	IOERR_DIR_FSYNC:         "IOERR_DIR_FSYNC",
	IOERR_TRUNCATE:          "IOERR_TRUNCATE",
	IOERR_FSTAT:             "IOERR_FSTAT",
	IOERR_UNLOCK:            "IOERR_UNLOCK",
	IOERR_RDLOCK:            "IOERR_RDLOCK",
	IOERR_DELETE:            "IOERR_DELETE",
	IOERR_NOMEM:             "IOERR_NOMEM",
	IOERR_ACCESS:            "IOERR_ACCESS",
	IOERR_LOCK:              "IOERR_LOCK",
	IOERR_CLOSE:             "IOERR_CLOSE",
	IOERR_SHMOPEN:           "IOERR_SHMOPEN",
	IOERR_SEEK:              "IOERR_SEEK",
	IOERR_DELETE_NOENT:      "IOERR_DELETE_NOENT",
	IOERR_MMAP:              "IOERR_MMAP",
	IOERR_GETTEMPPATH:       "IOERR_GETTEMPPATH",
	IOERR_CORRUPTFS:         "IOERR_CORRUPTFS",
	LOCKED_SHAREDCACHE:      "LOCKED_SHAREDCACHE",
	LOCKED_VTAB:             "LOCKED_VTAB",
	BUSY_RECOVERY:           "BUSY_RECOVERY",
	BUSY_SNAPSHOT:           "BUSY_SNAPSHOT",
	BUSY_TIMEOUT:            "BUSY_TIMEOUT",
	CANTOPEN_NOTEMPDIR:      "CANTOPEN_NOTEMPDIR",
	CANTOPEN_ISDIR:          "CANTOPEN_ISDIR",
	CANTOPEN_FULLPATH:       "CANTOPEN_FULLPATH",
	CANTOPEN_CONVPATH:       "CANTOPEN_CONVPATH",
	CANTOPEN_SYMLINK:        "CANTOPEN_SYMLINK",
	CORRUPT_VTAB:            "CORRUPT_VTAB",
	CORRUPT_SEQUENCE:        "CORRUPT_SEQUENCE",
	CORRUPT_INDEX:           "CORRUPT_INDEX",
	READONLY_RECOVERY:       "READONLY_RECOVERY",
	READONLY_CANTLOCK:       "READONLY_CANTLOCK",
	READONLY_ROLLBACK:       "READONLY_ROLLBACK",
	READONLY_DBMOVED:        "READONLY_DBMOVED",
	READONLY_CANTINIT:       "READONLY_CANTINIT",
	READONLY_DIRECTORY:      "READONLY_DIRECTORY",
	ABORT_ROLLBACK:          "ABORT_ROLLBACK",
	CONSTRAINT_CHECK:        "CONSTRAINT_CHECK",
	CONSTRAINT_COMMITHOOK:   "CONSTRAINT_COMMITHOOK",
	CONSTRAINT_FOREIGNKEY:   "CONSTRAINT_FOREIGNKEY",
	CONSTRAINT_FUNCTION:     "CONSTRAINT_FUNCTION",
	CONSTRAINT_NOTNULL:      "CONSTRAINT_NOTNULL",
	CONSTRAINT_PRIMARYKEY:   "CONSTRAINT_PRIMARYKEY",
	CONSTRAINT_TRIGGER:      "CONSTRAINT_TRIGGER",
	CONSTRAINT_UNIQUE:       "CONSTRAINT_UNIQUE",
	CONSTRAINT_VTAB:         "CONSTRAINT_VTAB",
	CONSTRAINT_ROWID:        "CONSTRAINT_ROWID",
	CONSTRAINT_PINNED:       "CONSTRAINT_PINNED",
	CONSTRAINT_DATATYPE:     "CONSTRAINT_DATATYPE",
	NOTICE_RECOVER_WAL:      "NOTICE_RECOVER_WAL",
	NOTICE_RECOVER_ROLLBACK: "NOTICE_RECOVER_ROLLBACK",
	WARNING_AUTOINDEX:       "WARNING_AUTOINDEX",
	AUTH_USER:               "AUTH_USER",
	OK_LOAD_PERMANENTLY:     "OK_LOAD_PERMANENTLY",
}

// String returns the symbolic name of the code, e.g. CORTEX_BUSY_TIMEOUT.
func (c Code) String() string {
	if name, ok := extendedNames[c]; ok {
		return "CORTEX_" + name
	}
	if name, ok := primaryNames[c]; ok {
		return "CORTEX_" + name
	}
	if name, ok := primaryNames[c.Primary()]; ok {
		return fmt.Sprintf("CORTEX_%s(%d)", name, int(c))
	}
	return fmt.Sprintf("CORTEX_UNKNOWN(%d)", int(c))
}

var messages = map[Code]string{
	OK:         "not an error",
	ERROR:      "SQL logic error",
	INTERNAL:   "internal logic error",
	PERM:       "access permission denied",
	ABORT:      "query aborted",
	BUSY:       "database is locked",
	LOCKED:     "database table is locked",
	NOMEM:      "out of memory",
	READONLY:   "attempt to write a readonly database",
	INTERRUPT:  "interrupted",
	IOERR:      "disk I/O error",
	CORRUPT:    "database disk image is malformed",
	NOTFOUND:   "unknown operation",
	FULL:       "database or disk is full",
	CANTOPEN:   "unable to open database file",
	PROTOCOL:   "locking protocol",
	EMPTY:      "table contains no data",
	SCHEMA:     "database schema has changed",
	TOOBIG:     "string or blob too big",
	CONSTRAINT: "constraint failed",
	MISMATCH:   "datatype mismatch",
	MISUSE:     "bad parameter or other API misuse",
	NOLFS:      "large file support is disabled",
	AUTH:       "authorization denied",
	FORMAT:     "auxiliary database format error",
	RANGE:      "column index out of range",
	NOTADB:     "file is not a database",
	NOTICE:     "notification message",
	WARNING:    "warning message",
	ROW:        "another row available",
	DONE:       "no more rows available",
}

// Errstr returns the English description of a result code. Extended codes
// describe as their primary code, except for the few with their own text.
func Errstr(code Code) string {
	switch code {
	case ABORT_ROLLBACK:
		return "abort due to ROLLBACK"
	case BUSY_RECOVERY:
		return "recovery in progress"
	case BUSY_TIMEOUT:
		return "database is locked (timeout)"
	}
	if msg, ok := messages[code.Primary()]; ok {
		return msg
	}
	return "unknown error"
}
