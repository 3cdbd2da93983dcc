// Package cortex is the connection API of the cortex database: opening
// .ctx files, executing statements, fetching rows, prepared statements and
// the schema helpers the MCP tools are built on.
//
// A Conn owns exactly one engine connection, so per-connection state
// (changes, last insert id, TEMP objects, pragmas) behaves as it would on a
// native handle. Calls on one Conn are serialized.
package cortex

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Nileshshinde09/cortex/core/engine"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// Extension is the required file extension of cortex databases.
const Extension = ".ctx"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

type config struct {
	opts      engine.Options
	cacheSize int
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*config)

// WithReadOnly opens the database read-only.
func WithReadOnly() Option {
	return func(c *config) {
		c.opts.Flags = engine.OpenReadOnly
	}
}

// WithFlags sets the raw open flags.
func WithFlags(flags engine.OpenFlags) Option {
	return func(c *config) {
		c.opts.Flags = flags
	}
}

// WithBusyTimeout sets how long a locked database is retried.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) {
		c.opts.BusyTimeout = d
	}
}

// WithJournalMode sets the journal mode, e.g. "WAL".
func WithJournalMode(mode string) Option {
	return func(c *config) {
		c.opts.JournalMode = mode
	}
}

// WithForeignKeys enables foreign key enforcement.
func WithForeignKeys() Option {
	return func(c *config) {
		c.opts.ForeignKeys = true
	}
}

// WithStmtCacheSize sets the prepared statement cache size; 0 disables it.
func WithStmtCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}

// WithLogger sets the logger used for connection events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Conn is an open cortex database.
type Conn struct {
	mu      sync.Mutex
	path    string
	flags   engine.OpenFlags
	db      *sql.DB
	conn    *sql.Conn
	cache   *stmtCache
	users   map[any]struct{} // unfinalized statements and running backups
	lastErr error
	changes int64
	closed  bool
	zombie  bool // CloseV2 deferred until the last user is released
	logger  *slog.Logger
}

// ValidatePath checks that path names a cortex database.
func ValidatePath(path string) error {
	if engine.IsMemory(path) {
		return nil
	}
	name := path
	if strings.HasPrefix(name, "file:") {
		name = strings.TrimPrefix(name, "file:")
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
	}
	if filepath.Ext(name) != Extension {
		return &errors.ValidationError{
			Field:   "path",
			Value:   path,
			Message: "cortex database file must have .ctx extension",
		}
	}
	return nil
}

// Open opens the database at path. See OpenContext.
func Open(path string, opts ...Option) (*Conn, error) {
	return OpenContext(context.Background(), path, opts...)
}

// OpenContext opens the database at path, which must carry the .ctx
// extension or be ":memory:". The file is created unless the handle is
// read-only.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Conn, error) {
	cfg := config{cacheSize: DefaultStmtCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if strings.HasPrefix(path, "file:") {
		cfg.opts.Flags |= engine.OpenURI
		if cfg.opts.Flags&(engine.OpenReadOnly|engine.OpenReadWrite) == 0 {
			cfg.opts.Flags |= engine.DefaultFlags
		}
	}

	db, err := engine.Open(ctx, path, cfg.opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, engine.Classify("open", err)
	}
	cache, err := newStmtCache(cfg.cacheSize)
	if err != nil {
		conn.Close()
		db.Close()
		return nil, errors.Wrap("open", errors.MISUSE, err)
	}

	// cortex_master is the product name for the schema table.
	if _, err := conn.ExecContext(ctx, `CREATE TEMP VIEW IF NOT EXISTS cortex_master AS
		SELECT type, name, tbl_name, rootpage, sql FROM main.sqlite_schema`); err != nil {
		conn.Close()
		db.Close()
		return nil, engine.Classify("open", err)
	}

	flags := cfg.opts.Flags
	if flags == 0 {
		flags = engine.DefaultFlags
	}
	c := &Conn{
		path:   path,
		flags:  flags,
		db:     db,
		conn:   conn,
		cache:  cache,
		users:  make(map[any]struct{}),
		logger: cfg.logger,
	}
	c.logger.Debug("cortex connection opened",
		"path", path,
		"driver", engine.DriverType(),
		"read_only", flags.ReadOnly())
	return c, nil
}

// Path returns the path the connection was opened with.
func (c *Conn) Path() string {
	return c.path
}

// ReadOnly reports whether the handle was opened read-only.
func (c *Conn) ReadOnly() bool {
	return c.flags.ReadOnly()
}

// DB returns the underlying pool. It must not be used for statements that
// depend on per-connection state.
func (c *Conn) DB() *sql.DB {
	return c.db
}

func (c *Conn) checkOpen(op string) error {
	if c.closed {
		return errors.New(op, errors.MISUSE, "database connection is closed")
	}
	return nil
}

// record stores err as the connection's most recent result and returns it.
func (c *Conn) record(err error) error {
	c.lastErr = err
	return err
}

// ErrCode returns the primary result code of the most recent call.
func (c *Conn) ErrCode() errors.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.CodeOf(c.lastErr).Primary()
}

// ExtendedErrCode returns the extended result code of the most recent call.
func (c *Conn) ExtendedErrCode() errors.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.CodeOf(c.lastErr)
}

// ErrMsg returns the English message of the most recent call.
func (c *Conn) ErrMsg() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.MessageOf(c.lastErr)
}

// Changes returns the number of rows modified by the most recent Exec or
// completed statement.
func (c *Conn) Changes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes
}

// Exec runs one or more statements. Arguments are only allowed with a
// single statement; parameterized statements are served from the cache.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("exec"); err != nil {
		return Result{}, c.record(err)
	}

	var (
		res sql.Result
		err error
	)
	if len(args) > 0 && c.cache != nil {
		var stmt *sql.Stmt
		stmt, err = c.cache.get(ctx, c.conn, query)
		if err == nil {
			res, err = stmt.ExecContext(ctx, args...)
		}
	} else {
		res, err = c.conn.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return Result{}, c.record(engine.Classify("exec", err))
	}

	var r Result
	r.RowsAffected, _ = res.RowsAffected()
	r.LastInsertID, _ = res.LastInsertId()
	c.changes = r.RowsAffected
	if isSchemaChange(query) {
		c.cache.purge()
	}
	c.record(nil)
	return r, nil
}

// ExecScript runs a multi-statement script inside one transaction.
func (c *Conn) ExecScript(ctx context.Context, script string) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, script)
		return err
	})
}

// WithTx runs fn in a transaction on the connection. fn must only use tx;
// calling other Conn methods from fn deadlocks.
func (c *Conn) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("begin"); err != nil {
		return c.record(err)
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return c.record(engine.Classify("begin", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		var ce *errors.Error
		if errors.As(err, &ce) {
			return c.record(err)
		}
		return c.record(engine.Classify("exec", err))
	}
	if err := tx.Commit(); err != nil {
		return c.record(engine.Classify("commit", err))
	}
	c.cache.purge()
	c.record(nil)
	return nil
}

// Raw runs f with the driver connection held. It keeps working after
// CloseV2 until the last user is released, so running backups can finish.
func (c *Conn) Raw(f func(driverConn any) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && !c.zombie {
		return c.record(c.checkOpen("raw"))
	}
	return c.record(c.conn.Raw(f))
}

// Hold registers a long-lived user of the connection, such as a running
// backup. Close fails with BUSY until the returned release is called.
func (c *Conn) Hold(op string) (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(op); err != nil {
		return nil, c.record(err)
	}
	token := new(int)
	c.users[token] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.releaseUser(token)
		})
	}, nil
}

// releaseUser drops a user and completes a deferred CloseV2. Callers hold mu.
func (c *Conn) releaseUser(u any) {
	delete(c.users, u)
	if c.zombie && len(c.users) == 0 {
		c.shutdown()
	}
}

// Close closes the connection. It fails with BUSY while prepared
// statements are unfinalized or backups are running. Closing a closed
// connection is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && !c.zombie {
		return nil
	}
	if len(c.users) > 0 {
		return c.record(errors.New("close", errors.BUSY, "unable to close due to unfinalized statements or unfinished backups"))
	}
	return c.shutdown()
}

// CloseV2 closes the connection once every statement is finalized and
// every backup is finished. Until then the handle only accepts Finalize.
func (c *Conn) CloseV2() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if len(c.users) > 0 {
		c.closed = true
		c.zombie = true
		return nil
	}
	return c.shutdown()
}

// shutdown releases the engine connection. Callers hold mu.
func (c *Conn) shutdown() error {
	c.cache.purge()
	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	c.closed = true
	c.zombie = false
	c.logger.Debug("cortex connection closed", "path", c.path)
	if err != nil {
		return engine.Classify("close", err)
	}
	return nil
}

var schemaVerbs = map[string]bool{
	"CREATE": true, "DROP": true, "ALTER": true, "VACUUM": true,
	"ATTACH": true, "DETACH": true, "REINDEX": true,
}

// isSchemaChange reports whether a statement of query starts with a verb
// that may alter the schema, which invalidates cached statements.
func isSchemaChange(query string) bool {
	changed := false
	engine.Statements(query, func(stmt string) bool {
		if w := engine.Words(stmt, 1); len(w) == 1 && schemaVerbs[w[0]] {
			changed = true
		}
		return !changed
	})
	return changed
}
