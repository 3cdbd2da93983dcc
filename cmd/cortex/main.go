// Command cortex is the CLI for cortex databases. It runs SQL against .ctx
// files, takes backups and snapshots, moves changesets between databases
// and serves a database to MCP clients.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/Nileshshinde09/cortex/core/backup"
	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/engine"
	"github.com/Nileshshinde09/cortex/core/errors"
	"github.com/Nileshshinde09/cortex/core/fts"
	"github.com/Nileshshinde09/cortex/internal/config"
	"github.com/Nileshshinde09/cortex/internal/logging"
	"github.com/Nileshshinde09/cortex/internal/mcp"
	"github.com/Nileshshinde09/cortex/internal/serve"
)

// CLI defines the command-line interface for cortex.
type CLI struct {
	Config    string `name:"config" short:"c" help:"YAML configuration file" type:"path"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"${log_level}"`
	LogFormat string `name:"log-format" help:"Log format (json, text)" default:"${log_format}"`

	Serve     ServeCmd     `cmd:"" help:"Serve a database to MCP clients"`
	Exec      ExecCmd      `cmd:"" help:"Run SQL statements and print any rows"`
	Query     QueryCmd     `cmd:"" help:"Run a read-only query"`
	Tables    TablesCmd    `cmd:"" help:"List tables"`
	Schema    SchemaCmd    `cmd:"" help:"Show the schema of a table or of every table"`
	Shell     ShellCmd     `cmd:"" help:"Interactive SQL shell"`
	Search    SearchCmd    `cmd:"" help:"Full-text search an FTS5 index"`
	Backup    BackupCmd    `cmd:"" help:"Copy a live database to another file"`
	Snapshot  SnapshotCmd  `cmd:"" help:"Write a compressed, hashed snapshot archive"`
	Verify    VerifyCmd    `cmd:"" help:"Check a snapshot archive against its manifest"`
	Restore   RestoreCmd   `cmd:"" help:"Restore a database from a snapshot archive"`
	Changeset ChangesetCmd `cmd:"" help:"Record, inspect and apply changesets"`
	Version   VersionCmd   `cmd:"" help:"Print version information"`
}

// env is bound into every command's Run.
type env struct {
	ctx         context.Context
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
	cli         *CLI
}

func openDB(e *env, path string, opts ...cortex.Option) (*cortex.Conn, error) {
	return cortex.OpenContext(e.ctx, path, opts...)
}

// ServeCmd starts the MCP server. Flags override the configuration file
// and CORTEX_* variables.
type ServeCmd struct {
	Database  string `arg:"" optional:"" help:"Database file (.ctx)"`
	Transport string `short:"t" help:"stdio, http, websocket or all"`
	Host      string `help:"Listen host"`
	Port      int    `short:"p" help:"HTTP port; all mode puts WebSocket on port+1"`
	APIKey    string `name:"api-key" help:"Require this key in X-API-Key"`
	ReadOnly  bool   `name:"read-only" help:"Refuse cortex_execute"`
}

func (c *ServeCmd) Run(e *env) error {
	cfg, err := config.Load(e.cli.Config)
	if err != nil {
		return err
	}
	if c.Database != "" {
		cfg.Database = c.Database
	}
	if c.Transport != "" {
		cfg.Transport = c.Transport
	}
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.APIKey != "" {
		cfg.APIKey = c.APIKey
	}
	if c.ReadOnly {
		cfg.ReadOnly = true
	}
	if err := setupLogging(e.cli, cfg); err != nil {
		return err
	}
	return serve.Run(e.ctx, cfg, serve.IO{Stdin: e.stdin, Stdout: e.stdout, Stderr: e.stderr})
}

// ExecCmd runs one or more statements.
type ExecCmd struct {
	Database string `arg:"" help:"Database file (.ctx)"`
	SQL      string `arg:"" help:"SQL text; - reads standard input"`
	JSON     bool   `help:"Print rows as a JSON array"`
}

func (c *ExecCmd) Run(e *env) error {
	db, err := openDB(e, c.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	text, err := readSQL(e, c.SQL)
	if err != nil {
		return err
	}
	return runScript(e.ctx, db, text, e.stdout, c.JSON)
}

// QueryCmd runs a query with writes refused.
type QueryCmd struct {
	Database string `arg:"" help:"Database file (.ctx)"`
	SQL      string `arg:"" help:"SELECT statement; - reads standard input"`
	JSON     bool   `help:"Print rows as a JSON array"`
}

func (c *QueryCmd) Run(e *env) error {
	db, err := openDB(e, c.Database, cortex.WithReadOnly())
	if err != nil {
		return err
	}
	defer db.Close()
	text, err := readSQL(e, c.SQL)
	if err != nil {
		return err
	}
	rs, err := db.QueryReadOnly(e.ctx, text)
	if err != nil {
		return err
	}
	return printRows(e.stdout, rs, c.JSON)
}

// TablesCmd lists the user tables.
type TablesCmd struct {
	Database string `arg:"" help:"Database file (.ctx)"`
}

func (c *TablesCmd) Run(e *env) error {
	db, err := openDB(e, c.Database, cortex.WithReadOnly())
	if err != nil {
		return err
	}
	defer db.Close()
	names, err := db.Tables(e.ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(e.stdout, n)
	}
	return nil
}

// SchemaCmd shows column details of one table, or CREATE statements.
type SchemaCmd struct {
	Database string `arg:"" help:"Database file (.ctx)"`
	Table    string `arg:"" optional:"" help:"Table name"`
	JSON     bool   `help:"Print rows as a JSON array"`
}

func (c *SchemaCmd) Run(e *env) error {
	db, err := openDB(e, c.Database, cortex.WithReadOnly())
	if err != nil {
		return err
	}
	defer db.Close()
	rs, err := db.Schema(e.ctx, c.Table)
	if err != nil {
		return err
	}
	if c.Table == "" && !c.JSON {
		for _, row := range rs.Rows {
			if s, ok := row[0].(string); ok {
				fmt.Fprintf(e.stdout, "%s;\n", s)
			}
		}
		return nil
	}
	return printRows(e.stdout, rs, c.JSON)
}

// SearchCmd runs a ranked full-text query.
type SearchCmd struct {
	Database string `arg:"" help:"Database file (.ctx)"`
	Index    string `arg:"" help:"FTS5 table"`
	Query    string `arg:"" help:"FTS5 query"`
	Limit    int    `short:"n" help:"Maximum results" default:"10"`
	Column   int    `help:"Column to highlight" default:"0"`
	Literal  bool   `help:"Match the query text as a phrase"`
}

func (c *SearchCmd) Run(e *env) error {
	db, err := openDB(e, c.Database, cortex.WithReadOnly())
	if err != nil {
		return err
	}
	defer db.Close()
	ix, err := fts.Open(e.ctx, db, c.Index)
	if err != nil {
		return err
	}
	q := c.Query
	if c.Literal {
		q = fts.Quote(q)
	}
	hits, err := ix.Search(e.ctx, q, &fts.SearchOptions{Limit: c.Limit, Highlight: true, Column: c.Column})
	if err != nil {
		return err
	}
	for _, h := range hits {
		fmt.Fprintf(e.stdout, "%d\t%.3f\t%s\n", h.RowID, h.Rank, h.Highlight)
	}
	return nil
}

// BackupCmd copies a database page by page while it stays usable.
type BackupCmd struct {
	Database string        `arg:"" help:"Source database (.ctx)"`
	Dest     string        `arg:"" help:"Destination file (.ctx)"`
	Pages    int           `help:"Pages copied per step (-1 copies everything at once)" default:"-1"`
	Sleep    time.Duration `help:"Pause between steps" default:"0s"`
}

func (c *BackupCmd) Run(e *env) error {
	if err := cortex.ValidatePath(c.Dest); err != nil {
		return err
	}
	db, err := openDB(e, c.Database, cortex.WithReadOnly())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := backup.Run(e.ctx, db, c.Dest, c.Pages, c.Sleep); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Backed up %s to %s\n", c.Database, c.Dest)
	return nil
}

// SnapshotCmd writes a snapshot archive.
type SnapshotCmd struct {
	Database    string `arg:"" help:"Source database (.ctx)"`
	Archive     string `arg:"" help:"Archive to write"`
	Compression string `help:"xz or gzip" enum:"xz,gzip" default:"xz"`
}

func (c *SnapshotCmd) Run(e *env) error {
	db, err := openDB(e, c.Database, cortex.WithReadOnly())
	if err != nil {
		return err
	}
	defer db.Close()
	m, err := backup.Snapshot(e.ctx, db, c.Archive, &backup.SnapshotOptions{Compression: backup.Compression(c.Compression)})
	if err != nil {
		return err
	}
	return printJSON(e.stdout, m)
}

// VerifyCmd checks a snapshot archive.
type VerifyCmd struct {
	Archive string `arg:"" help:"Snapshot archive" type:"existingfile"`
}

func (c *VerifyCmd) Run(e *env) error {
	m, err := backup.Verify(c.Archive)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "OK %s (%d pages, sha256 %s)\n", c.Archive, m.PageCount, m.Hashes.SHA256)
	return nil
}

// RestoreCmd replaces a database with a snapshot's contents.
type RestoreCmd struct {
	Archive  string `arg:"" help:"Snapshot archive" type:"existingfile"`
	Database string `arg:"" help:"Database to overwrite (.ctx)"`
}

func (c *RestoreCmd) Run(e *env) error {
	db, err := openDB(e, c.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	m, err := backup.Restore(e.ctx, db, c.Archive)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Restored %s from %s (created %s)\n", c.Database, c.Archive, m.CreatedAt.Format(time.RFC3339))
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(e *env) error {
	info := engine.GetInfo()
	fmt.Fprintf(e.stdout, "cortex version %s (engine %s, %s)\n", mcp.Version, info.DriverName, info.DriverType)
	return nil
}

func setupLogging(cli *CLI, cfg *config.Config) error {
	levelName, formatName := cli.LogLevel, cli.LogFormat
	if cfg != nil {
		if levelName == "" {
			levelName = cfg.Log.Level
		}
		if formatName == "" {
			formatName = cfg.Log.Format
		}
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(formatName)
	if err != nil {
		return err
	}
	logging.InitLogger(level, format)
	return nil
}

func readSQL(e *env, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(e.stdin)
	return string(b), err
}

func printRows(w io.Writer, rs *cortex.ResultSet, asJSON bool) error {
	if asJSON {
		return printJSON(w, rs.Maps())
	}
	for i := range rs.Rows {
		fmt.Fprintln(w, rs.Ordered(i).String())
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// returnsRows guesses from the leading keyword whether stmt produces rows.
func returnsRows(stmt string) bool {
	fields := strings.Fields(strings.TrimLeft(stmt, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN":
		return true
	}
	return strings.Contains(strings.ToUpper(stmt), "RETURNING")
}

// runScript runs each statement of text in turn, printing the rows of
// those that return any.
func runScript(ctx context.Context, db *cortex.Conn, text string, w io.Writer, asJSON bool) error {
	for {
		stmt, tail, ok := engine.Split(text)
		if !ok {
			return nil
		}
		if returnsRows(stmt) {
			rs, err := db.Query(ctx, stmt)
			if err != nil {
				return err
			}
			if err := printRows(w, rs, asJSON); err != nil {
				return err
			}
		} else if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
		text = tail
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, interactive bool) int {
	var cli CLI
	exitCode := -1
	parser, err := kong.New(&cli,
		kong.Name("cortex"),
		kong.Description("cortex - SQL database files with an MCP server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
		kong.Vars{"log_level": "", "log_format": ""},
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}
	if !strings.HasPrefix(kctx.Command(), "serve") {
		if err := setupLogging(&cli, &config.Config{Log: config.Log{Level: "warn", Format: "text"}}); err != nil {
			fmt.Fprintln(stderr, "cortex:", err)
			return 2
		}
	}
	e := &env{ctx: ctx, stdin: stdin, stdout: stdout, stderr: stderr, interactive: interactive, cli: &cli}
	if err := kctx.Run(e); err != nil {
		fmt.Fprintf(stderr, "cortex: %s\n", describe(err))
		return 1
	}
	return 0
}

// describe renders err for the terminal.
func describe(err error) string {
	var e *errors.Error
	if errors.As(err, &e) && e.Code != errors.OK {
		return fmt.Sprintf("%s (%s)", errors.MessageOf(err), e.Code)
	}
	return err.Error()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], bufio.NewReader(os.Stdin), os.Stdout, os.Stderr, term.IsTerminal(int(os.Stdin.Fd())))
	stop()
	os.Exit(code)
}
