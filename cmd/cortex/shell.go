package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/engine"
)

// ShellCmd reads SQL line by line and runs each statement once it is
// complete. Lines starting with a dot are shell commands.
type ShellCmd struct {
	Database string `arg:"" help:"Database file (.ctx)"`
	ReadOnly bool   `name:"read-only" help:"Open the database read-only"`
	JSON     bool   `help:"Print rows as JSON"`
}

const shellHelp = `.tables           list tables
.schema [TABLE]   show CREATE statements or a table's columns
.help             show this text
.quit             leave the shell
`

func (c *ShellCmd) Run(e *env) error {
	var opts []cortex.Option
	if c.ReadOnly {
		opts = append(opts, cortex.WithReadOnly())
	}
	db, err := openDB(e, c.Database, opts...)
	if err != nil {
		return err
	}
	defer db.Close()

	sh := &shell{env: e, db: db, json: c.JSON}
	if e.interactive {
		info := engine.GetInfo()
		fmt.Fprintf(e.stdout, "cortex shell (%s). Enter .help for commands.\n", info.DriverName)
	}
	return sh.loop(e.stdin)
}

type shell struct {
	env  *env
	db   *cortex.Conn
	json bool
	buf  strings.Builder
}

func (sh *shell) prompt() {
	if !sh.env.interactive {
		return
	}
	if sh.buf.Len() == 0 {
		fmt.Fprint(sh.env.stdout, "cortex> ")
	} else {
		fmt.Fprint(sh.env.stdout, "   ...> ")
	}
}

func (sh *shell) loop(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sh.prompt(); sc.Scan(); sh.prompt() {
		line := sc.Text()
		if sh.buf.Len() == 0 && strings.HasPrefix(strings.TrimSpace(line), ".") {
			quit, err := sh.dot(strings.Fields(strings.TrimSpace(line)))
			if err != nil {
				fmt.Fprintf(sh.env.stderr, "Error: %s\n", describe(err))
			}
			if quit {
				return nil
			}
			continue
		}
		sh.buf.WriteString(line)
		sh.buf.WriteByte('\n')
		if !engine.Complete(sh.buf.String()) {
			continue
		}
		text := sh.buf.String()
		sh.buf.Reset()
		if err := runScript(sh.env.ctx, sh.db, text, sh.env.stdout, sh.json); err != nil {
			// The shell keeps going; a script on stdin stops at the
			// first failure.
			fmt.Fprintf(sh.env.stderr, "Error: %s\n", describe(err))
			if !sh.env.interactive {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sh.buf.String()) != "" {
		return fmt.Errorf("incomplete SQL: %s", strings.TrimSpace(sh.buf.String()))
	}
	return nil
}

func (sh *shell) dot(args []string) (quit bool, err error) {
	ctx, w := sh.env.ctx, sh.env.stdout
	switch args[0] {
	case ".quit", ".exit":
		return true, nil
	case ".help":
		fmt.Fprint(w, shellHelp)
	case ".tables":
		names, err := sh.db.Tables(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w, strings.Join(names, "  "))
	case ".schema":
		table := ""
		if len(args) > 1 {
			table = args[1]
		}
		rs, err := sh.db.Schema(ctx, table)
		if err != nil {
			return false, err
		}
		if table == "" {
			for _, row := range rs.Rows {
				fmt.Fprintf(w, "%v;\n", row[0])
			}
			return false, nil
		}
		return false, printRows(w, rs, sh.json)
	default:
		return false, fmt.Errorf("unknown command %s; enter .help", args[0])
	}
	return false, nil
}
