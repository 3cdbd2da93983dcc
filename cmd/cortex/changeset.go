package main

import (
	"fmt"
	"os"

	"github.com/Nileshshinde09/cortex/core/changeset"
	"github.com/Nileshshinde09/cortex/core/cortex"
)

// ChangesetCmd groups the changeset subcommands.
type ChangesetCmd struct {
	Record RecordCmd `cmd:"" help:"Run SQL and write the changes it made"`
	Show   ShowCmd   `cmd:"" help:"Print the changes in a changeset file"`
	Invert InvertCmd `cmd:"" help:"Write the changeset that undoes a changeset"`
	Concat ConcatCmd `cmd:"" help:"Combine two changesets into one"`
	Apply  ApplyCmd  `cmd:"" help:"Apply a changeset to a database"`
}

// RecordCmd attaches a session, runs SQL and saves what changed.
type RecordCmd struct {
	Database string   `arg:"" help:"Database file (.ctx)"`
	SQL      string   `arg:"" help:"SQL to run; - reads standard input"`
	Output   string   `short:"o" help:"Changeset file; standard output when empty"`
	Patchset bool     `help:"Write a patchset instead of a full changeset"`
	Tables   []string `name:"table" help:"Record only these tables (default: every table with a primary key)"`
}

func (c *RecordCmd) Run(e *env) error {
	db, err := openDB(e, c.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	text, err := readSQL(e, c.SQL)
	if err != nil {
		return err
	}

	sess, err := changeset.NewSession(e.ctx, db, "cli")
	if err != nil {
		return err
	}
	defer sess.Delete(e.ctx)
	tables := c.Tables
	if len(tables) == 0 {
		tables = []string{""}
	}
	for _, t := range tables {
		if err := sess.Attach(e.ctx, t); err != nil {
			return err
		}
	}
	if err := db.ExecScript(e.ctx, text); err != nil {
		return err
	}

	var cs *changeset.Changeset
	if c.Patchset {
		cs, err = sess.Patchset(e.ctx)
	} else {
		cs, err = sess.Changeset(e.ctx)
	}
	if err != nil {
		return err
	}
	return writeChangeset(e, c.Output, cs)
}

// ShowCmd lists the changes of a changeset file.
type ShowCmd struct {
	File string `arg:"" help:"Changeset file" type:"existingfile"`
}

func (c *ShowCmd) Run(e *env) error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()
	it, err := changeset.StartStream(f)
	if err != nil {
		return err
	}
	for it.Next() {
		fmt.Fprintln(e.stdout, describeChange(it.Change()))
	}
	return it.Err()
}

// describeChange renders c on one line. UPDATE rows show the primary key
// and the changed columns only.
func describeChange(c *changeset.Change) string {
	side := func(vals []any, mask []bool) string {
		var or cortex.OrderedRow
		for i, v := range vals {
			if mask != nil && !mask[i] && !c.PK[i] {
				continue
			}
			or.Columns = append(or.Columns, c.Columns[i])
			or.Values = append(or.Values, v)
		}
		return or.String()
	}
	s := fmt.Sprintf("%s %s", c.Op, c.Table)
	if c.Indirect {
		s += " (indirect)"
	}
	switch c.Op {
	case changeset.Insert:
		s += " new=" + side(c.New, nil)
	case changeset.Delete:
		s += " old=" + side(c.Old, nil)
	case changeset.Update:
		s += " old=" + side(c.Old, c.Mask) + " new=" + side(c.New, c.Mask)
	}
	return s
}

// InvertCmd writes the inverse of a changeset.
type InvertCmd struct {
	File   string `arg:"" help:"Changeset file" type:"existingfile"`
	Output string `short:"o" help:"Output file; standard output when empty"`
}

func (c *InvertCmd) Run(e *env) error {
	cs, err := readChangeset(c.File)
	if err != nil {
		return err
	}
	inv, err := changeset.Invert(cs)
	if err != nil {
		return err
	}
	return writeChangeset(e, c.Output, inv)
}

// ConcatCmd merges two changesets, the second applied after the first.
type ConcatCmd struct {
	First  string `arg:"" help:"First changeset" type:"existingfile"`
	Second string `arg:"" help:"Second changeset" type:"existingfile"`
	Output string `short:"o" help:"Output file; standard output when empty"`
}

func (c *ConcatCmd) Run(e *env) error {
	a, err := readChangeset(c.First)
	if err != nil {
		return err
	}
	b, err := readChangeset(c.Second)
	if err != nil {
		return err
	}
	out, err := changeset.Concat(a, b)
	if err != nil {
		return err
	}
	return writeChangeset(e, c.Output, out)
}

// ApplyCmd replays a changeset on a database.
type ApplyCmd struct {
	Database   string   `arg:"" help:"Database file (.ctx)"`
	File       string   `arg:"" help:"Changeset file" type:"existingfile"`
	OnConflict string   `name:"on-conflict" help:"omit, replace or abort" enum:"omit,replace,abort" default:"abort"`
	Tables     []string `name:"table" help:"Apply only changes to these tables"`
}

func (c *ApplyCmd) Run(e *env) error {
	cs, err := readChangeset(c.File)
	if err != nil {
		return err
	}
	db, err := openDB(e, c.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := &changeset.ApplyOptions{OnConflict: conflictPolicy(c.OnConflict)}
	if len(c.Tables) > 0 {
		allowed := map[string]bool{}
		for _, t := range c.Tables {
			allowed[t] = true
		}
		opts.Filter = func(table string) bool { return allowed[table] }
	}
	res, err := changeset.Apply(e.ctx, db, cs, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "applied %d, replaced %d, omitted %d, skipped %d\n", res.Applied, res.Replaced, res.Omitted, res.Skipped)
	return nil
}

// conflictPolicy maps a flag value to a conflict handler. replace falls
// back to omit where replacing is not allowed.
func conflictPolicy(name string) func(changeset.ConflictType, *changeset.Change) changeset.Action {
	switch name {
	case "omit":
		return func(changeset.ConflictType, *changeset.Change) changeset.Action { return changeset.Omit }
	case "replace":
		return func(t changeset.ConflictType, _ *changeset.Change) changeset.Action {
			if t == changeset.ConflictData || t == changeset.ConflictConflict {
				return changeset.Replace
			}
			return changeset.Omit
		}
	}
	return nil
}

func readChangeset(path string) (*changeset.Changeset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return changeset.Decode(f)
}

func writeChangeset(e *env, path string, cs *changeset.Changeset) error {
	if path == "" {
		return cs.Encode(e.stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cs.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
