package changeset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/engine"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// ConflictType describes why a change could not be applied as recorded.
type ConflictType int

const (
	// ConflictData: the target row exists but its current values do not
	// match the change's old values.
	ConflictData ConflictType = 1
	// ConflictNotFound: the row to update or delete does not exist.
	ConflictNotFound ConflictType = 2
	// ConflictConflict: an inserted row's primary key is already taken.
	ConflictConflict ConflictType = 3
	// ConflictConstraint: applying the change violates a constraint.
	ConflictConstraint ConflictType = 4
)

func (t ConflictType) String() string {
	switch t {
	case ConflictData:
		return "DATA"
	case ConflictNotFound:
		return "NOTFOUND"
	case ConflictConflict:
		return "CONFLICT"
	case ConflictConstraint:
		return "CONSTRAINT"
	}
	return fmt.Sprintf("ConflictType(%d)", int(t))
}

// Action is a conflict handler's decision.
type Action int

const (
	// Omit skips the change.
	Omit Action = 0
	// Replace forces the change; only valid for DATA and CONFLICT.
	Replace Action = 1
	// Abort rolls back everything applied so far.
	Abort Action = 2
)

// ApplyOptions configures Apply.
type ApplyOptions struct {
	// Filter, when set, limits the tables changes are applied to.
	Filter func(table string) bool
	// OnConflict decides what to do with a conflicting change. A nil
	// handler aborts on the first conflict.
	OnConflict func(ConflictType, *Change) Action
}

// ApplyResult counts what Apply did.
type ApplyResult struct {
	Applied  int
	Omitted  int
	Replaced int
	Skipped  int // changes to tables that are missing or differ in shape
}

// Apply replays cs on conn in one transaction. Changes to tables that do
// not exist in the target, or whose columns or primary key differ, are
// skipped. Conflicts go to opts.OnConflict; Abort rolls the whole
// transaction back and returns an ABORT error.
func Apply(ctx context.Context, conn *cortex.Conn, cs *Changeset, opts *ApplyOptions) (*ApplyResult, error) {
	if opts == nil {
		opts = &ApplyOptions{}
	}
	res := &ApplyResult{}
	err := conn.WithTx(ctx, func(tx *sql.Tx) error {
		a := &applier{ctx: ctx, tx: tx, opts: opts, patch: cs.Patch, res: res, schemas: map[string]*tableInfo{}}
		for i := range cs.Changes {
			c := &cs.Changes[i]
			if opts.Filter != nil && !opts.Filter(c.Table) {
				continue
			}
			if err := a.apply(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type applier struct {
	ctx     context.Context
	tx      *sql.Tx
	opts    *ApplyOptions
	patch   bool
	res     *ApplyResult
	schemas map[string]*tableInfo
}

var errAbort = errors.New("changeset_apply", errors.ABORT, "changeset application aborted by conflict handler")

func (a *applier) schema(table string) (*tableInfo, error) {
	if info, ok := a.schemas[table]; ok {
		return info, nil
	}
	rows, err := a.tx.QueryContext(a.ctx, "SELECT name, pk FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, engine.Classify("changeset_apply", err)
	}
	defer rows.Close()
	var info *tableInfo
	for rows.Next() {
		var (
			name string
			pk   int64
		)
		if err := rows.Scan(&name, &pk); err != nil {
			return nil, engine.Classify("changeset_apply", err)
		}
		if info == nil {
			info = &tableInfo{name: table}
		}
		info.columns = append(info.columns, name)
		info.pk = append(info.pk, pk > 0)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.Classify("changeset_apply", err)
	}
	a.schemas[table] = info
	return info, nil
}

func compatible(info *tableInfo, c *Change) bool {
	if info == nil || len(info.columns) != len(c.Columns) {
		return false
	}
	for i := range info.pk {
		if info.pk[i] != c.PK[i] {
			return false
		}
	}
	return true
}

func (a *applier) apply(c *Change) error {
	info, err := a.schema(c.Table)
	if err != nil {
		return err
	}
	if !compatible(info, c) {
		a.res.Skipped++
		return nil
	}
	switch c.Op {
	case Insert:
		return a.insert(info, c)
	case Delete:
		return a.delete(info, c)
	case Update:
		return a.update(info, c)
	}
	return errors.New("changeset_apply", errors.CORRUPT, fmt.Sprintf("unknown operation %v", c.Op))
}

// decide asks the handler about a conflict and validates its answer.
func (a *applier) decide(kind ConflictType, c *Change) (Action, error) {
	if a.opts.OnConflict == nil {
		return Abort, errAbort
	}
	act := a.opts.OnConflict(kind, c)
	switch act {
	case Omit:
		a.res.Omitted++
		return Omit, nil
	case Replace:
		if kind != ConflictData && kind != ConflictConflict {
			return act, errors.New("changeset_apply", errors.MISUSE,
				fmt.Sprintf("REPLACE is not a valid answer to a %s conflict", kind))
		}
		return Replace, nil
	}
	return Abort, errAbort
}

func pkWhere(info *tableInfo, row []any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	for i, pk := range info.pk {
		if pk {
			conds = append(conds, quoteIdent(info.columns[i])+" IS ?")
			args = append(args, row[i])
		}
	}
	return strings.Join(conds, " AND "), args
}

// current loads the target row with the change's primary key, or nil. The
// row is read through the same typed capture the session triggers use, so
// stored values compare exactly whatever the column's declared type.
func (a *applier) current(info *tableInfo, key []any) ([]any, error) {
	where, args := pkWhere(info, key)
	table := "main." + quoteIdent(info.name)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", rowJSON(table, info.columns), table, where)
	var raw sql.NullString
	err := a.tx.QueryRowContext(a.ctx, q, args...).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engine.Classify("changeset_apply", err)
	}
	row, err := decodeLogRow(raw.String, len(info.columns))
	if err != nil {
		return nil, errors.New("changeset_apply", errors.CodeOf(err), errors.MessageOf(err))
	}
	return row, nil
}

// matches reports whether the target row still holds the change's old
// values. Patchsets only carry the key, so any existing row matches.
func (a *applier) matches(c *Change, cur []any) bool {
	if a.patch {
		return true
	}
	for i := range cur {
		if c.Op == Update && !c.PK[i] && !c.Mask[i] {
			continue
		}
		if !valuesEqual(c.Old[i], cur[i]) {
			return false
		}
	}
	return true
}

func (a *applier) exec(q string, args []any) error {
	_, err := a.tx.ExecContext(a.ctx, q, args...)
	if err != nil {
		return engine.Classify("changeset_apply", err)
	}
	return nil
}

// run executes q and routes constraint failures to the handler.
func (a *applier) run(c *Change, q string, args []any, replaced bool) error {
	err := a.exec(q, args)
	if err == nil {
		if replaced {
			a.res.Replaced++
		} else {
			a.res.Applied++
		}
		return nil
	}
	if !errors.Is(err, errors.ErrConstraint) {
		return err
	}
	_, derr := a.decide(ConflictConstraint, c)
	return derr
}

func (a *applier) insert(info *tableInfo, c *Change) error {
	cur, err := a.current(info, c.New)
	if err != nil {
		return err
	}
	verb, replaced := "INSERT", false
	if cur != nil {
		act, err := a.decide(ConflictConflict, c)
		if err != nil || act == Omit {
			return err
		}
		verb, replaced = "INSERT OR REPLACE", true
	}
	cols := make([]string, len(info.columns))
	marks := make([]string, len(info.columns))
	for i, name := range info.columns {
		cols[i] = quoteIdent(name)
		marks[i] = "?"
	}
	q := fmt.Sprintf("%s INTO main.%s (%s) VALUES (%s)", verb, quoteIdent(info.name),
		strings.Join(cols, ", "), strings.Join(marks, ", "))
	return a.run(c, q, c.New, replaced)
}

func (a *applier) delete(info *tableInfo, c *Change) error {
	cur, err := a.current(info, c.Old)
	if err != nil {
		return err
	}
	if cur == nil {
		_, err := a.decide(ConflictNotFound, c)
		return err
	}
	replaced := false
	if !a.matches(c, cur) {
		act, err := a.decide(ConflictData, c)
		if err != nil || act == Omit {
			return err
		}
		replaced = true
	}
	where, args := pkWhere(info, c.Old)
	q := fmt.Sprintf("DELETE FROM main.%s WHERE %s", quoteIdent(info.name), where)
	return a.run(c, q, args, replaced)
}

func (a *applier) update(info *tableInfo, c *Change) error {
	cur, err := a.current(info, c.Old)
	if err != nil {
		return err
	}
	if cur == nil {
		_, err := a.decide(ConflictNotFound, c)
		return err
	}
	replaced := false
	if !a.matches(c, cur) {
		act, err := a.decide(ConflictData, c)
		if err != nil || act == Omit {
			return err
		}
		replaced = true
	}
	var (
		sets []string
		args []any
	)
	for i, m := range c.Mask {
		if m && !c.PK[i] {
			sets = append(sets, quoteIdent(info.columns[i])+" = ?")
			args = append(args, c.New[i])
		}
	}
	if len(sets) == 0 {
		if replaced {
			a.res.Replaced++
		} else {
			a.res.Applied++
		}
		return nil
	}
	where, whereArgs := pkWhere(info, c.Old)
	q := fmt.Sprintf("UPDATE main.%s SET %s WHERE %s", quoteIdent(info.name), strings.Join(sets, ", "), where)
	return a.run(c, q, append(args, whereArgs...), replaced)
}
