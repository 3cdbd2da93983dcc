package changeset

import (
	"fmt"

	"github.com/Nileshshinde09/cortex/core/errors"
)

// Changegroup combines changesets into one, consolidating the changes
// made to each row:
//
//	INSERT then UPDATE  -> INSERT of the final values
//	INSERT then DELETE  -> nothing
//	UPDATE then UPDATE  -> one UPDATE from the first old to the last new
//	UPDATE then DELETE  -> DELETE of the original values
//	DELETE then INSERT  -> UPDATE
//
// Updates that end where they started are dropped.
type Changegroup struct {
	patch  bool
	seeded bool
	order  []string
	tables map[string]*tableGroup
}

type tableGroup struct {
	columns []string
	pk      []bool
	keys    []string
	rows    map[string]*Change
}

// NewChangegroup returns an empty Changegroup.
func NewChangegroup() *Changegroup {
	return &Changegroup{tables: map[string]*tableGroup{}}
}

// Add merges every change of cs into the group. Changesets and patchsets
// cannot be mixed, and a table must keep the same columns and primary key
// across all inputs.
func (g *Changegroup) Add(cs *Changeset) error {
	if cs == nil {
		return nil
	}
	if g.seeded && g.patch != cs.Patch {
		return errors.New("changegroup_add", errors.MISUSE, "cannot combine a changeset with a patchset")
	}
	g.seeded = true
	g.patch = cs.Patch
	for i := range cs.Changes {
		if err := g.add(cs.Changes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Changegroup) add(c Change) error {
	tg, ok := g.tables[c.Table]
	if !ok {
		tg = &tableGroup{
			columns: c.Columns,
			pk:      c.PK,
			rows:    map[string]*Change{},
		}
		g.tables[c.Table] = tg
		g.order = append(g.order, c.Table)
	} else if !sameSchema(tg, &c) {
		return errors.New("changegroup_add", errors.SCHEMA,
			fmt.Sprintf("table %s changes shape between changesets", c.Table))
	}

	k := keyString(c.key())
	cur, seen := tg.rows[k]
	if !seen {
		tg.keys = append(tg.keys, k)
	}
	if cur == nil {
		cc := c
		cc.Old, cc.New, cc.Mask = clone(c.Old), clone(c.New), cloneMask(c.Mask)
		tg.rows[k] = &cc
		return nil
	}
	tg.rows[k] = g.merge(cur, &c)
	return nil
}

func sameSchema(tg *tableGroup, c *Change) bool {
	if len(tg.columns) != len(c.Columns) || len(tg.pk) != len(c.PK) {
		return false
	}
	for i := range tg.pk {
		if tg.pk[i] != c.PK[i] {
			return false
		}
	}
	return true
}

// merge folds next into cur, returning nil when the row's changes cancel.
func (g *Changegroup) merge(cur, next *Change) *Change {
	switch {
	case cur.Op == Insert && next.Op == Update:
		row := clone(cur.New)
		for i := range row {
			if g.patch {
				if next.Mask[i] {
					row[i] = next.New[i]
				}
			} else {
				row[i] = next.New[i]
			}
		}
		cur.New = row
		return cur
	case cur.Op == Insert && next.Op == Delete:
		return nil
	case cur.Op == Update && next.Op == Update:
		if !g.patch {
			cur.New = clone(next.New)
			return cur
		}
		row := clone(cur.New)
		mask := cloneMask(cur.Mask)
		for i := range row {
			if next.Mask[i] {
				row[i] = next.New[i]
				mask[i] = true
			}
		}
		cur.New = row
		cur.Mask = mask
		return cur
	case cur.Op == Update && next.Op == Delete:
		cur.Op = Delete
		cur.New = nil
		cur.Mask = nil
		if g.patch {
			cur.Old = pkOnly(cur.Old, cur.PK)
		}
		return cur
	case cur.Op == Delete && next.Op == Insert:
		cur.Op = Update
		cur.New = clone(next.New)
		if g.patch {
			cur.Mask = make([]bool, len(cur.New))
			for i, pk := range cur.PK {
				cur.Mask[i] = !pk
			}
		} else {
			cur.Mask, _ = diffMask(cur.Old, cur.New)
		}
		return cur
	}
	// Impossible sequences (INSERT after INSERT and the like) keep the
	// first change.
	return cur
}

// Output returns the combined changeset.
func (g *Changegroup) Output() *Changeset {
	out := &Changeset{Patch: g.patch, Changes: []Change{}}
	for _, name := range g.order {
		tg := g.tables[name]
		for _, k := range tg.keys {
			c := tg.rows[k]
			if c == nil {
				continue
			}
			if c.Op == Update && !g.patch {
				mask, changed := diffMask(c.Old, c.New)
				if !changed {
					continue
				}
				c.Mask = mask
			}
			if c.Op == Update && g.patch && !anyTrue(c.Mask) {
				continue
			}
			out.Changes = append(out.Changes, *c)
		}
	}
	return out
}

func anyTrue(m []bool) bool {
	for _, b := range m {
		if b {
			return true
		}
	}
	return false
}

// Concat combines a and b as if b's changes had been made after a's.
func Concat(a, b *Changeset) (*Changeset, error) {
	g := NewChangegroup()
	if err := g.Add(a); err != nil {
		return nil, err
	}
	if err := g.Add(b); err != nil {
		return nil, err
	}
	out := g.Output()
	if a != nil {
		out.Patch = a.Patch
	}
	return out, nil
}

// Invert returns the changeset that undoes cs: inserts become deletes,
// deletes become inserts and updates swap their old and new values.
// Patchsets lack the old values and cannot be inverted.
func Invert(cs *Changeset) (*Changeset, error) {
	if cs.Patch {
		return nil, errors.New("changeset_invert", errors.MISUSE, "a patchset cannot be inverted")
	}
	out := &Changeset{Changes: make([]Change, 0, len(cs.Changes))}
	for _, c := range cs.Changes {
		inv := c
		inv.PK = cloneMask(c.PK)
		switch c.Op {
		case Insert:
			inv.Op, inv.Old, inv.New = Delete, clone(c.New), nil
		case Delete:
			inv.Op, inv.Old, inv.New = Insert, nil, clone(c.Old)
		case Update:
			inv.Old, inv.New = clone(c.New), clone(c.Old)
			inv.Mask = cloneMask(c.Mask)
		}
		out.Changes = append(out.Changes, inv)
	}
	return out, nil
}
