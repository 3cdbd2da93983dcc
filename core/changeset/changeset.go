// Package changeset records row changes made through a cortex connection
// and moves them between databases: sessions capture INSERT, UPDATE and
// DELETE on attached tables, changesets and patchsets carry the net
// effect, and Apply replays them with conflict handling.
package changeset

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// Op is the kind of a row change. Values follow the engine's authorizer
// action codes.
type Op int

const (
	Delete Op = 9
	Insert Op = 18
	Update Op = 23
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp parses the name of an Op.
func ParseOp(s string) (Op, error) {
	switch strings.ToUpper(s) {
	case "INSERT":
		return Insert, nil
	case "UPDATE":
		return Update, nil
	case "DELETE":
		return Delete, nil
	}
	return 0, fmt.Errorf("unknown change operation %q", s)
}

// Change is one row change.
//
// Old holds the row before the change (DELETE, UPDATE) and New the row
// after it (INSERT, UPDATE), one value per column. For an UPDATE, Mask
// marks the columns whose value changed. In a patchset, Old carries only
// primary key values and an UPDATE's New only the masked columns; the
// other slots are nil.
type Change struct {
	Table    string
	Op       Op
	Columns  []string
	PK       []bool
	Old      []any
	New      []any
	Mask     []bool
	Indirect bool
}

// Changeset is an ordered set of changes, at most one per table row.
type Changeset struct {
	Patch   bool
	Changes []Change
}

// IsEmpty reports whether cs holds no changes.
func (cs *Changeset) IsEmpty() bool {
	return cs == nil || len(cs.Changes) == 0
}

// Tables returns the tables cs touches in first-seen order.
func (cs *Changeset) Tables() []string {
	var names []string
	seen := map[string]bool{}
	for _, c := range cs.Changes {
		if !seen[c.Table] {
			seen[c.Table] = true
			names = append(names, c.Table)
		}
	}
	return names
}

// key returns the values of the primary key columns of the row the change
// applies to.
func (c *Change) key() []any {
	row := c.Old
	if c.Op == Insert {
		row = c.New
	}
	var k []any
	for i, pk := range c.PK {
		if pk {
			k = append(k, row[i])
		}
	}
	return k
}

func keyString(vals []any) string {
	var b strings.Builder
	for _, v := range vals {
		switch x := v.(type) {
		case nil:
			b.WriteString("n;")
		case int64:
			fmt.Fprintf(&b, "r%d;", x)
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
				fmt.Fprintf(&b, "r%d;", int64(x))
			} else {
				fmt.Fprintf(&b, "r%v;", x)
			}
		case string:
			fmt.Fprintf(&b, "t%d:%s;", len(x), x)
		case []byte:
			fmt.Fprintf(&b, "b%x;", x)
		default:
			fmt.Fprintf(&b, "?%v;", x)
		}
	}
	return b.String()
}

// valuesEqual compares two stored values the way the engine does: numbers
// by value regardless of storage class, text and blobs bytewise.
func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y || (math.IsNaN(x) && math.IsNaN(y))
		}
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return false
}

func clone(vals []any) []any {
	if vals == nil {
		return nil
	}
	out := make([]any, len(vals))
	copy(out, vals)
	return out
}

func cloneMask(m []bool) []bool {
	if m == nil {
		return nil
	}
	out := make([]bool, len(m))
	copy(out, m)
	return out
}

// diffMask marks the columns where old and new differ.
func diffMask(old, new []any) ([]bool, bool) {
	mask := make([]bool, len(old))
	changed := false
	for i := range old {
		if !valuesEqual(old[i], new[i]) {
			mask[i] = true
			changed = true
		}
	}
	return mask, changed
}

// toPatch reduces a full change to its patchset form.
func toPatch(c Change) Change {
	p := c
	p.PK = cloneMask(c.PK)
	switch c.Op {
	case Delete:
		p.Old = pkOnly(c.Old, c.PK)
	case Update:
		p.Old = pkOnly(c.Old, c.PK)
		p.New = make([]any, len(c.New))
		for i, m := range c.Mask {
			if m {
				p.New[i] = c.New[i]
			}
		}
		p.Mask = cloneMask(c.Mask)
	}
	return p
}

func pkOnly(row []any, pk []bool) []any {
	out := make([]any, len(row))
	for i, isPK := range pk {
		if isPK {
			out[i] = row[i]
		}
	}
	return out
}

// ToPatchset converts a changeset into a patchset.
func (cs *Changeset) ToPatchset() *Changeset {
	if cs.Patch {
		return cs
	}
	out := &Changeset{Patch: true, Changes: make([]Change, len(cs.Changes))}
	for i, c := range cs.Changes {
		out.Changes[i] = toPatch(c)
	}
	return out
}
