package changeset

import (
	"io"

	"github.com/Nileshshinde09/cortex/core/errors"
)

// Iterator walks the changes of a changeset one at a time, either from
// memory (Start) or straight off a stream (StartStream).
type Iterator struct {
	next  func() (*Change, error)
	cur   *Change
	err   error
	patch bool
}

// Start iterates over cs.
func Start(cs *Changeset) *Iterator {
	i := 0
	return &Iterator{
		patch: cs.Patch,
		next: func() (*Change, error) {
			if i >= len(cs.Changes) {
				return nil, io.EOF
			}
			c := &cs.Changes[i]
			i++
			return c, nil
		},
	}
}

// StartStream iterates over an encoded changeset without loading it all.
func StartStream(r io.Reader) (*Iterator, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	return &Iterator{patch: d.patch, next: d.next}, nil
}

// Next advances to the next change. It returns false at the end or on
// error; check Err.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	c, err := it.next()
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		it.cur = nil
		return false
	}
	it.cur = c
	return true
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Patch reports whether the changeset being iterated is a patchset.
func (it *Iterator) Patch() bool { return it.patch }

// Change returns the current change.
func (it *Iterator) Change() *Change { return it.cur }

// Op returns the table, column count, operation and indirect flag of the
// current change.
func (it *Iterator) Op() (table string, columns int, op Op, indirect bool, err error) {
	if it.cur == nil {
		return "", 0, 0, false, errors.New("changeset_op", errors.MISUSE, "no current change")
	}
	return it.cur.Table, len(it.cur.Columns), it.cur.Op, it.cur.Indirect, nil
}

// PK returns the primary key flags of the current change's table.
func (it *Iterator) PK() ([]bool, error) {
	if it.cur == nil {
		return nil, errors.New("changeset_pk", errors.MISUSE, "no current change")
	}
	return it.cur.PK, nil
}

// Old returns column i of the row before the change. Only DELETE and
// UPDATE changes have one.
func (it *Iterator) Old(i int) (any, error) {
	if it.cur == nil || it.cur.Op == Insert {
		return nil, errors.New("changeset_old", errors.MISUSE, "")
	}
	if i < 0 || i >= len(it.cur.Old) {
		return nil, errors.New("changeset_old", errors.RANGE, "")
	}
	return it.cur.Old[i], nil
}

// New returns column i of the row after the change. Only INSERT and
// UPDATE changes have one. For an UPDATE, ok is false when the column did
// not change.
func (it *Iterator) New(i int) (v any, ok bool, err error) {
	if it.cur == nil || it.cur.Op == Delete {
		return nil, false, errors.New("changeset_new", errors.MISUSE, "")
	}
	if i < 0 || i >= len(it.cur.New) {
		return nil, false, errors.New("changeset_new", errors.RANGE, "")
	}
	if it.cur.Op == Update && !it.cur.Mask[i] {
		return nil, false, nil
	}
	return it.cur.New[i], true, nil
}
