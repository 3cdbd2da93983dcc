// Package rtree stores bounding boxes in R*Tree virtual tables and answers
// overlap and containment queries against them.
//
// Coordinates are kept as 32-bit floats by the engine, rounded outward,
// so a stored box may be slightly larger than the one inserted.
package rtree

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// MaxDims is the most dimensions an R*Tree index supports.
const MaxDims = 5

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Box is an axis-aligned bounding box. Min and Max hold one coordinate per
// dimension.
type Box struct {
	Min []float64
	Max []float64
}

// Point returns the degenerate box holding only the given coordinates.
func Point(coords ...float64) Box {
	return Box{Min: append([]float64(nil), coords...), Max: append([]float64(nil), coords...)}
}

func (b Box) check(dims int) error {
	if len(b.Min) != dims || len(b.Max) != dims {
		return errors.NewValidation("box", fmt.Sprintf("box has %d/%d coordinates, index has %d dimensions", len(b.Min), len(b.Max), dims))
	}
	for i := range b.Min {
		if b.Min[i] > b.Max[i] {
			return errors.NewValidation("box", fmt.Sprintf("dimension %d: min %g > max %g", i, b.Min[i], b.Max[i]))
		}
	}
	return nil
}

// Index is one R*Tree table with columns id, min0, max0, min1, max1, ...
type Index struct {
	conn *cortex.Conn
	name string
	dims int
}

// Create creates the index name with dims dimensions.
func Create(ctx context.Context, conn *cortex.Conn, name string, dims int) (*Index, error) {
	if !identRE.MatchString(name) {
		return nil, errors.NewValidation("index", fmt.Sprintf("invalid identifier %q", name))
	}
	if dims < 1 || dims > MaxDims {
		return nil, errors.NewValidation("dims", fmt.Sprintf("dimensions must be 1..%d, got %d", MaxDims, dims))
	}
	cols := []string{"id"}
	for i := 0; i < dims; i++ {
		cols = append(cols, fmt.Sprintf("min%d", i), fmt.Sprintf("max%d", i))
	}
	q := fmt.Sprintf("CREATE VIRTUAL TABLE %s USING rtree(%s)", name, strings.Join(cols, ", "))
	if _, err := conn.Exec(ctx, q); err != nil {
		return nil, err
	}
	return &Index{conn: conn, name: name, dims: dims}, nil
}

// Open returns the existing index name, reading its dimensions from the
// table definition.
func Open(ctx context.Context, conn *cortex.Conn, name string) (*Index, error) {
	if !identRE.MatchString(name) {
		return nil, errors.NewValidation("index", fmt.Sprintf("invalid identifier %q", name))
	}
	row, err := conn.FetchOne(ctx, `SELECT sql FROM cortex_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return nil, err
	}
	if s, _ := row["sql"].(string); !strings.Contains(strings.ToLower(s), "using rtree") {
		return nil, errors.NewNotFound("rtree index", name)
	}
	row, err = conn.FetchOne(ctx, "SELECT count(*) AS n FROM pragma_table_info(?)", name)
	if err != nil {
		return nil, err
	}
	n, _ := row["n"].(int64)
	return &Index{conn: conn, name: name, dims: int(n-1) / 2}, nil
}

// Dims returns the number of dimensions.
func (ix *Index) Dims() int { return ix.dims }

func (ix *Index) coords(b Box) []any {
	args := make([]any, 0, 2*ix.dims)
	for i := 0; i < ix.dims; i++ {
		args = append(args, b.Min[i], b.Max[i])
	}
	return args
}

// Insert stores b under id, replacing any box already stored there.
func (ix *Index) Insert(ctx context.Context, id int64, b Box) error {
	if err := b.check(ix.dims); err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT OR REPLACE INTO %s VALUES (?%s)", ix.name, strings.Repeat(", ?", 2*ix.dims))
	_, err := ix.conn.Exec(ctx, q, append([]any{id}, ix.coords(b)...)...)
	return err
}

// Delete removes id. Removing a missing id is not an error.
func (ix *Index) Delete(ctx context.Context, id int64) error {
	_, err := ix.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", ix.name), id)
	return err
}

// Get returns the box stored under id, or a NotFoundError.
func (ix *Index) Get(ctx context.Context, id int64) (Box, error) {
	rs, err := ix.conn.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", ix.name), id)
	if err != nil {
		return Box{}, err
	}
	if len(rs.Rows) == 0 {
		return Box{}, errors.NewNotFound("box", fmt.Sprint(id))
	}
	row := rs.Rows[0]
	b := Box{Min: make([]float64, ix.dims), Max: make([]float64, ix.dims)}
	for i := 0; i < ix.dims; i++ {
		b.Min[i] = toFloat(row[1+2*i])
		b.Max[i] = toFloat(row[2+2*i])
	}
	return b, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

// Intersecting returns the ids of boxes that overlap b, in id order.
// Touching edges count as overlap.
func (ix *Index) Intersecting(ctx context.Context, b Box) ([]int64, error) {
	return ix.search(ctx, b, "min%[1]d <= ? AND max%[1]d >= ?", true)
}

// Within returns the ids of boxes entirely inside b, in id order.
func (ix *Index) Within(ctx context.Context, b Box) ([]int64, error) {
	return ix.search(ctx, b, "min%[1]d >= ? AND max%[1]d <= ?", false)
}

func (ix *Index) search(ctx context.Context, b Box, cond string, swap bool) ([]int64, error) {
	if err := b.check(ix.dims); err != nil {
		return nil, err
	}
	where := make([]string, ix.dims)
	args := make([]any, 0, 2*ix.dims)
	for i := 0; i < ix.dims; i++ {
		where[i] = fmt.Sprintf(cond, i)
		if swap {
			args = append(args, b.Max[i], b.Min[i])
		} else {
			args = append(args, b.Min[i], b.Max[i])
		}
	}
	q := fmt.Sprintf("SELECT id FROM %s WHERE %s ORDER BY id", ix.name, strings.Join(where, " AND "))
	rs, err := ix.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rs.Rows))
	for _, r := range rs.Rows {
		if id, ok := r[0].(int64); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Count returns the number of stored boxes.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	row, err := ix.conn.FetchOne(ctx, fmt.Sprintf("SELECT count(*) AS n FROM %s", ix.name))
	if err != nil {
		return 0, err
	}
	n, _ := row["n"].(int64)
	return n, nil
}
