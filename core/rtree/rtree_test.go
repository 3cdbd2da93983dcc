package rtree

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/errors"
)

func newIndex(t *testing.T, dims int) (*cortex.Conn, *Index) {
	t.Helper()
	db, err := cortex.Open(cortex.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.CloseV2() })
	ix, err := Create(context.Background(), db, "zones", dims)
	if err != nil {
		if strings.Contains(err.Error(), "no such module") {
			t.Skip("R*Tree not available in this engine build")
		}
		t.Fatalf("Create() error = %v", err)
	}
	return db, ix
}

func box(minX, minY, maxX, maxY float64) Box {
	return Box{Min: []float64{minX, minY}, Max: []float64{maxX, maxY}}
}

func TestQueries(t *testing.T) {
	_, ix := newIndex(t, 2)
	ctx := context.Background()
	boxes := map[int64]Box{
		1: box(0, 0, 10, 10),
		2: box(5, 5, 15, 15),
		3: box(20, 20, 30, 30),
		4: Point(2, 3),
	}
	for id, b := range boxes {
		if err := ix.Insert(ctx, id, b); err != nil {
			t.Fatalf("Insert(%d) error = %v", id, err)
		}
	}

	tests := []struct {
		name   string
		search func(context.Context, Box) ([]int64, error)
		q      Box
		want   []int64
	}{
		{"overlap corner", ix.Intersecting, box(9, 9, 11, 11), []int64{1, 2}},
		{"overlap point", ix.Intersecting, Point(2, 3), []int64{1, 4}},
		{"touching edge", ix.Intersecting, box(15, 15, 20, 20), []int64{2, 3}},
		{"overlap nothing", ix.Intersecting, box(40, 40, 50, 50), []int64{}},
		{"within large", ix.Within, box(-1, -1, 16, 16), []int64{1, 2, 4}},
		{"within small", ix.Within, box(1, 1, 4, 4), []int64{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.search(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInsertReplaceGetDelete(t *testing.T) {
	_, ix := newIndex(t, 2)
	ctx := context.Background()
	if err := ix.Insert(ctx, 7, box(1, 2, 3, 4)); err != nil {
		t.Fatal(err)
	}
	if err := ix.Insert(ctx, 7, box(10, 20, 30, 40)); err != nil {
		t.Fatal(err)
	}
	b, err := ix.Get(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b, box(10, 20, 30, 40)) {
		t.Errorf("Get() = %+v", b)
	}
	if n, _ := ix.Count(ctx); n != 1 {
		t.Errorf("Count() = %d", n)
	}
	if err := ix.Delete(ctx, 7); err != nil {
		t.Fatal(err)
	}
	var nf *errors.NotFoundError
	if _, err := ix.Get(ctx, 7); !errors.As(err, &nf) {
		t.Errorf("Get after Delete error = %v", err)
	}
}

func TestOpen(t *testing.T) {
	db, _ := newIndex(t, 3)
	ix, err := Open(context.Background(), db, "zones")
	if err != nil {
		t.Fatal(err)
	}
	if ix.Dims() != 3 {
		t.Errorf("Dims() = %d", ix.Dims())
	}
	var nf *errors.NotFoundError
	if _, err := Open(context.Background(), db, "nowhere"); !errors.As(err, &nf) {
		t.Errorf("Open(nowhere) error = %v", err)
	}
}

func TestValidation(t *testing.T) {
	db, ix := newIndex(t, 2)
	ctx := context.Background()
	var ve *errors.ValidationError

	if _, err := Create(ctx, db, "bad", 0); !errors.As(err, &ve) {
		t.Errorf("0 dims error = %v", err)
	}
	if _, err := Create(ctx, db, "bad", MaxDims+1); !errors.As(err, &ve) {
		t.Errorf("too many dims error = %v", err)
	}
	if _, err := Create(ctx, db, "x y", 2); !errors.As(err, &ve) {
		t.Errorf("bad name error = %v", err)
	}
	if err := ix.Insert(ctx, 1, Point(1)); !errors.As(err, &ve) {
		t.Errorf("wrong dims error = %v", err)
	}
	if err := ix.Insert(ctx, 1, box(5, 5, 1, 1)); !errors.As(err, &ve) {
		t.Errorf("inverted box error = %v", err)
	}
	if _, err := ix.Within(ctx, Point(1, 2, 3)); !errors.As(err, &ve) {
		t.Errorf("wrong query dims error = %v", err)
	}
}
