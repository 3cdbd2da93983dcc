// Package fts manages FTS5 full-text indexes in a cortex database: creating
// them with a chosen tokenizer, adding and removing documents, and ranked
// searches with highlighting and snippets from the built-in auxiliary
// functions.
//
// The pure-Go engine ships FTS5. The cgo engine needs the sqlite_fts5
// build tag; without it Create fails with "no such module: fts5".
package fts

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// Tokenizers built into FTS5.
const (
	Unicode61 = "unicode61"
	ASCII     = "ascii"
	Porter    = "porter"
	Trigram   = "trigram"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures a new index.
type Options struct {
	// Tokenizer is one of the built-in tokenizers. Porter stems words and
	// wraps unicode61. Empty means unicode61.
	Tokenizer string
	// RemoveDiacritics strips accents when tokenizing with unicode61 or
	// porter.
	RemoveDiacritics bool
	// Prefix lists prefix lengths to index for fast prefix queries.
	Prefix []int
	// Unindexed names columns stored but not searchable.
	Unindexed []string
}

func (o *Options) tokenize() (string, error) {
	switch o.Tokenizer {
	case "", Unicode61, ASCII, Trigram:
	case Porter:
		if o.RemoveDiacritics {
			return "porter unicode61 remove_diacritics 2", nil
		}
		return "porter unicode61", nil
	default:
		return "", errors.NewValidation("tokenizer", fmt.Sprintf("unknown tokenizer %q", o.Tokenizer))
	}
	tok := o.Tokenizer
	if tok == "" {
		tok = Unicode61
	}
	if o.RemoveDiacritics && tok == Unicode61 {
		tok += " remove_diacritics 2"
	}
	return tok, nil
}

// Index is one FTS5 virtual table.
type Index struct {
	conn    *cortex.Conn
	name    string
	columns []string
}

// Create creates the index name with the given columns.
func Create(ctx context.Context, conn *cortex.Conn, name string, columns []string, opts *Options) (*Index, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := checkIdent("index", name); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errors.NewValidation("columns", "an index needs at least one column")
	}
	unindexed := map[string]bool{}
	for _, c := range opts.Unindexed {
		unindexed[c] = true
	}
	defs := make([]string, 0, len(columns)+2)
	for _, c := range columns {
		if err := checkIdent("column", c); err != nil {
			return nil, err
		}
		if unindexed[c] {
			defs = append(defs, c+" UNINDEXED")
		} else {
			defs = append(defs, c)
		}
	}
	tok, err := opts.tokenize()
	if err != nil {
		return nil, err
	}
	defs = append(defs, "tokenize = '"+tok+"'")
	if len(opts.Prefix) > 0 {
		ps := make([]string, len(opts.Prefix))
		for i, p := range opts.Prefix {
			if p < 1 || p > 999 {
				return nil, errors.NewValidation("prefix", fmt.Sprintf("prefix length %d out of range", p))
			}
			ps[i] = strconv.Itoa(p)
		}
		defs = append(defs, "prefix = '"+strings.Join(ps, " ")+"'")
	}

	q := fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5(%s)", name, strings.Join(defs, ", "))
	if _, err := conn.Exec(ctx, q); err != nil {
		return nil, err
	}
	return &Index{conn: conn, name: name, columns: append([]string(nil), columns...)}, nil
}

// Open returns the existing index name.
func Open(ctx context.Context, conn *cortex.Conn, name string) (*Index, error) {
	if err := checkIdent("index", name); err != nil {
		return nil, err
	}
	row, err := conn.FetchOne(ctx, `SELECT sql FROM cortex_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return nil, err
	}
	if s, _ := row["sql"].(string); !strings.Contains(strings.ToLower(s), "using fts5") {
		return nil, errors.NewNotFound("fts5 index", name)
	}
	rs, err := conn.Query(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", name)
	if err != nil {
		return nil, err
	}
	ix := &Index{conn: conn, name: name}
	for _, r := range rs.Rows {
		if s, ok := r[0].(string); ok {
			ix.columns = append(ix.columns, s)
		}
	}
	return ix, nil
}

func checkIdent(field, s string) error {
	if !identRE.MatchString(s) {
		return errors.NewValidation(field, fmt.Sprintf("invalid identifier %q", s))
	}
	return nil
}

// Name returns the table name.
func (ix *Index) Name() string { return ix.name }

// Columns returns the indexed columns in table order.
func (ix *Index) Columns() []string { return append([]string(nil), ix.columns...) }

// Add stores a document and returns its rowid. values are given in column
// order; missing trailing values are NULL. A rowid of 0 lets the engine
// pick one.
func (ix *Index) Add(ctx context.Context, rowid int64, values ...string) (int64, error) {
	if len(values) > len(ix.columns) {
		return 0, errors.NewValidation("values", fmt.Sprintf("%d values for %d columns", len(values), len(ix.columns)))
	}
	cols := []string{"rowid"}
	args := []any{nil}
	if rowid != 0 {
		args[0] = rowid
	}
	for i, v := range values {
		cols = append(cols, ix.columns[i])
		args = append(args, v)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ix.name, strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	res, err := ix.conn.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// Delete removes the document rowid. Removing a missing document is not
// an error.
func (ix *Index) Delete(ctx context.Context, rowid int64) error {
	_, err := ix.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", ix.name), rowid)
	return err
}

// Count returns the number of documents.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	row, err := ix.conn.FetchOne(ctx, fmt.Sprintf("SELECT count(*) AS n FROM %s", ix.name))
	if err != nil {
		return 0, err
	}
	n, _ := row["n"].(int64)
	return n, nil
}

// Optimize merges the index b-trees into one.
func (ix *Index) Optimize(ctx context.Context) error {
	_, err := ix.conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s(%s) VALUES ('optimize')", ix.name, ix.name))
	return err
}

// Rebuild regenerates the full-text index from the stored content.
func (ix *Index) Rebuild(ctx context.Context) error {
	_, err := ix.conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s(%s) VALUES ('rebuild')", ix.name, ix.name))
	return err
}

// Drop deletes the index table.
func (ix *Index) Drop(ctx context.Context) error {
	_, err := ix.conn.Exec(ctx, "DROP TABLE "+ix.name)
	return err
}

// SearchOptions shapes a search. The zero value returns every match with
// its stored values, best first.
type SearchOptions struct {
	Limit  int
	Offset int
	// Highlight wraps matched terms of column Column in Open and Close.
	Highlight bool
	// Snippet returns a fragment of column Column around the matches,
	// at most Tokens tokens long (default 16) with Ellipsis at cut points.
	Snippet  bool
	Column   int
	Open     string
	Close    string
	Ellipsis string
	Tokens   int
}

func (o *SearchOptions) defaults() {
	if o.Open == "" && o.Close == "" {
		o.Open, o.Close = "[", "]"
	}
	if o.Ellipsis == "" {
		o.Ellipsis = "..."
	}
	if o.Tokens <= 0 {
		o.Tokens = 16
	}
}

// Hit is one search result. Rank is the bm25 score; lower is better.
type Hit struct {
	RowID     int64
	Rank      float64
	Values    map[string]any
	Highlight string
	Snippet   string
}

// Search runs an FTS5 MATCH query. A malformed query fails with the
// engine's syntax error.
func (ix *Index) Search(ctx context.Context, query string, opts *SearchOptions) ([]Hit, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	opts.defaults()
	if opts.Column < 0 || opts.Column >= len(ix.columns) {
		return nil, errors.NewValidation("column", fmt.Sprintf("column %d out of range", opts.Column))
	}

	sel := []string{"rowid AS _rowid", "bm25(" + ix.name + ") AS _rank"}
	args := []any{}
	if opts.Highlight {
		sel = append(sel, fmt.Sprintf("highlight(%s, %d, ?, ?) AS _hl", ix.name, opts.Column))
		args = append(args, opts.Open, opts.Close)
	}
	if opts.Snippet {
		sel = append(sel, fmt.Sprintf("snippet(%s, %d, ?, ?, ?, %d) AS _snip", ix.name, opts.Column, min(opts.Tokens, 64)))
		args = append(args, opts.Open, opts.Close, opts.Ellipsis)
	}
	sel = append(sel, ix.columns...)

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s MATCH ? ORDER BY _rank", strings.Join(sel, ", "), ix.name, ix.name)
	args = append(args, query)
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := ix.conn.Fetch(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		h := Hit{Values: make(map[string]any, len(ix.columns))}
		h.RowID, _ = r["_rowid"].(int64)
		h.Rank, _ = r["_rank"].(float64)
		h.Highlight, _ = r["_hl"].(string)
		h.Snippet, _ = r["_snip"].(string)
		for _, c := range ix.columns {
			h.Values[c] = r[c]
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Quote turns free text into an FTS5 query matching the words as a phrase,
// so punctuation and operators in user input are not interpreted.
func Quote(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}
