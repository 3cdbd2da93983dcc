package changeset

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/Nileshshinde09/cortex/core/errors"
)

// Format identifies the changeset wire format.
const Format = "cortex-changeset"

// The wire format is JSON lines: a header object followed by one object
// per change. Integers and text map to JSON numbers and strings; reals
// and blobs are wrapped as {"real": "<decimal>"} and {"blob": "<base64>"}
// so every value round-trips with its storage class.

type header struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
	Patch   bool   `json:"patch"`
}

type wireChange struct {
	Table    string   `json:"table"`
	Op       string   `json:"op"`
	Columns  []string `json:"columns"`
	PK       []bool   `json:"pk"`
	Old      []value  `json:"old,omitempty"`
	New      []value  `json:"new,omitempty"`
	Mask     []bool   `json:"mask,omitempty"`
	Indirect bool     `json:"indirect,omitempty"`
}

type value struct{ v any }

type wrapped struct {
	Real *string `json:"real,omitempty"`
	Blob *string `json:"blob,omitempty"`
}

func (v value) MarshalJSON() ([]byte, error) {
	switch x := v.v.(type) {
	case nil:
		return []byte("null"), nil
	case int64:
		return strconv.AppendInt(nil, x, 10), nil
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		return json.Marshal(wrapped{Real: &s})
	case string:
		return json.Marshal(x)
	case []byte:
		s := base64.StdEncoding.EncodeToString(x)
		return json.Marshal(wrapped{Blob: &s})
	}
	return nil, fmt.Errorf("unsupported value type %T", v.v)
}

func (v *value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		v.v = nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.v = s
	case len(data) > 0 && data[0] == '{':
		var w wrapped
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		switch {
		case w.Real != nil:
			f, err := parseReal(*w.Real)
			if err != nil {
				return err
			}
			v.v = f
		case w.Blob != nil:
			b, err := base64.StdEncoding.DecodeString(*w.Blob)
			if err != nil {
				return err
			}
			v.v = b
		default:
			return fmt.Errorf("unknown value object %s", data)
		}
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %s", data)
		}
		v.v = n
	}
	return nil
}

func parseReal(s string) (float64, error) {
	switch s {
	case "+Inf", "Inf":
		return math.Inf(1), nil
	case "-Inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

func wrapValues(vals []any) []value {
	if vals == nil {
		return nil
	}
	out := make([]value, len(vals))
	for i, v := range vals {
		out[i] = value{v}
	}
	return out
}

func unwrapValues(vals []value) []any {
	if vals == nil {
		return nil
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.v
	}
	return out
}

// Encode writes cs to w.
func (cs *Changeset) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(header{Format: Format, Version: 1, Patch: cs.Patch}); err != nil {
		return err
	}
	for _, c := range cs.Changes {
		wc := wireChange{
			Table:    c.Table,
			Op:       c.Op.String(),
			Columns:  c.Columns,
			PK:       c.PK,
			Old:      wrapValues(c.Old),
			New:      wrapValues(c.New),
			Mask:     c.Mask,
			Indirect: c.Indirect,
		}
		if err := enc.Encode(wc); err != nil {
			return fmt.Errorf("encode change on %s: %w", c.Table, err)
		}
	}
	return bw.Flush()
}

// Decode reads a changeset written by Encode.
func Decode(r io.Reader) (*Changeset, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	cs := &Changeset{Patch: d.patch, Changes: []Change{}}
	for {
		c, err := d.next()
		if err == io.EOF {
			return cs, nil
		}
		if err != nil {
			return nil, err
		}
		cs.Changes = append(cs.Changes, *c)
	}
}

type decoder struct {
	sc    *bufio.Scanner
	patch bool
	line  int
}

func newDecoder(r io.Reader) (*decoder, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	d := &decoder{sc: sc}

	line, err := d.readLine()
	if err == io.EOF {
		return nil, corrupt(0, "empty changeset")
	}
	if err != nil {
		return nil, err
	}
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, corrupt(d.line, err.Error())
	}
	if h.Format != Format {
		return nil, corrupt(d.line, fmt.Sprintf("unknown format %q", h.Format))
	}
	if h.Version != 1 {
		return nil, corrupt(d.line, fmt.Sprintf("unsupported version %d", h.Version))
	}
	d.patch = h.Patch
	return d, nil
}

func (d *decoder) readLine() ([]byte, error) {
	for d.sc.Scan() {
		d.line++
		if line := bytes.TrimSpace(d.sc.Bytes()); len(line) > 0 {
			return line, nil
		}
	}
	if err := d.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (d *decoder) next() (*Change, error) {
	line, err := d.readLine()
	if err != nil {
		return nil, err
	}
	var wc wireChange
	if err := json.Unmarshal(line, &wc); err != nil {
		return nil, corrupt(d.line, err.Error())
	}
	op, err := ParseOp(wc.Op)
	if err != nil {
		return nil, corrupt(d.line, err.Error())
	}
	c := &Change{
		Table:    wc.Table,
		Op:       op,
		Columns:  wc.Columns,
		PK:       wc.PK,
		Old:      unwrapValues(wc.Old),
		New:      unwrapValues(wc.New),
		Mask:     wc.Mask,
		Indirect: wc.Indirect,
	}
	if err := validate(c); err != nil {
		return nil, corrupt(d.line, err.Error())
	}
	return c, nil
}

// validate checks that the slices of c agree with its column count and op.
func validate(c *Change) error {
	n := len(c.Columns)
	if c.Table == "" || n == 0 || len(c.PK) != n {
		return fmt.Errorf("change needs a table, columns and a pk flag per column")
	}
	needOld := c.Op == Delete || c.Op == Update
	needNew := c.Op == Insert || c.Op == Update
	if needOld != (c.Old != nil) || needNew != (c.New != nil) {
		return fmt.Errorf("%s change has wrong old/new rows", c.Op)
	}
	if (c.Old != nil && len(c.Old) != n) || (c.New != nil && len(c.New) != n) {
		return fmt.Errorf("row width does not match %d columns", n)
	}
	if c.Op == Update && len(c.Mask) != n {
		return fmt.Errorf("UPDATE change needs a mask per column")
	}
	return nil
}

func corrupt(line int, msg string) error {
	return errors.New("changeset", errors.CORRUPT, fmt.Sprintf("line %d: %s", line, msg))
}
