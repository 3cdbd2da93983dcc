package cortex

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the storage class of a value.
type ColumnType int

const (
	Integer ColumnType = 1
	Float   ColumnType = 2
	Text    ColumnType = 3
	Blob    ColumnType = 4
	Null    ColumnType = 5
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	case Null:
		return "NULL"
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// TypeOf reports the storage class of a normalized value.
func TypeOf(v any) ColumnType {
	switch v.(type) {
	case nil:
		return Null
	case int64:
		return Integer
	case float64:
		return Float
	case string:
		return Text
	case []byte:
		return Blob
	}
	return Text
}

// Normalize maps a driver or caller value onto one of the five storage
// classes: int64, float64, string, []byte or nil. Byte slices are copied.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, string:
		return x
	case []byte:
		if x == nil {
			return []byte{}
		}
		b := make([]byte, len(x))
		copy(b, x)
		return b
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return formatTime(x, "")
	}
	return fmt.Sprint(v)
}

// normalizeColumn is Normalize for a value read from a result column with
// the given declared type.
func normalizeColumn(v any, declType string) any {
	if t, ok := v.(time.Time); ok {
		return formatTime(t, declType)
	}
	return Normalize(v)
}

// Both drivers hand back the text of DATE, DATETIME and TIMESTAMP columns
// as time.Time. formatTime writes it back in the engine's date and time
// layout: the date alone for a DATE at midnight, and a zone offset only
// when it is not UTC.
func formatTime(t time.Time, declType string) string {
	_, offset := t.Zone()
	midnight := t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	if offset == 0 && midnight && strings.EqualFold(declType, "DATE") {
		return t.Format("2006-01-02")
	}
	if offset == 0 {
		return t.Format("2006-01-02 15:04:05.999999999")
	}
	return t.Format("2006-01-02 15:04:05.999999999-07:00")
}

// Row is one fetched row keyed by column name.
type Row map[string]any

// OrderedRow keeps column order for rendering.
type OrderedRow struct {
	Columns []string
	Values  []any
}

// Map converts the row to a Row.
func (r OrderedRow) Map() Row {
	m := make(Row, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// String renders the row as a JSON object with columns in query order.
// Blobs are rendered as hex strings prefixed with x'.
func (r OrderedRow) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		key, _ := json.Marshal(c)
		b.Write(key)
		b.WriteString(": ")
		b.WriteString(renderValue(r.Values[i]))
	}
	b.WriteByte('}')
	return b.String()
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return fmt.Sprintf("\"x'%X'\"", x)
	case string:
		s, _ := json.Marshal(x)
		return string(s)
	}
	s, _ := json.Marshal(v)
	return string(s)
}

// RenderRow renders a Row with keys sorted, for callers that lost the
// column order.
func RenderRow(row Row) string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	or := OrderedRow{Columns: cols, Values: make([]any, len(cols))}
	for i, c := range cols {
		or.Values[i] = row[c]
	}
	return or.String()
}

// ResultSet is a positional query result.
type ResultSet struct {
	Columns []string `json:"columns"`
	Types   []string `json:"types"`
	Rows    [][]any  `json:"rows"`
}

// Ordered returns row i with its column names.
func (rs *ResultSet) Ordered(i int) OrderedRow {
	return OrderedRow{Columns: rs.Columns, Values: rs.Rows[i]}
}

// Maps converts every row to a Row.
func (rs *ResultSet) Maps() []Row {
	rows := make([]Row, len(rs.Rows))
	for i := range rs.Rows {
		rows[i] = rs.Ordered(i).Map()
	}
	return rows
}

// Result describes the effect of an Exec.
type Result struct {
	RowsAffected int64 `json:"rows_affected"`
	LastInsertID int64 `json:"last_insert_id"`
}
