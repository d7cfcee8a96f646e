// Package table provides the in-memory table model shared by every stage of
// the transformation pipeline. A Table is an ordered collection of rows, each
// mapping a column name to a typed scalar (int64, float64, string, time.Time
// or nil). Column order and row order are both significant: surrogate keys
// and first-match lookups depend on them.
package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row maps a column name to a scalar cell value. A missing key and an
// explicit nil value are both treated as null.
type Row map[string]any

// Table holds rows in insertion order. Primary-key uniqueness is maintained
// by construction, not enforced here.
type Table struct {
	Columns []string
	Rows    []Row
}

// New returns an empty table with the given column order.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Clone returns a deep-enough copy for one transformation run: rows are
// copied so appends and cell updates on the clone never leak back into the
// destination snapshot it came from.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, 0, len(t.Rows)),
	}
	for _, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether the table declares the named column.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds a row, extending the declared column set with any new keys so
// writers always see a complete header.
func (t *Table) Append(r Row) {
	for k := range r {
		if !t.HasColumn(k) {
			t.Columns = append(t.Columns, k)
		}
	}
	t.Rows = append(t.Rows, r)
}

// DistinctValues returns the distinct non-null values of a column in
// first-seen order. String forms are used for distinctness so mixed numeric
// and string cells collapse the way the source data reads.
func (t *Table) DistinctValues(column string) []any {
	if t == nil || !t.HasColumn(column) {
		return nil
	}
	seen := make(map[string]struct{}, len(t.Rows))
	out := make([]any, 0, len(t.Rows))
	for _, r := range t.Rows {
		v, ok := r[column]
		if !ok || v == nil {
			continue
		}
		key := Stringify(v)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// MaxInt returns the largest integer value in a column, or 0 when the table
// is empty or the column holds no numeric cells. Float cells are truncated,
// matching how surrogate IDs round-trip through workbook loads.
func (t *Table) MaxInt(column string) int64 {
	var max int64
	if t == nil {
		return 0
	}
	for _, r := range t.Rows {
		v, ok := AsInt(r[column])
		if !ok {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}

// Stringify renders a cell value the way lookups and dedup compare it.
// Floats that carry integer values print without a fractional part so a
// workbook-loaded 42.0 matches a mapped "42".
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return Stringify(float64(x))
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// AsInt coerces a cell to int64. Strings parse leniently ("12", "12.0").
func AsInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case float32:
		return int64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// dateLayouts are tried in order when coercing string cells to dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"20060102",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// AsTime coerces a cell to a date. time.Time cells pass through; strings are
// parsed against the supported layouts. Returns false for anything else.
func AsTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// AsFloat coerces a cell to float64. Strings with thousands separators cast
// after stripping commas, which is how amounts arrive from spreadsheets.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
