package table

import (
	"fmt"
	"strings"
)

// ErrColumnNotFound distinguishes a malformed destination schema from an
// ordinary no-match lookup. Lookups against a missing return column fail
// loudly instead of answering nil.
var ErrColumnNotFound = fmt.Errorf("table: column not found")

// Lookup finds the first row whose matchColumn equals matchValue and returns
// that row's returnColumn cell. Comparison is case-insensitive on the string
// forms of both sides. Returns nil when the table is empty, matchValue is
// nil, or no row matches.
func Lookup(t *Table, matchColumn string, matchValue any, returnColumn string) (any, error) {
	if t == nil || len(t.Rows) == 0 || matchValue == nil {
		return nil, nil
	}
	if !t.HasColumn(returnColumn) {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, returnColumn)
	}
	want := strings.ToLower(Stringify(matchValue))
	for _, r := range t.Rows {
		got, ok := r[matchColumn]
		if !ok || got == nil {
			continue
		}
		if strings.ToLower(Stringify(got)) == want {
			return r[returnColumn], nil
		}
	}
	return nil, nil
}
