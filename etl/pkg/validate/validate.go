// Package validate checks produced tables against the declared destination
// schema after a run: column-set equality, nominal type compatibility, null
// counts and primary-key duplication. Findings are collected into a report;
// nothing here mutates or rolls back the produced tables.
package validate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/verdantlabs/carbonetl/etl/pkg/metrics"
	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

// Check types appearing in a report.
const (
	CheckSchema     = "Schema"
	CheckNullValues = "Null Values"
	CheckDuplicates = "Duplicates"
)

// Issue is one validation finding.
type Issue struct {
	CheckType   string `json:"check_type"`
	Table       string `json:"table"`
	Description string `json:"description"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.CheckType, i.Table, i.Description)
}

// Tables validates every produced table against the schema and returns the
// collected issues. An empty result means the output is clean.
func Tables(log *slog.Logger, produced map[string]*table.Table, schemaMap schema.Map) []Issue {
	var issues []Issue

	names := make([]string, 0, len(produced))
	for n := range produced {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		t := produced[name]
		decl, ok := schemaMap[name]
		if !ok {
			issues = append(issues, Issue{CheckSchema, name, fmt.Sprintf("table %s not found in schema", name)})
			continue
		}
		issues = append(issues, checkColumns(name, t, decl)...)
		issues = append(issues, checkTypes(name, t, decl)...)
		issues = append(issues, checkNulls(name, t)...)
		issues = append(issues, checkDuplicates(name, t, decl)...)
	}

	for _, i := range issues {
		metrics.ValidationIssues.WithLabelValues(i.CheckType).Inc()
	}
	if len(issues) > 0 {
		log.Warn("validate: issues found", "count", len(issues))
	}
	return issues
}

func checkColumns(name string, t *table.Table, decl schema.Table) []Issue {
	var issues []Issue
	actual := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		actual[c] = struct{}{}
	}

	var missing []string
	for _, c := range decl.Columns {
		if _, ok := actual[c]; !ok {
			missing = append(missing, c)
		}
	}
	var extra []string
	for _, c := range t.Columns {
		if !decl.HasColumn(c) {
			extra = append(extra, c)
		}
	}
	if len(missing) > 0 {
		issues = append(issues, Issue{CheckSchema, name, "missing columns: " + strings.Join(missing, ", ")})
	}
	if len(extra) > 0 {
		issues = append(issues, Issue{CheckSchema, name, "extra columns: " + strings.Join(extra, ", ")})
	}
	return issues
}

func checkTypes(name string, t *table.Table, decl schema.Table) []Issue {
	var issues []Issue
	for _, col := range t.Columns {
		expected := decl.Datatype(col)
		if expected == "" {
			continue // extra column, reported separately
		}
		actual := observedType(t, col)
		if actual == "" {
			continue // no non-null cells to judge
		}
		if !compatibleTypes(actual, expected) {
			issues = append(issues, Issue{CheckSchema, name,
				fmt.Sprintf("column '%s' has type %s, expected %s", col, actual, expected)})
		}
	}
	return issues
}

func checkNulls(name string, t *table.Table) []Issue {
	var issues []Issue
	for _, col := range t.Columns {
		nulls := 0
		for _, r := range t.Rows {
			if v, ok := r[col]; !ok || v == nil {
				nulls++
			}
		}
		if nulls > 0 {
			issues = append(issues, Issue{CheckNullValues, name,
				fmt.Sprintf("column '%s' has %d null values", col, nulls)})
		}
	}
	return issues
}

func checkDuplicates(name string, t *table.Table, decl schema.Table) []Issue {
	pk := decl.PrimaryKey
	if pk == "" && len(decl.Columns) > 0 {
		pk = decl.Columns[0]
	}
	if pk == "" {
		return nil
	}
	if !t.HasColumn(pk) {
		return []Issue{{CheckDuplicates, name, fmt.Sprintf("primary key column %s is missing from the data", pk)}}
	}

	counts := make(map[string]int, t.Len())
	order := make([]string, 0)
	for _, r := range t.Rows {
		key := table.Stringify(r[pk])
		if counts[key] == 1 {
			order = append(order, key)
		}
		counts[key]++
	}
	var dups []string
	total := 0
	for _, key := range order {
		dups = append(dups, key)
		total += counts[key]
	}
	if total == 0 {
		return nil
	}
	return []Issue{
		{CheckDuplicates, name, fmt.Sprintf("found %d duplicate records for primary key column: %s", total, pk)},
		{CheckDuplicates, name, "duplicate values: " + strings.Join(dups, ", ")},
	}
}

// observedType reports the dominant in-memory type of a column's non-null
// cells, or "" when all cells are null.
func observedType(t *table.Table, col string) string {
	for _, r := range t.Rows {
		switch r[col].(type) {
		case nil:
			continue
		case int, int64:
			return "integer"
		case float32, float64:
			return "float"
		case string:
			return "string"
		case time.Time:
			return "datetime"
		case bool:
			return "boolean"
		default:
			return fmt.Sprintf("%T", r[col])
		}
	}
	return ""
}

// compatibleTypes maps in-memory cell types onto the nominal datatype names
// a destination schema declares.
func compatibleTypes(actual, expected string) bool {
	expected = strings.ToLower(expected)
	if actual == expected {
		return true
	}
	compat := map[string][]string{
		"integer":  {"int", "integer", "bigint", "smallint"},
		"float":    {"float", "decimal", "numeric", "double", "real"},
		"string":   {"string", "varchar", "text", "char", "nvarchar"},
		"datetime": {"datetime", "timestamp", "date"},
		"boolean":  {"boolean", "bit"},
	}
	for _, e := range compat[actual] {
		if strings.Contains(expected, e) {
			return true
		}
	}
	// Surrogate keys round-trip through workbooks as floats.
	if actual == "integer" {
		for _, e := range compat["float"] {
			if strings.Contains(expected, e) {
				return true
			}
		}
	}
	return false
}
