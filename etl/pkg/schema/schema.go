// Package schema declares the destination star schema: table names, column
// order, nominal datatypes and the primary-key column. The schema is loaded
// by an external collaborator (see pkg/workbook) and treated as read-only by
// the engine.
package schema

import (
	"errors"
	"fmt"
)

// Canonical destination table names. The engine produces exactly these
// eleven tables per run, in this order.
const (
	TableCompany     = "D_Company"
	TableCountry     = "D_Country"
	TableCategory    = "DE1_ActivityCategory"
	TableSubcategory = "DE1_ActivitySubcategory"
	TableScopes      = "DE1_Scopes"
	TableSource      = "DE1_ActivityEmissionSource"
	TableDate        = "D_Date"
	TableUnit        = "DE1_Unit"
	TableCurrency    = "D_Currency"
	TableProvider    = "DE1_ActivityEmissionSourceProvi"
	TableFact        = "FE1_EmissionActivityData"
)

// OutputOrder is the sheet order of a produced workbook.
var OutputOrder = []string{
	TableCompany,
	TableCountry,
	TableCategory,
	TableSubcategory,
	TableScopes,
	TableSource,
	TableDate,
	TableUnit,
	TableCurrency,
	TableProvider,
	TableFact,
}

// Table describes one destination table. Invariant: len(Columns) ==
// len(Datatypes). PrimaryKey is empty when the table declares none.
type Table struct {
	Columns    []string
	Datatypes  []string
	PrimaryKey string
}

// Map is the declared destination schema, keyed by table name.
type Map map[string]Table

// ErrSchema marks fatal destination-schema defects: the pipeline never
// starts row processing when the schema is unusable.
var ErrSchema = errors.New("schema: invalid destination schema")

// Validate checks structural invariants of the loaded schema.
func (m Map) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("%w: no tables declared", ErrSchema)
	}
	for name, t := range m {
		if len(t.Columns) == 0 {
			return fmt.Errorf("%w: table %s has no columns", ErrSchema, name)
		}
		if len(t.Columns) != len(t.Datatypes) {
			return fmt.Errorf("%w: table %s declares %d columns but %d datatypes",
				ErrSchema, name, len(t.Columns), len(t.Datatypes))
		}
	}
	return nil
}

// RequireTables confirms the schema declares every named table.
func (m Map) RequireTables(names ...string) error {
	for _, n := range names {
		if _, ok := m[n]; !ok {
			return fmt.Errorf("%w: missing table %s", ErrSchema, n)
		}
	}
	return nil
}

// HasColumn reports whether a schema table declares the named column.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Datatype returns the declared datatype for a column, or "" when the
// column is not part of the table.
func (t Table) Datatype(name string) string {
	for i, c := range t.Columns {
		if c == name {
			return t.Datatypes[i]
		}
	}
	return ""
}
