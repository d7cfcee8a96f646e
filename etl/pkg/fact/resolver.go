package fact

import (
	"fmt"
	"strings"

	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

// EmissionIDs is the emission source / unit / emission-factor triple shared
// by every fact row of a run. All three are nil/empty when resolution
// failed; the run still proceeds and produces rows with null emission
// fields.
type EmissionIDs struct {
	SourceID any
	UnitID   any
	FactorID string
}

// Resolved reports whether resolution succeeded.
func (e EmissionIDs) Resolved() bool {
	return e.SourceID != nil
}

// ResolveEmissionIDs resolves the run's emission triple once, before row
// processing. The mapping is scanned (in its deterministic order) for a
// ConsumptionAmount entry whose consumption kind is admissible under the
// calculation method; the matched kind selects the emission source whose
// name ends with it, scoped to the activity subcategory. The emission-factor
// ID is the composite business key "{ISO2}_{SourceName}".
func ResolveEmissionIDs(m *mapping.Validated, activitySubcat string,
	subcategories, emissionSources, countries *table.Table,
	country string, method mapping.CalcMethod) EmissionIDs {

	subcatID, err := table.Lookup(subcategories, "ActivitySubcategoryName", activitySubcat, "ActivitySubcategoryID")
	if err != nil || subcatID == nil {
		return EmissionIDs{}
	}
	iso2, err := table.Lookup(countries, "CountryName", country, "ISO2Code")
	if err != nil {
		return EmissionIDs{}
	}

	suffix := matchSuffix(m, method)
	if suffix == mapping.KindUnknown {
		return EmissionIDs{}
	}

	row := sourceBySuffix(emissionSources, subcatID, string(suffix))
	if row == nil {
		return EmissionIDs{}
	}

	name := table.Stringify(row["ActivityEmissionSourceName"])
	return EmissionIDs{
		SourceID: row["ActivityEmissionSourceID"],
		UnitID:   row["UnitID"],
		FactorID: fmt.Sprintf("%s_%s", table.Stringify(iso2), name),
	}
}

// matchSuffix finds the first ConsumptionAmount mapping entry whose kind is
// admissible for the calculation method.
func matchSuffix(m *mapping.Validated, method mapping.CalcMethod) mapping.ConsumptionKind {
	admissible := method.AdmissibleKinds()
	for _, factCol := range m.Order {
		if !strings.Contains(factCol, "ConsumptionAmount") {
			continue
		}
		kind := m.Kind(factCol)
		for _, a := range admissible {
			if kind == a {
				return kind
			}
		}
	}
	return mapping.KindUnknown
}

// sourceBySuffix returns the first emission-source row (table order) within
// the subcategory whose name ends with the suffix, case-insensitively.
func sourceBySuffix(emissionSources *table.Table, subcatID any, suffix string) table.Row {
	want := table.Stringify(subcatID)
	suffix = strings.ToLower(suffix)
	for _, r := range emissionSources.Rows {
		if table.Stringify(r["ActivitySubcategoryID"]) != want {
			continue
		}
		name := strings.ToLower(table.Stringify(r["ActivityEmissionSourceName"]))
		if strings.HasSuffix(name, suffix) {
			return r
		}
	}
	return nil
}
