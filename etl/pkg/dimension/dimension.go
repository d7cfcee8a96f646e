// Package dimension synchronizes the dimension tables of the destination
// star schema before fact generation: distinct values found in the source
// are upserted with next-available surrogate keys, and the company/country
// relationship is established. Dimension tables grow across runs; nothing is
// ever deleted, so surrogate IDs only move forward.
package dimension

import (
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

// Synchronizer applies dimension upserts for one transformation run.
type Synchronizer struct {
	log   *slog.Logger
	clock clockwork.Clock
}

// New returns a Synchronizer stamping created_at/updated_at from the given
// clock.
func New(log *slog.Logger, clock clockwork.Clock) *Synchronizer {
	return &Synchronizer{log: log, clock: clock}
}

// containsValue reports whether any existing cell of valueColumn contains
// value as a substring. This reproduces the containment semantics the
// destination tables were built with: "USD" counts as present when any row
// holds "USD" inside its value, so re-inserting "US" after "USD" is a no-op.
// Exact-match dedup would behave differently; see the validation report for
// where this under-deduplicates.
func containsValue(t *table.Table, valueColumn, value string) bool {
	for _, r := range t.Rows {
		cell, ok := r[valueColumn]
		if !ok || cell == nil {
			continue
		}
		if strings.Contains(table.Stringify(cell), value) {
			return true
		}
	}
	return false
}

// UpsertValue appends one row for value unless an existing row's
// valueColumn already contains it. The new row's ID is max(existing)+1, or 1
// for an empty table. The input table is not mutated.
func (s *Synchronizer) UpsertValue(existing *table.Table, value, valueColumn, idColumn string) *table.Table {
	out := existing.Clone()
	if out == nil {
		out = table.New(idColumn, valueColumn, "created_at", "updated_at")
	}
	value = strings.TrimSpace(value)
	if value == "" || containsValue(out, valueColumn, value) {
		return out
	}
	now := s.clock.Now()
	id := out.MaxInt(idColumn) + 1
	out.Append(table.Row{
		idColumn:     id,
		valueColumn:  value,
		"created_at": now,
		"updated_at": now,
	})
	s.log.Debug("dimension: inserted row", "column", valueColumn, "value", value, "id", id)
	return out
}

// UpsertDistinctValues upserts every distinct non-null value of the named
// source column. When the mapping for factColumn is absent, or names a
// column the source does not have, the destination table passes through
// unchanged.
func (s *Synchronizer) UpsertDistinctValues(existing *table.Table, source *table.Table,
	m *mapping.Validated, factColumn, valueColumn, idColumn string) *table.Table {

	srcCol := m.SourceColumn(factColumn)
	if srcCol == "" || !source.HasColumn(srcCol) {
		return existing.Clone()
	}
	out := existing.Clone()
	for _, v := range source.DistinctValues(srcCol) {
		out = s.UpsertValue(out, table.Stringify(v), valueColumn, idColumn)
	}
	return out
}

// SyncCountry upserts the run's country literal into D_Country.
func (s *Synchronizer) SyncCountry(existing *table.Table, country string) *table.Table {
	return s.UpsertValue(existing, country, "CountryName", "CountryID")
}

// SyncCompany upserts the run's company literal into D_Company.
func (s *Synchronizer) SyncCompany(existing *table.Table, company string) *table.Table {
	return s.UpsertValue(existing, company, "CompanyName", "CompanyID")
}

// SyncCurrency upserts the distinct currency codes referenced by the source.
func (s *Synchronizer) SyncCurrency(existing *table.Table, source *table.Table, m *mapping.Validated) *table.Table {
	return s.UpsertDistinctValues(existing, source, m, "CurrencyID", "CurrencyCode", "CurrencyID")
}

// SyncProvider upserts the distinct emission-source providers referenced by
// the source.
func (s *Synchronizer) SyncProvider(existing *table.Table, source *table.Table, m *mapping.Validated) *table.Table {
	return s.UpsertDistinctValues(existing, source, m,
		"ActivityEmissionSourceProviderID", "ProviderName", "ActivityEmissionSourceProviderID")
}

// SyncUnit upserts distinct units, but only for consumption-based runs.
// Expense-based runs keep the destination unit table untouched.
func (s *Synchronizer) SyncUnit(existing *table.Table, source *table.Table,
	m *mapping.Validated, method mapping.CalcMethod) *table.Table {

	if method != mapping.CalcConsumptionBased {
		return existing.Clone()
	}
	return s.UpsertDistinctValues(existing, source, m, "UnitID", "UnitName", "UnitID")
}

// RelateCountryCompany sets the country's surrogate ID as the CountryID
// foreign key on the matching company row and bumps its updated_at. No-op
// when the country is not present in the country table.
func (s *Synchronizer) RelateCountryCompany(companies, countries *table.Table, company, country string) *table.Table {
	out := companies.Clone()
	var countryID any
	for _, r := range countries.Rows {
		if table.Stringify(r["CountryName"]) == country {
			countryID = r["CountryID"]
			break
		}
	}
	if countryID == nil {
		return out
	}
	updated := false
	for _, r := range out.Rows {
		if table.Stringify(r["CompanyName"]) == company {
			r["CountryID"] = countryID
			r["updated_at"] = s.clock.Now()
			updated = true
		}
	}
	if updated && !out.HasColumn("CountryID") {
		out.Columns = append(out.Columns, "CountryID")
	}
	return out
}
