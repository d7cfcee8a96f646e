// Package fact synthesizes the emission-activity fact table for one
// transformation run: one output row per source row, referencing every
// dimension by surrogate key, with amounts cast or derived (flight distance)
// from the mapped source columns. Failure policy is degrade-to-null: a
// malformed or unmappable field becomes a null cell, never a row or run
// abort.
package fact

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/verdantlabs/carbonetl/etl/pkg/airport"
	"github.com/verdantlabs/carbonetl/etl/pkg/dimension"
	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/metrics"
	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

// Dimensions bundles the dimension tables a generation run resolves foreign
// keys against. All tables are read-only here.
type Dimensions struct {
	Companies     *table.Table
	Countries     *table.Table
	Categories    *table.Table
	Subcategories *table.Table
	Scopes        *table.Table
	Sources       *table.Table
	Providers     *table.Table
	Units         *table.Table
	Currencies    *table.Table
	Dates         *table.Table
}

// Config configures one fact-generation run.
type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Mapping *mapping.Validated
	Source  *table.Table
	// Existing destination fact table; only its max primary key is read, its
	// rows are never copied into the output.
	Existing   *table.Table
	FactSchema schema.Table
	Dims       Dimensions

	Company        string
	Country        string
	ActivityCat    string
	ActivitySubcat string
	ReportingYear  int
	CalcMethod     mapping.CalcMethod

	Progress ProgressFunc
}

// Validate checks the parts the generator cannot degrade around.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		return errors.New("clock is required")
	}
	if c.Mapping == nil {
		return errors.New("validated mapping is required")
	}
	if c.Source == nil {
		return errors.New("source table is required")
	}
	return nil
}

// Generate produces the fact table for the run. The output starts from an
// empty structure matching the fact schema and holds only newly derived
// rows; primary keys continue from the existing destination's maximum.
func Generate(cfg Config) (*table.Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	start := cfg.Clock.Now()

	out := table.New(cfg.FactSchema.Columns...)
	total := cfg.Source.Len()
	runLabel := cfg.ActivityCat + " - " + cfg.ActivitySubcat

	report := func(processed int, status string) {
		if cfg.Progress != nil {
			cfg.Progress(Progress{
				CurrentTable:     runLabel,
				TotalRecords:     total,
				ProcessedRecords: processed,
				Status:           status,
			})
		}
	}
	report(0, StatusProcessing)

	// Run-scoped resolution: one emission triple shared by every row. A
	// failed resolution still produces rows, with null emission fields.
	ids := ResolveEmissionIDs(cfg.Mapping, cfg.ActivitySubcat,
		cfg.Dims.Subcategories, cfg.Dims.Sources, cfg.Dims.Countries,
		cfg.Country, cfg.CalcMethod)
	if !ids.Resolved() {
		log.Warn("fact: no emission source resolved for run",
			"subcategory", cfg.ActivitySubcat, "method", string(cfg.CalcMethod))
	}

	flight := newFlightResolver(cfg)

	companyID := softLookup(log, cfg.Dims.Companies, "CompanyName", cfg.Company, "CompanyID")
	countryID := softLookup(log, cfg.Dims.Countries, "CountryName", cfg.Country, "CountryID")
	categoryID := softLookup(log, cfg.Dims.Categories, "ActivityCategory", cfg.ActivityCat, "ActivityCategoryID")
	subcatID := softLookup(log, cfg.Dims.Subcategories, "ActivitySubcategoryName", cfg.ActivitySubcat, "ActivitySubcategoryID")
	scopeID := softLookup(log, cfg.Dims.Categories, "ActivityCategory", cfg.ActivityCat, "ScopeID")

	nextID := cfg.Existing.MaxInt("EmissionActivityID")

	for i, srcRow := range cfg.Source.Rows {
		nextID++
		row := table.Row{
			"EmissionActivityID":       nextID,
			"CompanyID":                companyID,
			"CountryID":                countryID,
			"ActivityCategoryID":       categoryID,
			"ActivitySubcategoryID":    subcatID,
			"ScopeID":                  scopeID,
			"ActivityEmissionSourceID": ids.SourceID,
			"UnitID":                   ids.UnitID,
			"EmissionFactorID":         nilIfEmpty(ids.FactorID),
			"DateKey":                  resolveDateKey(cfg, srcRow),
		}

		for _, factCol := range cfg.Mapping.Order {
			srcCol := cfg.Mapping.SourceColumn(factCol)
			switch factCol {
			case "ConsumptionAmount":
				row[factCol] = consumptionAmount(cfg, flight, srcRow, factCol, srcCol)
			case "PaidAmount":
				if srcCol != "" && cfg.Source.HasColumn(srcCol) {
					if f, ok := table.AsFloat(srcRow[srcCol]); ok {
						row[factCol] = f
					}
				}
			case "ActivityEmissionSourceProviderID":
				if srcCol != "" && cfg.Source.HasColumn(srcCol) {
					row[factCol] = softLookup(log, cfg.Dims.Providers,
						"ProviderName", srcRow[srcCol], "ActivityEmissionSourceProviderID")
				}
			case "CurrencyID":
				if srcCol != "" && cfg.Source.HasColumn(srcCol) {
					row[factCol] = softLookup(log, cfg.Dims.Currencies,
						"CurrencyCode", srcRow[srcCol], "CurrencyID")
				}
			}
		}

		out.Append(row)
		metrics.FactRowsProcessed.Inc()
		report(i+1, StatusProcessing)
	}

	report(total, StatusComplete)
	log.Info("fact: generation complete",
		"rows", out.Len(), "elapsed", cfg.Clock.Now().Sub(start), "run", runLabel)
	return out, nil
}

// consumptionAmount computes the ConsumptionAmount cell: a derived flight
// distance for air-travel distance mappings, otherwise the numeric cast of
// the mapped cell, otherwise nil.
func consumptionAmount(cfg Config, flight *flightResolver, srcRow table.Row, factCol, srcCol string) any {
	if flight != nil && cfg.Mapping.Kind(factCol) == mapping.KindDistance {
		if km, ok := flight.distance(srcRow); ok {
			return km
		}
		return nil
	}
	if srcCol != "" && cfg.Source.HasColumn(srcCol) {
		if f, ok := table.AsFloat(srcRow[srcCol]); ok {
			return f
		}
	}
	return nil
}

// flightResolver carries the once-detected origin/destination columns for an
// air-travel run. nil when the run is not an air-travel distance run.
type flightResolver struct {
	columns     []string
	origin      string
	destination string
}

func newFlightResolver(cfg Config) *flightResolver {
	if cfg.CalcMethod != mapping.CalcConsumptionBased {
		return nil
	}
	if !strings.EqualFold(cfg.ActivityCat, "Business Travel") ||
		!strings.EqualFold(cfg.ActivitySubcat, "Air Travel") {
		return nil
	}
	if cfg.Mapping.Kind("ConsumptionAmount") != mapping.KindDistance {
		return nil
	}
	origin, destination := airport.DetectColumns(cfg.Source.Columns)
	cfg.Logger.Debug("fact: air-travel columns detected", "origin", origin, "destination", destination)
	return &flightResolver{
		columns:     cfg.Source.Columns,
		origin:      origin,
		destination: destination,
	}
}

// distance resolves one row's flight distance: detected columns first, then
// the any-two-airport-codes row scan.
func (f *flightResolver) distance(row table.Row) (float64, bool) {
	if f.origin != "" && f.destination != "" {
		if km, ok := airport.Distance(table.Stringify(row[f.origin]), table.Stringify(row[f.destination])); ok {
			return km, true
		}
	}
	if o, d, ok := airport.ScanRowForCodes(f.columns, row); ok {
		return airport.Distance(o, d)
	}
	return 0, false
}

// resolveDateKey resolves the row's DateKey against the date dimension:
// parse the mapped source date when present, else fall back to the
// reporting year's key.
func resolveDateKey(cfg Config, srcRow table.Row) any {
	srcCol := cfg.Mapping.SourceColumn("DateKey")
	if srcCol != "" && cfg.Source.HasColumn(srcCol) {
		if t, ok := table.AsTime(srcRow[srcCol]); ok {
			key := dimension.DateKey(t)
			if v := softLookup(cfg.Logger, cfg.Dims.Dates, "DateKey", key, "DateKey"); v != nil {
				return v
			}
		}
	}
	return softLookup(cfg.Logger, cfg.Dims.Dates, "Year", cfg.ReportingYear, "DateKey")
}

// softLookup is a foreign-key lookup under the degrade-to-null policy: a
// miss answers nil and is logged, a malformed destination table (missing
// return column) is also soft here since the schema validator reports it
// post-hoc.
func softLookup(log *slog.Logger, t *table.Table, matchCol string, matchVal any, returnCol string) any {
	v, err := table.Lookup(t, matchCol, matchVal, returnCol)
	if err != nil {
		log.Warn("fact: lookup against malformed table", "column", returnCol, "error", err)
		return nil
	}
	if v == nil && matchVal != nil {
		log.Debug("fact: lookup miss", "column", matchCol, "value", table.Stringify(matchVal))
	}
	return v
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
