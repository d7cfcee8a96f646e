// Package engine orchestrates one transformation run end to end: dimension
// synchronization, fact generation and output validation. A run owns its
// copies of the destination tables; callers serialize runs that share a
// destination snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/verdantlabs/carbonetl/etl/pkg/dimension"
	"github.com/verdantlabs/carbonetl/etl/pkg/fact"
	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/metrics"
	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
	"github.com/verdantlabs/carbonetl/etl/pkg/validate"
)

// RunConfig configures one transformation run.
type RunConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Company        string
	Country        string
	ActivityCat    string
	ActivitySubcat string
	CalcMethod     mapping.CalcMethod
	ReportingYear  int

	Source  *table.Table
	Mapping mapping.Mapping
	Schema  schema.Map
	Tables  map[string]*table.Table

	Progress fact.ProgressFunc
}

// Validate checks the fatal preconditions of a run: anything failing here
// stops the pipeline before any row is processed.
func (c *RunConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Source == nil {
		return errors.New("source table is required")
	}
	if c.Mapping == nil {
		return fmt.Errorf("%w: no mapping supplied", mapping.ErrParse)
	}
	if c.Company == "" || c.Country == "" || c.ActivityCat == "" || c.ActivitySubcat == "" {
		return errors.New("company, country, activity category and subcategory are required")
	}
	if c.ReportingYear < 1900 || c.ReportingYear > 2200 {
		return fmt.Errorf("implausible reporting year %d", c.ReportingYear)
	}
	method, err := mapping.ParseCalcMethod(string(c.CalcMethod))
	if err != nil {
		return err
	}
	c.CalcMethod = method
	if err := c.Schema.Validate(); err != nil {
		return err
	}
	if err := c.Schema.RequireTables(schema.OutputOrder...); err != nil {
		return err
	}
	for _, name := range schema.OutputOrder {
		if name == schema.TableDate || name == schema.TableFact {
			continue // derived fresh each run
		}
		if _, ok := c.Tables[name]; !ok {
			return fmt.Errorf("%w: missing destination table %s", schema.ErrSchema, name)
		}
	}
	return nil
}

// Result is the outcome of a completed run: the eleven produced tables in
// output order, the validation report, and run statistics.
type Result struct {
	Tables       map[string]*table.Table
	Issues       []validate.Issue
	MappingFlaws []mapping.Defect
	RowsProduced int
	Elapsed      time.Duration
}

// Run executes one transformation run. Only configuration and schema
// problems fail; data-quality problems degrade to nulls and surface in the
// validation report.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if err := cfg.Validate(); err != nil {
		metrics.RecordRun("invalid", 0)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	start := cfg.Clock.Now()

	validated := mapping.Validate(cfg.Mapping, cfg.Schema[schema.TableFact], cfg.Source.Columns)
	for _, d := range validated.Defects {
		log.Warn("engine: mapping defect", "factColumn", d.FactColumn, "reason", d.Reason)
	}

	sync := dimension.New(log, cfg.Clock)

	countries := sync.SyncCountry(cfg.Tables[schema.TableCountry], cfg.Country)
	companies := sync.SyncCompany(cfg.Tables[schema.TableCompany], cfg.Company)
	companies = sync.RelateCountryCompany(companies, countries, cfg.Company, cfg.Country)

	dates := sync.BuildDateDimension(validated, cfg.Source, cfg.ReportingYear)
	currencies := sync.SyncCurrency(cfg.Tables[schema.TableCurrency], cfg.Source, validated)
	providers := sync.SyncProvider(cfg.Tables[schema.TableProvider], cfg.Source, validated)
	units := sync.SyncUnit(cfg.Tables[schema.TableUnit], cfg.Source, validated, cfg.CalcMethod)

	// Fixed reference tables pass through unchanged.
	categories := cfg.Tables[schema.TableCategory].Clone()
	subcategories := cfg.Tables[schema.TableSubcategory].Clone()
	scopes := cfg.Tables[schema.TableScopes].Clone()
	sources := cfg.Tables[schema.TableSource].Clone()

	factTable, err := fact.Generate(fact.Config{
		Logger:     log,
		Clock:      cfg.Clock,
		Mapping:    validated,
		Source:     cfg.Source,
		Existing:   cfg.Tables[schema.TableFact],
		FactSchema: cfg.Schema[schema.TableFact],
		Dims: fact.Dimensions{
			Companies:     companies,
			Countries:     countries,
			Categories:    categories,
			Subcategories: subcategories,
			Scopes:        scopes,
			Sources:       sources,
			Providers:     providers,
			Units:         units,
			Currencies:    currencies,
			Dates:         dates,
		},
		Company:        cfg.Company,
		Country:        cfg.Country,
		ActivityCat:    cfg.ActivityCat,
		ActivitySubcat: cfg.ActivitySubcat,
		ReportingYear:  cfg.ReportingYear,
		CalcMethod:     cfg.CalcMethod,
		Progress:       cfg.Progress,
	})
	if err != nil {
		metrics.RecordRun("failed", cfg.Clock.Now().Sub(start))
		return nil, fmt.Errorf("fact generation failed: %w", err)
	}

	produced := map[string]*table.Table{
		schema.TableCompany:     companies,
		schema.TableCountry:     countries,
		schema.TableCategory:    categories,
		schema.TableSubcategory: subcategories,
		schema.TableScopes:      scopes,
		schema.TableSource:      sources,
		schema.TableDate:        dates,
		schema.TableUnit:        units,
		schema.TableCurrency:    currencies,
		schema.TableProvider:    providers,
		schema.TableFact:        factTable,
	}

	issues := validate.Tables(log, produced, cfg.Schema)

	elapsed := cfg.Clock.Now().Sub(start)
	metrics.RecordRun("complete", elapsed)
	log.Info("engine: run complete",
		"rows", factTable.Len(), "issues", len(issues), "elapsed", elapsed)

	return &Result{
		Tables:       produced,
		Issues:       issues,
		MappingFlaws: validated.Defects,
		RowsProduced: factTable.Len(),
		Elapsed:      elapsed,
	}, nil
}
