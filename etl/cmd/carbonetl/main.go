package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/verdantlabs/carbonetl/etl/pkg/engine"
	"github.com/verdantlabs/carbonetl/etl/pkg/fact"
	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/sink"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
	"github.com/verdantlabs/carbonetl/etl/pkg/workbook"
	"github.com/verdantlabs/carbonetl/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Input workbooks
	schemaPathFlag := flag.String("schema", "", "path to the destination schema workbook (required)")
	tablesPathFlag := flag.String("tables", "", "path to the destination tables workbook (required)")
	sourcePathFlag := flag.String("source", "", "path to the source data workbook (required)")

	// Run parameters
	companyFlag := flag.String("company", "", "reporting company name (required)")
	countryFlag := flag.String("country", "", "reporting country name (required)")
	categoryFlag := flag.String("activity-category", "", "emission activity category, e.g. 'Business Travel' (required)")
	subcategoryFlag := flag.String("activity-subcategory", "", "emission activity subcategory, e.g. 'Air Travel' (required)")
	calcMethodFlag := flag.String("calc-method", string(mapping.CalcConsumptionBased), "calculation method: Consumption-based or Expense-based")
	yearFlag := flag.Int("reporting-year", 0, "reporting year (required)")

	// Mapping: an explicit file skips the model call
	mappingPathFlag := flag.String("mapping", "", "path to a mapping JSON file; omit to propose one via the Anthropic API")
	modelFlag := flag.String("model", "claude-sonnet-4-0", "Anthropic model for mapping proposal (or set CARBONETL_MODEL env var)")
	maxTokensFlag := flag.Int64("max-tokens", 4096, "max tokens for the mapping proposal response")

	// Output
	outputDirFlag := flag.String("output-dir", "outputs", "directory for the produced workbook, mapping and validation report")
	postgresDSNFlag := flag.String("postgres-dsn", "", "optional Postgres DSN to persist produced tables (or set POSTGRES_DSN env var)")

	flag.Parse()

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if envModel := os.Getenv("CARBONETL_MODEL"); envModel != "" {
		*modelFlag = envModel
	}
	if envDSN := os.Getenv("POSTGRES_DSN"); envDSN != "" {
		*postgresDSNFlag = envDSN
	}

	if *schemaPathFlag == "" || *tablesPathFlag == "" || *sourcePathFlag == "" {
		return fmt.Errorf("--schema, --tables and --source are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		schemaMap  schema.Map
		tables     map[string]*table.Table
		sourceName string
		source     *table.Table
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		schemaMap, err = workbook.LoadSchema(*schemaPathFlag)
		return err
	})
	g.Go(func() (err error) {
		tables, err = workbook.LoadTables(*tablesPathFlag)
		return err
	})
	g.Go(func() (err error) {
		sourceName, source, err = workbook.LoadSource(*sourcePathFlag)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load workbooks: %w", err)
	}
	log.Info("workbooks loaded",
		"schemaTables", len(schemaMap), "tables", len(tables),
		"sourceSheet", sourceName, "sourceRows", source.Len())

	method, err := mapping.ParseCalcMethod(*calcMethodFlag)
	if err != nil {
		return err
	}

	var m mapping.Mapping
	if *mappingPathFlag != "" {
		m, err = mapping.ReadFile(*mappingPathFlag)
		if err != nil {
			return fmt.Errorf("failed to read mapping file: %w", err)
		}
	} else {
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return fmt.Errorf("no --mapping file supplied and ANTHROPIC_API_KEY is not set")
		}
		proposer := mapping.NewAnthropicProposer(log, anthropic.Model(*modelFlag), *maxTokensFlag)
		m, err = proposer.Propose(ctx, mapping.ProposeRequest{
			SourceTable:    sourceName,
			SourceColumns:  source.Columns,
			Schema:         schemaMap,
			CalcMethod:     method,
			ActivityCat:    *categoryFlag,
			ActivitySubcat: *subcategoryFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to propose mapping: %w", err)
		}
	}

	result, err := engine.Run(ctx, engine.RunConfig{
		Logger:         log,
		Company:        *companyFlag,
		Country:        *countryFlag,
		ActivityCat:    *categoryFlag,
		ActivitySubcat: *subcategoryFlag,
		CalcMethod:     method,
		ReportingYear:  *yearFlag,
		Source:         source,
		Mapping:        m,
		Schema:         schemaMap,
		Tables:         tables,
		Progress: func(p fact.Progress) {
			if p.Status == fact.StatusComplete || p.ProcessedRecords%100 == 0 {
				log.Debug("progress", "table", p.CurrentTable,
					"processed", p.ProcessedRecords, "total", p.TotalRecords, "status", p.Status)
			}
		},
	})
	if err != nil {
		return err
	}

	outPath := filepath.Join(*outputDirFlag, "transformed_tables.xlsx")
	if err := workbook.WriteTables(outPath, schema.OutputOrder, result.Tables); err != nil {
		return fmt.Errorf("failed to write output workbook: %w", err)
	}
	if err := mapping.WriteFile(filepath.Join(*outputDirFlag, "mappings.json"), m); err != nil {
		return fmt.Errorf("failed to persist mapping: %w", err)
	}
	reportPath, err := workbook.WriteValidationReport(*outputDirFlag, result.Issues, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write validation report: %w", err)
	}

	if *postgresDSNFlag != "" {
		pg, err := sink.NewPostgres(sink.PostgresConfig{Logger: log, DSN: *postgresDSNFlag})
		if err != nil {
			return err
		}
		if err := pg.Write(ctx, schemaMap, schema.OutputOrder, result.Tables); err != nil {
			// The workbook output already stands; a sink failure is
			// reported, not fatal.
			log.Error("failed to persist tables to postgres", "error", err)
		}
	}

	log.Info("run complete",
		"rows", result.RowsProduced,
		"issues", len(result.Issues),
		"mappingFlaws", len(result.MappingFlaws),
		"output", outPath,
		"report", reportPath,
		"elapsed", result.Elapsed)
	return nil
}
