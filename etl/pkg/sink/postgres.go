// Package sink persists produced tables to relational storage. The sink is
// a soft collaborator of the pipeline: a sink failure is reported, it never
// invalidates the workbook output of a completed run.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	Logger *slog.Logger
	DSN    string
}

func (c *PostgresConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DSN == "" {
		return errors.New("postgres DSN is required")
	}
	return nil
}

// Postgres writes produced tables into a Postgres database, creating the
// destination tables from the declared schema on first use.
type Postgres struct {
	log *slog.Logger
	cfg PostgresConfig
}

// NewPostgres returns a configured sink. The connection is established per
// write, keeping the sink stateless between runs.
func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Postgres{log: cfg.Logger, cfg: cfg}, nil
}

// Write persists every produced table in one transaction: ensure the table
// exists per the declared schema, clear the previous snapshot, insert the
// produced rows.
func (s *Postgres) Write(ctx context.Context, schemaMap schema.Map, order []string, tables map[string]*table.Table) error {
	conn, err := pgx.Connect(ctx, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, name := range order {
		t, ok := tables[name]
		if !ok {
			continue
		}
		decl, ok := schemaMap[name]
		if !ok {
			s.log.Warn("sink: skipping table without declared schema", "table", name)
			continue
		}
		if err := s.writeTable(ctx, tx, name, decl, t); err != nil {
			return fmt.Errorf("failed to write table %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.log.Info("sink: tables persisted", "tables", len(tables))
	return nil
}

func (s *Postgres) writeTable(ctx context.Context, tx pgx.Tx, name string, decl schema.Table, t *table.Table) error {
	if _, err := tx.Exec(ctx, createTableDDL(name, decl)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, quoteIdent(name))); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	cols := make([]string, len(decl.Columns))
	params := make([]string, len(decl.Columns))
	for i, c := range decl.Columns {
		cols[i] = quoteIdent(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(name), strings.Join(cols, ", "), strings.Join(params, ", "))

	batch := &pgx.Batch{}
	for _, row := range t.Rows {
		args := make([]any, len(decl.Columns))
		for i, c := range decl.Columns {
			args[i] = row[c]
		}
		batch.Queue(insert, args...)
	}
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range t.Rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return br.Close()
}

func createTableDDL(name string, decl schema.Table) string {
	defs := make([]string, len(decl.Columns))
	for i, c := range decl.Columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c), pgType(decl.Datatypes[i]))
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, quoteIdent(name), strings.Join(defs, ", "))
}

// pgType maps a nominal schema datatype onto a Postgres column type.
func pgType(datatype string) string {
	d := strings.ToLower(datatype)
	switch {
	case strings.Contains(d, "bigint"), strings.Contains(d, "int"):
		return "BIGINT"
	case strings.Contains(d, "float"), strings.Contains(d, "double"),
		strings.Contains(d, "decimal"), strings.Contains(d, "numeric"), strings.Contains(d, "real"):
		return "DOUBLE PRECISION"
	case strings.Contains(d, "datetime"), strings.Contains(d, "timestamp"), strings.Contains(d, "date"):
		return "TIMESTAMPTZ"
	case strings.Contains(d, "bool"), strings.Contains(d, "bit"):
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
