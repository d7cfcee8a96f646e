package workbook

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/verdantlabs/carbonetl/etl/pkg/table"
	"github.com/verdantlabs/carbonetl/etl/pkg/validate"
)

// WriteTables writes produced tables to one workbook, one sheet per table
// in the given order. Tables missing from the map are skipped.
func WriteTables(path string, order []string, tables map[string]*table.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for _, name := range order {
		t, ok := tables[name]
		if !ok {
			continue
		}
		if first {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", name, err)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, t); err != nil {
			return fmt.Errorf("failed to write sheet %s: %w", name, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t *table.Table) error {
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		cells := make([]any, len(t.Columns))
		for j, col := range t.Columns {
			cells[j] = exportCell(row[col])
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &cells); err != nil {
			return err
		}
	}
	return nil
}

// exportCell renders timestamps in a stable readable form; everything else
// passes through to the sheet as-is.
func exportCell(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return v
}

// WriteValidationReport writes the validation issues as a timestamped
// workbook under dir and returns the written path. No issues, no file.
func WriteValidationReport(dir string, issues []validate.Issue, at time.Time) (string, error) {
	if len(issues) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("validation_report_%s.xlsx", at.Format("20060102_150405")))

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Validation Results"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return "", err
	}
	header := []any{"Check Type", "Table", "Issue"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", err
	}
	for i, issue := range issues {
		row := []any{issue.CheckType, issue.Table, issue.Description}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return "", err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save validation report: %w", err)
	}
	return path, nil
}
