// Package workbook is the xlsx-shaped edge of the pipeline: it loads the
// declared destination schema, the destination reference tables and the
// uploaded source sheet into in-memory tables, and writes produced tables
// and validation reports back out. The engine never touches files itself.
package workbook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

// LoadSchema reads the destination schema workbook: one row per column with
// TableName, ColumnName, DataType and IsPrimaryKey ("YES" marks the key).
func LoadSchema(path string) (schema.Map, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrSchema, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", schema.ErrSchema)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrSchema, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: schema sheet is empty", schema.ErrSchema)
	}

	idx := headerIndex(rows[0])
	for _, required := range []string{"TableName", "ColumnName", "DataType", "IsPrimaryKey"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("%w: schema sheet missing required column %s", schema.ErrSchema, required)
		}
	}

	out := make(schema.Map)
	for _, row := range rows[1:] {
		tableName := cellAt(row, idx["TableName"])
		colName := cellAt(row, idx["ColumnName"])
		if tableName == "" || colName == "" {
			continue
		}
		t := out[tableName]
		t.Columns = append(t.Columns, colName)
		t.Datatypes = append(t.Datatypes, cellAt(row, idx["DataType"]))
		if t.PrimaryKey == "" && strings.EqualFold(cellAt(row, idx["IsPrimaryKey"]), "YES") {
			t.PrimaryKey = colName
		}
		out[tableName] = t
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadTables reads every sheet of the destination-tables workbook into a
// table keyed by sheet name.
func LoadTables(path string) (map[string]*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination tables: %w", err)
	}
	defer f.Close()

	out := make(map[string]*table.Table)
	for _, sheet := range f.GetSheetList() {
		t, err := readSheet(f, sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		out[sheet] = t
	}
	return out, nil
}

// LoadSource reads the first sheet of an uploaded source workbook and
// returns its name and contents.
func LoadSource(path string) (string, *table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open source workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("source workbook has no sheets")
	}
	t, err := readSheet(f, sheets[0])
	if err != nil {
		return "", nil, fmt.Errorf("failed to read source sheet %s: %w", sheets[0], err)
	}
	return sheets[0], t, nil
}

func readSheet(f *excelize.File, sheet string) (*table.Table, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return table.New(), nil
	}

	header := make([]string, 0, len(rows[0]))
	for _, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h != "" {
			header = append(header, h)
		}
	}
	t := table.New(header...)
	for _, raw := range rows[1:] {
		row := make(table.Row, len(header))
		empty := true
		for i, col := range header {
			v := inferCell(cellAt(raw, i))
			row[col] = v
			if v != nil {
				empty = false
			}
		}
		if !empty {
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

// inferCell types a formatted cell string: integers and floats become
// numbers, date-shaped values become dates, everything else stays a string.
// Empty cells are null.
func inferCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
		return f
	}
	if t, ok := table.AsTime(s); ok {
		return t
	}
	return s
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
