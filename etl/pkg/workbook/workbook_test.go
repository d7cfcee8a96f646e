package workbook

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
	"github.com/verdantlabs/carbonetl/etl/pkg/validate"
)

func writeSheetRows(t *testing.T, path string, sheets map[string][][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName(f.GetSheetName(0), name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			r := row
			require.NoError(t, f.SetSheetRow(name, fmt.Sprintf("A%d", i+1), &r))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func TestCarbon_Workbook_LoadSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "schema.xlsx")
	writeSheetRows(t, path, map[string][][]any{
		"Schema": {
			{"TableName", "ColumnName", "DataType", "IsPrimaryKey"},
			{"D_Country", "CountryID", "int", "YES"},
			{"D_Country", "CountryName", "nvarchar(100)", "NO"},
			{"D_Currency", "CurrencyID", "int", "yes"},
			{"D_Currency", "CurrencyCode", "nvarchar(3)", ""},
			{"", "Orphan", "int", ""},
		},
	})

	sm, err := LoadSchema(path)
	require.NoError(t, err)
	require.Len(t, sm, 2)

	country := sm["D_Country"]
	require.Equal(t, []string{"CountryID", "CountryName"}, country.Columns)
	require.Equal(t, []string{"int", "nvarchar(100)"}, country.Datatypes)
	require.Equal(t, "CountryID", country.PrimaryKey)

	require.Equal(t, "CurrencyID", sm["D_Currency"].PrimaryKey, "YES match is case-insensitive")
}

func TestCarbon_Workbook_LoadSchemaRejectsMissingHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "schema.xlsx")
	writeSheetRows(t, path, map[string][][]any{
		"Schema": {
			{"TableName", "ColumnName", "DataType"},
			{"D_Country", "CountryID", "int"},
		},
	})

	_, err := LoadSchema(path)
	require.ErrorIs(t, err, schema.ErrSchema)
	require.Contains(t, err.Error(), "IsPrimaryKey")
}

func TestCarbon_Workbook_LoadSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "source.xlsx")
	writeSheetRows(t, path, map[string][][]any{
		"Travel Data": {
			{"Trip", "Distance", "Note"},
			{"JFK-LHR", 5556.92, "ok"},
			{"", "", ""},
			{"CDG-AMS", 398, ""},
		},
	})

	name, src, err := LoadSource(path)
	require.NoError(t, err)
	require.Equal(t, "Travel Data", name)
	require.Equal(t, []string{"Trip", "Distance", "Note"}, src.Columns)
	require.Equal(t, 2, src.Len(), "fully empty rows are dropped")

	require.Equal(t, "JFK-LHR", src.Rows[0]["Trip"])
	require.InDelta(t, 5556.92, src.Rows[0]["Distance"], 1e-6)
	require.Equal(t, int64(398), src.Rows[1]["Distance"], "whole numbers load as integers")
	require.Nil(t, src.Rows[1]["Note"])
}

func TestCarbon_Workbook_WriteAndLoadTablesRoundTrip(t *testing.T) {
	t.Parallel()

	countries := table.New("CountryID", "CountryName", "created_at")
	countries.Append(table.Row{
		"CountryID": int64(1), "CountryName": "Germany",
		"created_at": time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
	})
	facts := table.New("EmissionActivityID", "ConsumptionAmount")
	facts.Append(table.Row{"EmissionActivityID": int64(1), "ConsumptionAmount": 5556.92})

	path := filepath.Join(t.TempDir(), "out", "transformed_tables.xlsx")
	err := WriteTables(path, []string{"D_Country", "FE1_EmissionActivityData", "NotProduced"}, map[string]*table.Table{
		"D_Country":                countries,
		"FE1_EmissionActivityData": facts,
	})
	require.NoError(t, err)

	loaded, err := LoadTables(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	got := loaded["D_Country"]
	require.Equal(t, []string{"CountryID", "CountryName", "created_at"}, got.Columns)
	require.Equal(t, 1, got.Len())
	require.Equal(t, int64(1), got.Rows[0]["CountryID"])
	require.Equal(t, "Germany", got.Rows[0]["CountryName"])

	ts, ok := table.AsTime(got.Rows[0]["created_at"])
	require.True(t, ok)
	require.Equal(t, 2024, ts.Year())

	fe := loaded["FE1_EmissionActivityData"]
	require.InDelta(t, 5556.92, fe.Rows[0]["ConsumptionAmount"], 1e-6)
}

func TestCarbon_Workbook_WriteValidationReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no issues writes no file", func(t *testing.T) {
		t.Parallel()

		path, err := WriteValidationReport(dir, nil, at)
		require.NoError(t, err)
		require.Empty(t, path)
	})

	t.Run("issues produce a timestamped workbook", func(t *testing.T) {
		t.Parallel()

		issues := []validate.Issue{
			{CheckType: validate.CheckNullValues, Table: "FE1_EmissionActivityData", Description: "column 'PaidAmount' has 2 null values"},
		}
		path, err := WriteValidationReport(dir, issues, at)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(dir, "validation_report_20240601_120000.xlsx"), path)

		f, err := excelize.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()

		rows, err := f.GetRows("Validation Results")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, []string{"Check Type", "Table", "Issue"}, rows[0])
		require.Equal(t, validate.CheckNullValues, rows[1][0])
	})
}
