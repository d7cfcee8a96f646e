package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/carbonetl/etl/pkg/fact"
	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
	"github.com/verdantlabs/carbonetl/etl/pkg/workbook"
	carbontesting "github.com/verdantlabs/carbonetl/utils/pkg/testing"
)

func TestCarbon_Server_Registry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	run := reg.Create(now)
	require.NotEmpty(t, run.ID)
	require.Equal(t, RunPending, run.State)
	require.Equal(t, now, run.SubmittedAt)

	got, err := reg.Get(run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, got.ID)

	reg.Update(run.ID, func(r *Run) { r.State = RunRunning })
	got, err = reg.Get(run.ID)
	require.NoError(t, err)
	require.Equal(t, RunRunning, got.State)

	_, err = reg.Get("nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

// schemaWorkbook renders a schema.Map as the schema workbook format: one row
// per column with TableName/ColumnName/DataType/IsPrimaryKey.
func schemaWorkbook(t *testing.T, path string, sm schema.Map) {
	t.Helper()
	sheet := table.New("TableName", "ColumnName", "DataType", "IsPrimaryKey")
	for _, name := range schema.OutputOrder {
		decl := sm[name]
		for i, col := range decl.Columns {
			pk := "NO"
			if col == decl.PrimaryKey {
				pk = "YES"
			}
			sheet.Append(table.Row{
				"TableName": name, "ColumnName": col,
				"DataType": decl.Datatypes[i], "IsPrimaryKey": pk,
			})
		}
	}
	require.NoError(t, workbook.WriteTables(path, []string{"Schema"}, map[string]*table.Table{"Schema": sheet}))
}

func testSchema() schema.Map {
	sm := make(schema.Map)
	for _, name := range schema.OutputOrder {
		switch name {
		case schema.TableFact:
			sm[name] = schema.Table{
				Columns: []string{
					"EmissionActivityID", "CompanyID", "CountryID", "ActivityCategoryID",
					"ActivitySubcategoryID", "ScopeID", "ActivityEmissionSourceID",
					"ActivityEmissionSourceProviderID", "UnitID", "CurrencyID",
					"EmissionFactorID", "DateKey", "ConsumptionAmount", "PaidAmount",
				},
				Datatypes: []string{
					"int", "int", "int", "int", "int", "int", "int",
					"int", "int", "int", "nvarchar(120)", "nvarchar(8)", "float", "float",
				},
				PrimaryKey: "EmissionActivityID",
			}
		case schema.TableDate:
			sm[name] = schema.Table{
				Columns: []string{"DateKey", "StartDate", "EndDate", "Description",
					"Year", "Quarter", "Month", "Day", "created_at", "updated_at"},
				Datatypes: []string{"nvarchar(8)", "nvarchar(10)", "nvarchar(10)", "nvarchar(100)",
					"int", "int", "int", "int", "datetime", "datetime"},
				PrimaryKey: "DateKey",
			}
		default:
			// Dimension shells; the columns each test actually uses.
			sm[name] = dimensionDecl(name)
		}
	}
	return sm
}

func dimensionDecl(name string) schema.Table {
	byName := map[string]schema.Table{
		schema.TableCompany: {
			Columns:    []string{"CompanyID", "CompanyName", "CountryID", "created_at", "updated_at"},
			Datatypes:  []string{"int", "nvarchar(100)", "int", "datetime", "datetime"},
			PrimaryKey: "CompanyID",
		},
		schema.TableCountry: {
			Columns:    []string{"CountryID", "CountryName", "ISO2Code", "created_at", "updated_at"},
			Datatypes:  []string{"int", "nvarchar(100)", "nvarchar(2)", "datetime", "datetime"},
			PrimaryKey: "CountryID",
		},
		schema.TableCategory: {
			Columns:    []string{"ActivityCategoryID", "ActivityCategory", "ScopeID"},
			Datatypes:  []string{"int", "nvarchar(100)", "int"},
			PrimaryKey: "ActivityCategoryID",
		},
		schema.TableSubcategory: {
			Columns:    []string{"ActivitySubcategoryID", "ActivitySubcategoryName", "ActivityCategoryID"},
			Datatypes:  []string{"int", "nvarchar(100)", "int"},
			PrimaryKey: "ActivitySubcategoryID",
		},
		schema.TableScopes: {
			Columns:    []string{"ScopeID", "ScopeName"},
			Datatypes:  []string{"int", "nvarchar(100)"},
			PrimaryKey: "ScopeID",
		},
		schema.TableSource: {
			Columns:    []string{"ActivityEmissionSourceID", "ActivitySubcategoryID", "ActivityEmissionSourceName", "UnitID"},
			Datatypes:  []string{"int", "int", "nvarchar(100)", "int"},
			PrimaryKey: "ActivityEmissionSourceID",
		},
		schema.TableUnit: {
			Columns:    []string{"UnitID", "UnitName", "created_at", "updated_at"},
			Datatypes:  []string{"int", "nvarchar(50)", "datetime", "datetime"},
			PrimaryKey: "UnitID",
		},
		schema.TableCurrency: {
			Columns:    []string{"CurrencyID", "CurrencyCode", "created_at", "updated_at"},
			Datatypes:  []string{"int", "nvarchar(3)", "datetime", "datetime"},
			PrimaryKey: "CurrencyID",
		},
		schema.TableProvider: {
			Columns:    []string{"ActivityEmissionSourceProviderID", "ProviderName", "created_at", "updated_at"},
			Datatypes:  []string{"int", "nvarchar(100)", "datetime", "datetime"},
			PrimaryKey: "ActivityEmissionSourceProviderID",
		},
	}
	return byName[name]
}

func destinationWorkbook(t *testing.T, path string) {
	t.Helper()
	seeded := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	tables := make(map[string]*table.Table)
	for _, name := range schema.OutputOrder {
		decl := testSchema()[name]
		tables[name] = table.New(decl.Columns...)
	}
	tables[schema.TableCountry].Append(table.Row{
		"CountryID": int64(4), "CountryName": "Germany", "ISO2Code": "DE",
		"created_at": seeded, "updated_at": seeded,
	})
	tables[schema.TableCategory].Append(table.Row{
		"ActivityCategoryID": int64(1), "ActivityCategory": "Business Travel", "ScopeID": int64(3),
	})
	tables[schema.TableSubcategory].Append(table.Row{
		"ActivitySubcategoryID": int64(2), "ActivitySubcategoryName": "Air Travel", "ActivityCategoryID": int64(1),
	})
	tables[schema.TableScopes].Append(table.Row{"ScopeID": int64(3), "ScopeName": "Scope 3"})
	tables[schema.TableSource].Append(table.Row{
		"ActivityEmissionSourceID": int64(10), "ActivitySubcategoryID": int64(2),
		"ActivityEmissionSourceName": "Flight Distance", "UnitID": int64(5),
	})
	tables[schema.TableUnit].Append(table.Row{
		"UnitID": int64(5), "UnitName": "km", "created_at": seeded, "updated_at": seeded,
	})

	require.NoError(t, workbook.WriteTables(path, schema.OutputOrder, tables))
}

func sourceWorkbook(t *testing.T, path string) {
	t.Helper()
	src := table.New("Departure Airport", "Arrival Airport", "Travel Date", "Airline")
	src.Append(table.Row{
		"Departure Airport": "JFK", "Arrival Airport": "LHR",
		"Travel Date": "2024-02-10", "Airline": "Lufthansa",
	})
	require.NoError(t, workbook.WriteTables(path, []string{"Travel Data"}, map[string]*table.Table{"Travel Data": src}))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(Config{
		Logger:     carbontesting.NewLogger(),
		Clock:      clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		ListenAddr: "127.0.0.1:0",
		OutputDir:  t.TempDir(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postRun(t *testing.T, ts *httptest.Server, req runRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestCarbon_Server_Health(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCarbon_Server_SubmitRunValidation(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	t.Run("missing paths", func(t *testing.T) {
		t.Parallel()

		resp := postRun(t, ts, runRequest{CalcMethod: "Consumption-based"})
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown calc method", func(t *testing.T) {
		t.Parallel()

		resp := postRun(t, ts, runRequest{
			SchemaPath: "a", TablesPath: "b", SourcePath: "c",
			CalcMethod: "vibes-based",
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no mapping and no proposer", func(t *testing.T) {
		t.Parallel()

		resp := postRun(t, ts, runRequest{
			SchemaPath: "a", TablesPath: "b", SourcePath: "c",
			CalcMethod: "Consumption-based",
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCarbon_Server_UnknownRun(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/runs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCarbon_Server_RunLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.xlsx")
	tablesPath := filepath.Join(dir, "tables.xlsx")
	sourcePath := filepath.Join(dir, "source.xlsx")
	schemaWorkbook(t, schemaPath, testSchema())
	destinationWorkbook(t, tablesPath)
	sourceWorkbook(t, sourcePath)

	_, ts := newTestServer(t)

	mappingJSON := json.RawMessage(`{
		"ConsumptionAmount": {"source_column": "user_input", "consumption_type": "Distance"},
		"DateKey": {"source_column": "Travel Date"},
		"ActivityEmissionSourceProviderID": {"source_column": "Airline"}
	}`)

	resp := postRun(t, ts, runRequest{
		SchemaPath:          schemaPath,
		TablesPath:          tablesPath,
		SourcePath:          sourcePath,
		Mapping:             mappingJSON,
		Company:             "Acme",
		Country:             "Germany",
		ActivityCategory:    "Business Travel",
		ActivitySubcategory: "Air Travel",
		CalcMethod:          "Consumption-based",
		ReportingYear:       2024,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	decodeBody(t, resp, &accepted)
	id := accepted["id"]
	require.NotEmpty(t, id)

	var run Run
	require.Eventually(t, func() bool {
		statusResp, err := http.Get(ts.URL + "/api/runs/" + id)
		if err != nil {
			return false
		}
		decodeBody(t, statusResp, &run)
		return run.State == RunComplete || run.State == RunFailed
	}, 10*time.Second, 50*time.Millisecond)

	require.Equal(t, RunComplete, run.State, "run error: %s", run.Error)
	require.Equal(t, 1, run.Rows)
	require.NotEmpty(t, run.OutputPath)
	require.Equal(t, 1, run.Progress.TotalRecords)
	require.Equal(t, fact.StatusComplete, run.Progress.Status)

	reportResp, err := http.Get(ts.URL + "/api/runs/" + id + "/report")
	require.NoError(t, err)
	var report map[string]any
	decodeBody(t, reportResp, &report)
	require.Equal(t, http.StatusOK, reportResp.StatusCode)
	require.Equal(t, id, report["id"])

	// The produced workbook is on disk and loadable.
	produced, err := workbook.LoadTables(run.OutputPath)
	require.NoError(t, err)
	require.Len(t, produced, len(schema.OutputOrder))
	factTable := produced[schema.TableFact]
	require.Equal(t, 1, factTable.Len())
}

func TestCarbon_Server_RunAcceptsCalcMethodVariants(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.xlsx")
	tablesPath := filepath.Join(dir, "tables.xlsx")
	sourcePath := filepath.Join(dir, "source.xlsx")
	schemaWorkbook(t, schemaPath, testSchema())
	destinationWorkbook(t, tablesPath)
	sourceWorkbook(t, sourcePath)

	_, ts := newTestServer(t)

	// A lowercase method variant passes validation; it must run with the
	// same consumption semantics as the canonical spelling, so the fact
	// row carries the derived flight distance.
	resp := postRun(t, ts, runRequest{
		SchemaPath: schemaPath,
		TablesPath: tablesPath,
		SourcePath: sourcePath,
		Mapping: json.RawMessage(`{
			"ConsumptionAmount": {"source_column": "user_input", "consumption_type": "Distance"},
			"DateKey": {"source_column": "Travel Date"},
			"ActivityEmissionSourceProviderID": {"source_column": "Airline"}
		}`),
		Company:             "Acme",
		Country:             "Germany",
		ActivityCategory:    "Business Travel",
		ActivitySubcategory: "Air Travel",
		CalcMethod:          "consumption-based",
		ReportingYear:       2024,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	decodeBody(t, resp, &accepted)
	id := accepted["id"]

	var run Run
	require.Eventually(t, func() bool {
		statusResp, err := http.Get(ts.URL + "/api/runs/" + id)
		if err != nil {
			return false
		}
		decodeBody(t, statusResp, &run)
		return run.State == RunComplete || run.State == RunFailed
	}, 10*time.Second, 50*time.Millisecond)
	require.Equal(t, RunComplete, run.State, "run error: %s", run.Error)

	produced, err := workbook.LoadTables(run.OutputPath)
	require.NoError(t, err)
	factTable := produced[schema.TableFact]
	require.Equal(t, 1, factTable.Len())
	km, ok := factTable.Rows[0]["ConsumptionAmount"].(float64)
	require.True(t, ok)
	require.InDelta(t, 5554.91, km, 0.5)
}

func TestCarbon_Server_RunFailsOnMissingInputs(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp := postRun(t, ts, runRequest{
		SchemaPath:          "/nonexistent/schema.xlsx",
		TablesPath:          "/nonexistent/tables.xlsx",
		SourcePath:          "/nonexistent/source.xlsx",
		Mapping:             json.RawMessage(`{}`),
		Company:             "Acme",
		Country:             "Germany",
		ActivityCategory:    "Business Travel",
		ActivitySubcategory: "Air Travel",
		CalcMethod:          "Consumption-based",
		ReportingYear:       2024,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	decodeBody(t, resp, &accepted)
	id := accepted["id"]

	var run Run
	require.Eventually(t, func() bool {
		statusResp, err := http.Get(ts.URL + "/api/runs/" + id)
		if err != nil {
			return false
		}
		decodeBody(t, statusResp, &run)
		return run.State == RunFailed
	}, 10*time.Second, 50*time.Millisecond)
	require.Contains(t, run.Error, "failed to load workbooks")

	// A failed run has no report.
	reportResp, err := http.Get(ts.URL + "/api/runs/" + id + "/report")
	require.NoError(t, err)
	defer reportResp.Body.Close()
	require.Equal(t, http.StatusConflict, reportResp.StatusCode)
}
