// Package server exposes the transformation pipeline over HTTP: submit a
// run, poll its progress, fetch the validation report.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/verdantlabs/carbonetl/etl/pkg/engine"
	"github.com/verdantlabs/carbonetl/etl/pkg/fact"
	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/metrics"
	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
	"github.com/verdantlabs/carbonetl/etl/pkg/table"
	"github.com/verdantlabs/carbonetl/etl/pkg/workbook"
)

type Server struct {
	log      *slog.Logger
	cfg      Config
	registry *Registry
	httpSrv  *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:      cfg.Logger,
		cfg:      cfg,
		registry: NewRegistry(),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write health response", "error", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmitRun)
		r.Get("/{id}", s.handleRunStatus)
		r.Get("/{id}/report", s.handleRunReport)
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}

// runRequest names the workbooks and parameters of one run. Workbooks are
// referenced by path: the server and its callers share a filesystem.
type runRequest struct {
	SchemaPath string `json:"schema_path"`
	TablesPath string `json:"tables_path"`
	SourcePath string `json:"source_path"`

	// Exactly one of Mapping and MappingPath, or neither when a proposer
	// is configured.
	Mapping     json.RawMessage `json:"mapping,omitempty"`
	MappingPath string          `json:"mapping_path,omitempty"`

	Company             string `json:"company"`
	Country             string `json:"country"`
	ActivityCategory    string `json:"activity_category"`
	ActivitySubcategory string `json:"activity_subcategory"`
	CalcMethod          string `json:"calc_method"`
	ReportingYear       int    `json:"reporting_year"`
}

func (req *runRequest) validate() error {
	if req.SchemaPath == "" || req.TablesPath == "" || req.SourcePath == "" {
		return errors.New("schema_path, tables_path and source_path are required")
	}
	if req.Mapping != nil && req.MappingPath != "" {
		return errors.New("mapping and mapping_path are mutually exclusive")
	}
	if _, err := mapping.ParseCalcMethod(req.CalcMethod); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Mapping == nil && req.MappingPath == "" && s.cfg.Proposer == nil {
		s.writeError(w, http.StatusBadRequest, "no mapping supplied and no proposer configured")
		return
	}

	run := s.registry.Create(s.cfg.Clock.Now())
	s.log.Info("server: run submitted", "run", run.ID, "source", req.SourcePath)

	go s.execute(run.ID, req)

	w.Header().Set("Location", "/api/runs/"+run.ID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID, "state": RunPending})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	run, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if run.State != RunComplete {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("run is %s, report available once complete", run.State))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":            run.ID,
		"issues":        run.Issues,
		"mapping_flaws": run.Flaws,
		"report_path":   run.ReportPath,
	})
}

// execute runs the pipeline for one submitted run on its own goroutine and
// records the outcome in the registry.
func (s *Server) execute(id string, req runRequest) {
	ctx := context.Background()
	log := s.log.With("run", id)

	s.registry.Update(id, func(r *Run) { r.State = RunRunning })

	if err := s.executeRun(ctx, id, log, req); err != nil {
		log.Error("server: run failed", "error", err)
		s.registry.Update(id, func(r *Run) {
			r.State = RunFailed
			r.Error = err.Error()
		})
	}
}

func (s *Server) executeRun(ctx context.Context, id string, log *slog.Logger, req runRequest) error {
	method, err := mapping.ParseCalcMethod(req.CalcMethod)
	if err != nil {
		return err
	}

	var (
		schemaMap  schema.Map
		tables     map[string]*table.Table
		sourceName string
		source     *table.Table
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		schemaMap, err = workbook.LoadSchema(req.SchemaPath)
		return err
	})
	g.Go(func() (err error) {
		tables, err = workbook.LoadTables(req.TablesPath)
		return err
	})
	g.Go(func() (err error) {
		sourceName, source, err = workbook.LoadSource(req.SourcePath)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load workbooks: %w", err)
	}

	m, err := s.resolveMapping(ctx, req, method, schemaMap, sourceName, source)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, engine.RunConfig{
		Logger:         log,
		Clock:          s.cfg.Clock,
		Company:        req.Company,
		Country:        req.Country,
		ActivityCat:    req.ActivityCategory,
		ActivitySubcat: req.ActivitySubcategory,
		CalcMethod:     method,
		ReportingYear:  req.ReportingYear,
		Source:         source,
		Mapping:        m,
		Schema:         schemaMap,
		Tables:         tables,
		Progress: func(p fact.Progress) {
			s.registry.Update(id, func(r *Run) { r.Progress = p })
		},
	})
	if err != nil {
		return err
	}

	runDir := filepath.Join(s.cfg.OutputDir, id)
	outPath := filepath.Join(runDir, "transformed_tables.xlsx")
	if err := workbook.WriteTables(outPath, schema.OutputOrder, result.Tables); err != nil {
		return fmt.Errorf("failed to write output workbook: %w", err)
	}
	reportPath, err := workbook.WriteValidationReport(runDir, result.Issues, s.cfg.Clock.Now())
	if err != nil {
		return fmt.Errorf("failed to write validation report: %w", err)
	}
	if err := mapping.WriteFile(filepath.Join(runDir, "mappings.json"), m); err != nil {
		return fmt.Errorf("failed to persist mapping: %w", err)
	}

	s.registry.Update(id, func(r *Run) {
		r.State = RunComplete
		r.Issues = result.Issues
		r.Flaws = result.MappingFlaws
		r.OutputPath = outPath
		r.ReportPath = reportPath
		r.Rows = result.RowsProduced
		r.ElapsedMS = result.Elapsed.Milliseconds()
	})
	log.Info("server: run complete", "rows", result.RowsProduced, "issues", len(result.Issues))
	return nil
}

func (s *Server) resolveMapping(ctx context.Context, req runRequest, method mapping.CalcMethod, schemaMap schema.Map, sourceName string, source *table.Table) (mapping.Mapping, error) {
	switch {
	case req.Mapping != nil:
		return mapping.Decode(string(req.Mapping))
	case req.MappingPath != "":
		return mapping.ReadFile(req.MappingPath)
	default:
		return s.cfg.Proposer.Propose(ctx, mapping.ProposeRequest{
			SourceTable:    sourceName,
			SourceColumns:  source.Columns,
			Schema:         schemaMap,
			CalcMethod:     method,
			ActivityCat:    req.ActivityCategory,
			ActivitySubcat: req.ActivitySubcategory,
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to write json response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
