package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantlabs/carbonetl/etl/pkg/fact"
	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/etl/pkg/validate"
)

// Run state values.
const (
	RunPending  = "pending"
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// ErrRunNotFound is returned by the registry for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Run is one submitted transformation run tracked by the registry.
type Run struct {
	ID          string           `json:"id"`
	State       string           `json:"state"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Progress    fact.Progress    `json:"progress"`
	Error       string           `json:"error,omitempty"`
	Issues      []validate.Issue `json:"-"`
	Flaws       []mapping.Defect `json:"-"`
	OutputPath  string           `json:"output_path,omitempty"`
	ReportPath  string           `json:"report_path,omitempty"`
	Rows        int              `json:"rows_produced"`
	ElapsedMS   int64            `json:"elapsed_ms"`
}

// Registry is an in-memory run store. Progress updates arrive from the
// engine's row loop, so all mutation goes through the mutex.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Create registers a new pending run and returns its ID.
func (r *Registry) Create(now time.Time) *Run {
	run := &Run{
		ID:          uuid.NewString(),
		State:       RunPending,
		SubmittedAt: now.UTC(),
	}
	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()
	return run
}

// Get returns a copy of the run with the given ID.
func (r *Registry) Get(id string) (Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return *run, nil
}

// Update applies fn to the run under the write lock.
func (r *Registry) Update(id string, fn func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		fn(run)
	}
}
