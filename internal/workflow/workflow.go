// internal/workflow/workflow.go
//
// Defines the on-disk layout used by lattice-waves inside a project's
// .lattice/ directory. The plan document is the only file the planning core
// reads or writes; the outbox holds rendered work orders for an external
// launcher and the logbook journals execution runs.

package workflow

import (
	"os"
	"path/filepath"
)

// Directory names within .lattice/
const (
	PlanDir   = "plan"
	OutboxDir = "outbox"
	LogsDir   = "logs"
)

// File names for workflow artifacts
const (
	FilePlan    = "PLAN.md"
	FileLogbook = "execution.log"
)

// Workflow resolves paths inside a .lattice directory.
type Workflow struct {
	latticeDir string
}

// New creates a Workflow rooted at the provided .lattice directory.
func New(latticeDir string) *Workflow {
	return &Workflow{latticeDir: latticeDir}
}

// Dir returns the .lattice directory.
func (w *Workflow) Dir() string {
	return w.latticeDir
}

// PlanDir returns .lattice/plan/
func (w *Workflow) PlanDir() string {
	return filepath.Join(w.latticeDir, PlanDir)
}

// PlanPath returns the default plan document path.
func (w *Workflow) PlanPath() string {
	return filepath.Join(w.PlanDir(), FilePlan)
}

// OutboxDir returns .lattice/outbox/
func (w *Workflow) OutboxDir() string {
	return filepath.Join(w.latticeDir, OutboxDir)
}

// LogbookPath returns the execution journal path.
func (w *Workflow) LogbookPath() string {
	return filepath.Join(w.latticeDir, LogsDir, FileLogbook)
}

// Initialize creates the directory structure.
func (w *Workflow) Initialize() error {
	dirs := []string{
		w.PlanDir(),
		w.OutboxDir(),
		filepath.Join(w.latticeDir, LogsDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// HasPlan reports whether the default plan document exists.
func (w *Workflow) HasPlan() bool {
	info, err := os.Stat(w.PlanPath())
	return err == nil && !info.IsDir()
}
