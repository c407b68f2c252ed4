package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/kingrea/lattice-waves/internal/workflow"
	"github.com/kingrea/lattice-waves/internal/workflow/scheduler"
)

// ErrUnknownTask is returned when a notification names a task outside the run.
var ErrUnknownTask = errors.New("workflow engine: unknown task")

// DefaultHaltThreshold is the failure ratio at which a run is flagged.
const DefaultHaltThreshold = 0.5

// RunStatus is derived from the counters, never stored.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusHalted     RunStatus = "halted"
)

// ExecutionState is the progress ledger for one run of a plan. It is not
// safe for concurrent use; see Driver.
type ExecutionState struct {
	WorkflowID       string         `json:"workflowId"`
	TotalTasks       int            `json:"totalTasks"`
	CompletedTasks   int            `json:"completedTasks"`
	FailedTasks      int            `json:"failedTasks"`
	CurrentWave      int            `json:"currentWave"`
	MaxWave          int            `json:"maxWave"`
	StartedAt        time.Time      `json:"startedAt"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CompletedTaskIDs workflow.IDSet `json:"completedTaskIds"`
	FailedTaskIDs    workflow.IDSet `json:"failedTaskIds"`

	known workflow.IDSet
}

// Initialize starts a ledger for tasks with every counter at zero.
func Initialize(workflowID string, tasks []workflow.Task, now time.Time) *ExecutionState {
	known := workflow.NewIDSet()
	for _, task := range tasks {
		known.Add(task.ID)
	}
	return &ExecutionState{
		WorkflowID:       workflowID,
		TotalTasks:       len(tasks),
		CurrentWave:      1,
		MaxWave:          scheduler.MaxWave(tasks),
		StartedAt:        now,
		CompletedTaskIDs: workflow.NewIDSet(),
		FailedTaskIDs:    workflow.NewIDSet(),
		known:            known,
	}
}

// NextRunnable returns the pending tasks of the current wave whose blockers
// have all completed.
func NextRunnable(tasks []workflow.Task, state *ExecutionState) []workflow.Task {
	return scheduler.ReadyInWave(tasks, state.CurrentWave, state.CompletedTaskIDs)
}

// AdvanceWave moves to the next wave when one remains. Callers decide when
// the current wave is exhausted.
func (s *ExecutionState) AdvanceWave() bool {
	if s.CurrentWave >= s.MaxWave {
		return false
	}
	s.CurrentWave++
	return true
}

func (s *ExecutionState) checkKnown(taskID string) error {
	if s.known != nil && !s.known.Has(taskID) {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return nil
}

// MarkCompleted records a success. Repeat deliveries are ignored; a task that
// previously failed moves from the failed set to the completed set.
func (s *ExecutionState) MarkCompleted(taskID string) error {
	if err := s.checkKnown(taskID); err != nil {
		return err
	}
	if !s.CompletedTaskIDs.Add(taskID) {
		return nil
	}
	if s.FailedTaskIDs.Has(taskID) {
		delete(s.FailedTaskIDs, taskID)
		s.FailedTasks--
	}
	s.CompletedTasks++
	return nil
}

// MarkFailed records a failure. Repeat deliveries, and failures reported for
// an already completed task, are ignored.
func (s *ExecutionState) MarkFailed(taskID string) error {
	if err := s.checkKnown(taskID); err != nil {
		return err
	}
	if s.CompletedTaskIDs.Has(taskID) {
		return nil
	}
	if s.FailedTaskIDs.Add(taskID) {
		s.FailedTasks++
	}
	return nil
}

// Settled reports whether taskID already completed or failed.
func (s *ExecutionState) Settled(taskID string) bool {
	return s.CompletedTaskIDs.Has(taskID) || s.FailedTaskIDs.Has(taskID)
}

// Finish stamps the end of the run.
func (s *ExecutionState) Finish(now time.Time) {
	stamp := now
	s.CompletedAt = &stamp
}

// PendingTasks counts tasks neither completed nor failed.
func (s *ExecutionState) PendingTasks() int {
	return s.TotalTasks - s.CompletedTasks - s.FailedTasks
}

// IsComplete reports whether the last wave is active and every task settled.
func (s *ExecutionState) IsComplete() bool {
	return s.CurrentWave >= s.MaxWave && s.CompletedTasks+s.FailedTasks == s.TotalTasks
}

// ShouldHalt reports whether failures reached threshold as a share of all
// tasks. A non-positive threshold means DefaultHaltThreshold.
func (s *ExecutionState) ShouldHalt(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultHaltThreshold
	}
	if s.TotalTasks == 0 {
		return false
	}
	return float64(s.FailedTasks)/float64(s.TotalTasks) >= threshold
}

// Status derives the run status: completed, then failed, then halted, else
// in progress.
func (s *ExecutionState) Status(threshold float64) RunStatus {
	switch {
	case s.CompletedTasks == s.TotalTasks:
		return RunStatusCompleted
	case s.PendingTasks() <= 0 && s.FailedTasks > 0:
		return RunStatusFailed
	case s.ShouldHalt(threshold):
		return RunStatusHalted
	default:
		return RunStatusInProgress
	}
}

// Summary is a point-in-time report of a run.
type Summary struct {
	TotalTasks     int       `json:"totalTasks"`
	CompletedTasks int       `json:"completedTasks"`
	FailedTasks    int       `json:"failedTasks"`
	PendingTasks   int       `json:"pendingTasks"`
	SuccessRate    float64   `json:"successRate"`
	Duration       string    `json:"duration,omitempty"`
	Status         RunStatus `json:"status"`
}

// Summarize reports counters, success percentage and the derived status.
func (s *ExecutionState) Summarize(threshold float64) Summary {
	summary := Summary{
		TotalTasks:     s.TotalTasks,
		CompletedTasks: s.CompletedTasks,
		FailedTasks:    s.FailedTasks,
		PendingTasks:   s.PendingTasks(),
		Status:         s.Status(threshold),
	}
	if s.TotalTasks > 0 {
		summary.SuccessRate = float64(s.CompletedTasks) / float64(s.TotalTasks) * 100
	}
	if s.CompletedAt != nil && !s.StartedAt.IsZero() {
		summary.Duration = formatElapsed(s.CompletedAt.Sub(s.StartedAt))
	}
	return summary
}

// Clone returns an independent copy of the ledger.
func (s *ExecutionState) Clone() *ExecutionState {
	clone := *s
	clone.CompletedTaskIDs = workflow.NewIDSet(s.CompletedTaskIDs.Sorted()...)
	clone.FailedTaskIDs = workflow.NewIDSet(s.FailedTaskIDs.Sorted()...)
	if s.known != nil {
		clone.known = workflow.NewIDSet(s.known.Sorted()...)
	}
	if s.CompletedAt != nil {
		stamp := *s.CompletedAt
		clone.CompletedAt = &stamp
	}
	return &clone
}

// formatElapsed renders whole minutes as "Ym" and anything else as "Xm Ys".
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	minutes, seconds := total/60, total%60
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
