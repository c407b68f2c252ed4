package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned when an operation names a task the plan lacks.
var ErrTaskNotFound = errors.New("workflow: task not found")

// WorkflowTaskList is a plan: an ordered set of tasks plus lifecycle stamps.
type WorkflowTaskList struct {
	PlanID              string     `json:"plan_id" yaml:"plan_id"`
	PlanName            string     `json:"plan_name" yaml:"plan_name"`
	Tasks               []Task     `json:"tasks" yaml:"tasks"`
	CreatedAt           time.Time  `json:"created_at" yaml:"created_at"`
	BreakdownAt         *time.Time `json:"breakdown_at,omitempty" yaml:"breakdown_at,omitempty"`
	ExecutedAt          *time.Time `json:"executed_at,omitempty" yaml:"executed_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	AutoParallelization bool       `json:"auto_parallelization" yaml:"auto_parallelization"`
}

// NewTaskList starts an empty plan with a fresh identifier.
func NewTaskList(name string, now time.Time) WorkflowTaskList {
	return WorkflowTaskList{
		PlanID:              uuid.NewString(),
		PlanName:            strings.TrimSpace(name),
		CreatedAt:           now.UTC(),
		AutoParallelization: true,
	}
}

// Clone returns a deep copy of the plan.
func (l WorkflowTaskList) Clone() WorkflowTaskList {
	clone := l
	clone.Tasks = CloneTasks(l.Tasks)
	clone.BreakdownAt = cloneTime(l.BreakdownAt)
	clone.ExecutedAt = cloneTime(l.ExecutedAt)
	clone.CompletedAt = cloneTime(l.CompletedAt)
	return clone
}

// Task returns a pointer into the plan's task slice for in-place edits.
func (l *WorkflowTaskList) Task(id string) (*Task, bool) {
	for i := range l.Tasks {
		if l.Tasks[i].ID == id {
			return &l.Tasks[i], true
		}
	}
	return nil, false
}

// TaskIDs returns task identifiers in plan order.
func (l WorkflowTaskList) TaskIDs() []string {
	ids := make([]string, 0, len(l.Tasks))
	for _, task := range l.Tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

// Link records that blocker must finish before blocked, updating both halves
// of the edge.
func (l *WorkflowTaskList) Link(blocker, blocked string) error {
	if blocker == blocked {
		return fmt.Errorf("workflow: task %s cannot block itself", blocker)
	}
	from, ok := l.Task(blocker)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, blocker)
	}
	to, ok := l.Task(blocked)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, blocked)
	}
	from.Blocks = appendUnique(from.Blocks, blocked)
	to.BlockedBy = appendUnique(to.BlockedBy, blocker)
	return nil
}

// TaskUpdate changes a task's status. StatusDeleted removes the task.
type TaskUpdate struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
}

// ApplyUpdate applies a status update. Deleting a task also scrubs every
// edge that referenced it so the remaining graph stays consistent.
func (l *WorkflowTaskList) ApplyUpdate(update TaskUpdate) error {
	if !update.Status.Valid() {
		return fmt.Errorf("workflow: invalid status %q for task %s", update.Status, update.TaskID)
	}
	task, ok := l.Task(update.TaskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, update.TaskID)
	}
	if update.Status != StatusDeleted {
		task.Status = update.Status
		return nil
	}
	kept := l.Tasks[:0]
	for _, candidate := range l.Tasks {
		if candidate.ID == update.TaskID {
			continue
		}
		candidate.Blocks = removeValue(candidate.Blocks, update.TaskID)
		candidate.BlockedBy = removeValue(candidate.BlockedBy, update.TaskID)
		kept = append(kept, candidate)
	}
	l.Tasks = kept
	return nil
}

// MarkBrokenDown stamps the moment the request was split into tasks.
func (l *WorkflowTaskList) MarkBrokenDown(now time.Time) {
	stamp := now.UTC()
	l.BreakdownAt = &stamp
}

// MarkExecuted stamps the start of execution.
func (l *WorkflowTaskList) MarkExecuted(now time.Time) {
	stamp := now.UTC()
	l.ExecutedAt = &stamp
}

// MarkCompleted stamps the end of execution.
func (l *WorkflowTaskList) MarkCompleted(now time.Time) {
	stamp := now.UTC()
	l.CompletedAt = &stamp
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}

func removeValue(values []string, value string) []string {
	if len(values) == 0 {
		return values
	}
	out := values[:0]
	for _, existing := range values {
		if existing != value {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
