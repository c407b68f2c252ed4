package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/workflow"
	"github.com/kingrea/lattice-waves/internal/workflow/graph"
	"github.com/kingrea/lattice-waves/internal/workflow/scheduler"
)

// PlanStore persists task status changes made during a run.
type PlanStore interface {
	SetTaskStatus(taskID string, status workflow.TaskStatus) error
	RecordFailure(taskID, reason string) error
}

// Journal receives one human-readable line per run event. *logbook.Logbook
// satisfies it.
type Journal interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopJournal struct{}

func (nopJournal) Info(string, ...any)  {}
func (nopJournal) Warn(string, ...any)  {}
func (nopJournal) Error(string, ...any) {}

// Notification reports the outcome of a dispatched task.
type Notification struct {
	TaskID string
	Failed bool
	Reason string
}

// Driver owns an ExecutionState for one run. Every mutation happens under its
// mutex, so notifications may arrive from any goroutine.
type Driver struct {
	mu        sync.Mutex
	tasks     []workflow.Task
	index     map[string]int
	state     *ExecutionState
	resolver  *delegation.Resolver
	target    delegation.Target
	store     PlanStore
	journal   Journal
	threshold float64
	context   string
	now       func() time.Time
	inFlight  map[string]delegation.Handle
	halted    bool
	stalled   bool
}

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithPlanStore persists status changes through store.
func WithPlanStore(store PlanStore) DriverOption {
	return func(d *Driver) { d.store = store }
}

// WithJournal records run events.
func WithJournal(journal Journal) DriverOption {
	return func(d *Driver) {
		if journal != nil {
			d.journal = journal
		}
	}
}

// WithHaltThreshold sets the failure ratio that stops new dispatches.
func WithHaltThreshold(threshold float64) DriverOption {
	return func(d *Driver) {
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

// WithWorkContext appends shared context to every work order.
func WithWorkContext(context string) DriverOption {
	return func(d *Driver) { d.context = context }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) DriverOption {
	return func(d *Driver) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDriver prepares a run over tasks. The graph must be valid and the wave
// numbers the tasks carry must respect every edge; a violation is returned as
// *scheduler.WaveOverrideViolation.
func NewDriver(workflowID string, tasks []workflow.Task, resolver *delegation.Resolver, target delegation.Target, opts ...DriverOption) (*Driver, error) {
	if resolver == nil {
		return nil, fmt.Errorf("workflow engine: delegation resolver is required")
	}
	if target == nil {
		return nil, fmt.Errorf("workflow engine: delegation target is required")
	}
	if problems := graph.Validate(tasks); len(problems) > 0 {
		return nil, fmt.Errorf("workflow engine: invalid task graph: %s", strings.Join(problems, "; "))
	}
	if err := scheduler.CheckWaveOrder(tasks); err != nil {
		return nil, fmt.Errorf("workflow engine: %w", err)
	}
	d := &Driver{
		tasks:     workflow.CloneTasks(tasks),
		index:     make(map[string]int, len(tasks)),
		resolver:  resolver,
		target:    target,
		journal:   nopJournal{},
		threshold: DefaultHaltThreshold,
		now:       time.Now,
		inFlight:  map[string]delegation.Handle{},
	}
	for _, opt := range opts {
		opt(d)
	}
	for i, task := range d.tasks {
		d.index[task.ID] = i
	}
	d.state = Initialize(workflowID, d.tasks, d.now())
	for i, task := range d.tasks {
		switch task.Status {
		case workflow.StatusCompleted:
			_ = d.state.MarkCompleted(task.ID)
		case workflow.StatusInProgress:
			// Left over from an interrupted run; dispatch it again.
			d.tasks[i].Status = workflow.StatusPending
		}
	}
	return d, nil
}

// Start journals the run and dispatches the first runnable set.
func (d *Driver) Start(ctx context.Context) ([]delegation.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal.Info("run %s started: %d tasks across %d waves", d.state.WorkflowID, d.state.TotalTasks, d.state.MaxWave)
	return d.dispatchLocked(ctx)
}

// Completed records a success and dispatches whatever it unblocked.
func (d *Driver) Completed(ctx context.Context, taskID string) ([]delegation.Handle, error) {
	return d.Notify(ctx, Notification{TaskID: taskID})
}

// Failed records a failure and dispatches whatever remains runnable.
func (d *Driver) Failed(ctx context.Context, taskID, reason string) ([]delegation.Handle, error) {
	return d.Notify(ctx, Notification{TaskID: taskID, Failed: true, Reason: reason})
}

// Notify applies one notification. Duplicate deliveries are journaled and
// otherwise ignored.
func (d *Driver) Notify(ctx context.Context, n Notification) ([]delegation.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, ok := d.index[n.TaskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, n.TaskID)
	}
	if _, running := d.inFlight[n.TaskID]; !running && d.state.Settled(n.TaskID) {
		d.journal.Warn("duplicate notification for %s ignored", n.TaskID)
		return nil, nil
	}
	delete(d.inFlight, n.TaskID)
	if n.Failed {
		if err := d.failLocked(idx, n.Reason); err != nil {
			return nil, err
		}
	} else {
		if err := d.state.MarkCompleted(n.TaskID); err != nil {
			return nil, err
		}
		d.tasks[idx].Status = workflow.StatusCompleted
		d.journal.Info("task %s completed (%d/%d)", n.TaskID, d.state.CompletedTasks, d.state.TotalTasks)
		if d.store != nil {
			if err := d.store.SetTaskStatus(n.TaskID, workflow.StatusCompleted); err != nil {
				return nil, fmt.Errorf("workflow engine: persist completion of %s: %w", n.TaskID, err)
			}
		}
	}
	return d.dispatchLocked(ctx)
}

func (d *Driver) failLocked(idx int, reason string) error {
	id := d.tasks[idx].ID
	if err := d.state.MarkFailed(id); err != nil {
		return err
	}
	// Keep the task out of the pending pool for the rest of this run.
	d.tasks[idx].Status = workflow.StatusInProgress
	d.journal.Error("task %s failed: %s", id, strings.TrimSpace(reason))
	if d.store != nil {
		if err := d.store.RecordFailure(id, reason); err != nil {
			return fmt.Errorf("workflow engine: persist failure of %s: %w", id, err)
		}
	}
	if !d.halted && d.state.ShouldHalt(d.threshold) {
		d.halted = true
		d.journal.Warn("run %s halted: %d of %d tasks failed", d.state.WorkflowID, d.state.FailedTasks, d.state.TotalTasks)
	}
	return nil
}

// dispatchLocked sends the current wave's runnable tasks to the target and
// advances through drained waves.
func (d *Driver) dispatchLocked(ctx context.Context) ([]delegation.Handle, error) {
	var handles []delegation.Handle
	defer func() {
		if d.halted && len(d.inFlight) == 0 {
			d.finishLocked()
		}
	}()
	for !d.halted {
		runnable := NextRunnable(d.tasks, d.state)
		if len(runnable) == 0 {
			if len(d.inFlight) > 0 {
				break
			}
			if d.state.AdvanceWave() {
				d.journal.Info("advanced to wave %d of %d", d.state.CurrentWave, d.state.MaxWave)
				continue
			}
			d.finishLocked()
			break
		}
		for _, task := range runnable {
			if d.halted {
				break
			}
			if err := ctx.Err(); err != nil {
				return handles, err
			}
			idx := d.index[task.ID]
			assignment, err := d.resolver.BuildAssignment(task, d.context)
			if err != nil {
				return handles, err
			}
			d.tasks[idx].Status = workflow.StatusInProgress
			handle, err := d.target.Dispatch(ctx, d.state.WorkflowID, assignment)
			if err != nil {
				if failErr := d.failLocked(idx, fmt.Sprintf("dispatch: %v", err)); failErr != nil {
					return handles, failErr
				}
				continue
			}
			d.inFlight[task.ID] = handle
			handles = append(handles, handle)
			d.journal.Info("dispatched %s in wave %d (%s)", task.ID, d.state.CurrentWave, assignment.Category)
			if d.store != nil {
				if err := d.store.SetTaskStatus(task.ID, workflow.StatusInProgress); err != nil {
					return handles, fmt.Errorf("workflow engine: persist dispatch of %s: %w", task.ID, err)
				}
			}
		}
	}
	return handles, nil
}

func (d *Driver) finishLocked() {
	if d.state.CompletedAt != nil {
		return
	}
	if !d.halted && !d.state.IsComplete() {
		d.stalled = true
		d.journal.Warn("run %s stalled: %d tasks blocked by failures", d.state.WorkflowID, d.state.PendingTasks())
	}
	d.state.Finish(d.now())
	summary := d.state.Summarize(d.threshold)
	d.journal.Info("run %s finished: %s, %d completed, %d failed, %d pending",
		d.state.WorkflowID, summary.Status, summary.CompletedTasks, summary.FailedTasks, summary.PendingTasks)
}

// Done reports whether the run can make no further progress.
func (d *Driver) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doneLocked()
}

func (d *Driver) doneLocked() bool {
	if d.halted {
		return len(d.inFlight) == 0
	}
	return d.state.CompletedAt != nil
}

// Halted reports whether the failure threshold stopped new dispatches.
func (d *Driver) Halted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halted
}

// Stalled reports whether the run ended with tasks blocked by failures.
func (d *Driver) Stalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stalled
}

// InFlight returns the handles awaiting notification.
func (d *Driver) InFlight() []delegation.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]delegation.Handle, 0, len(d.inFlight))
	ids := workflow.NewIDSet()
	for id := range d.inFlight {
		ids.Add(id)
	}
	for _, id := range ids.Sorted() {
		out = append(out, d.inFlight[id])
	}
	return out
}

// Snapshot returns a copy of the ledger.
func (d *Driver) Snapshot() *ExecutionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone()
}

// Summary reports the run using the driver's halt threshold.
func (d *Driver) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Summarize(d.threshold)
}

// Run starts the driver and consumes notifications until the run is done, the
// channel closes, or ctx ends.
func (d *Driver) Run(ctx context.Context, notifications <-chan Notification) error {
	if _, err := d.Start(ctx); err != nil {
		return err
	}
	for !d.Done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if _, err := d.Notify(ctx, n); err != nil {
				d.journal.Error("notification for %s rejected: %v", n.TaskID, err)
			}
		}
	}
	return nil
}
