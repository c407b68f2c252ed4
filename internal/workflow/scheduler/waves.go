package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

// ErrInvalidOverride marks override maps that name unknown tasks or
// non-positive waves.
var ErrInvalidOverride = errors.New("scheduler: invalid wave override")

// WaveOverrideViolation reports a wave assignment, manual or stored, that
// schedules a blocker after the task it blocks.
type WaveOverrideViolation struct {
	Blocker     string
	BlockerWave int
	Blocked     string
	BlockedWave int
}

func (e *WaveOverrideViolation) Error() string {
	return fmt.Sprintf("scheduler: wave assignment violates dependency order: %s (wave %d) blocks %s (wave %d)",
		e.Blocker, e.BlockerWave, e.Blocked, e.BlockedWave)
}

// UnscheduledError lists tasks the leveling pass never reached. It means a
// cycle or dangling reference slipped past graph validation.
type UnscheduledError struct {
	TaskIDs []string
}

func (e *UnscheduledError) Error() string {
	return fmt.Sprintf("scheduler: %d task(s) never became ready, check for cycles or unknown dependencies: %s",
		len(e.TaskIDs), strings.Join(e.TaskIDs, ", "))
}

// ComputeWaves levels the graph Kahn-style. Tasks with no blockers land in
// wave 1; a task joins the wave after the one in which its last blocker was
// released. When some tasks are never released the returned map still holds
// every task that was leveled, alongside an *UnscheduledError.
func ComputeWaves(tasks []workflow.Task) (map[string]int, error) {
	inDegree := make(map[string]int, len(tasks))
	adjacency := make(map[string][]string, len(tasks))
	var frontier []string
	for _, task := range tasks {
		inDegree[task.ID] = len(task.BlockedBy)
		adjacency[task.ID] = append(adjacency[task.ID], task.Blocks...)
	}
	for _, task := range tasks {
		if inDegree[task.ID] == 0 {
			frontier = append(frontier, task.ID)
		}
	}

	waves := make(map[string]int, len(tasks))
	wave := 1
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			if _, done := waves[id]; done {
				continue
			}
			waves[id] = wave
			for _, dependent := range adjacency[id] {
				if _, known := inDegree[dependent]; !known {
					continue
				}
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
		wave++
	}

	var missing []string
	for _, task := range tasks {
		if _, ok := waves[task.ID]; !ok {
			missing = append(missing, task.ID)
		}
	}
	if len(missing) > 0 {
		return waves, &UnscheduledError{TaskIDs: missing}
	}
	return waves, nil
}

// WaveGroup is one batch of tasks that may run together.
type WaveGroup struct {
	Wave  int
	Tasks []workflow.Task
}

// GroupByWave buckets tasks by their wave field (unset counts as 1) in
// ascending wave order. Waves with no tasks are omitted; tasks keep plan order
// inside a group.
func GroupByWave(tasks []workflow.Task) []WaveGroup {
	buckets := map[int][]workflow.Task{}
	for _, task := range tasks {
		w := task.EffectiveWave()
		buckets[w] = append(buckets[w], task)
	}
	keys := make([]int, 0, len(buckets))
	for w := range buckets {
		keys = append(keys, w)
	}
	sort.Ints(keys)
	groups := make([]WaveGroup, 0, len(keys))
	for _, w := range keys {
		groups = append(groups, WaveGroup{Wave: w, Tasks: buckets[w]})
	}
	return groups
}

// MaxWave returns the highest wave among tasks, or 1 when none is set.
func MaxWave(tasks []workflow.Task) int {
	max := 1
	for _, task := range tasks {
		if task.Wave > max {
			max = task.Wave
		}
	}
	return max
}

// ApplyComputedWaves returns a copy of tasks with every wave field stamped
// from ComputeWaves. Nothing is returned when leveling fails.
func ApplyComputedWaves(tasks []workflow.Task) ([]workflow.Task, error) {
	waves, err := ComputeWaves(tasks)
	if err != nil {
		return nil, err
	}
	out := workflow.CloneTasks(tasks)
	for i := range out {
		out[i].Wave = waves[out[i].ID]
	}
	return out, nil
}

// ApplyManualWaves applies overrides to a copy of tasks and then checks that
// every "A blocks B" edge keeps wave(A) <= wave(B). The first violation
// aborts with *WaveOverrideViolation.
func ApplyManualWaves(tasks []workflow.Task, overrides map[string]int) ([]workflow.Task, error) {
	out := workflow.CloneTasks(tasks)
	index := make(map[string]int, len(out))
	for i, task := range out {
		index[task.ID] = i
	}
	ids := make([]string, 0, len(overrides))
	for id := range overrides {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		wave := overrides[id]
		idx, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown task %s", ErrInvalidOverride, id)
		}
		if wave < 1 {
			return nil, fmt.Errorf("%w: task %s wave %d must be >= 1", ErrInvalidOverride, id, wave)
		}
		out[idx].Wave = wave
	}
	if err := CheckWaveOrder(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckWaveOrder verifies that every "A blocks B" edge keeps
// wave(A) <= wave(B), using effective waves. It reports the first violation
// as *WaveOverrideViolation. Edges to unknown tasks are left to graph
// validation.
func CheckWaveOrder(tasks []workflow.Task) error {
	waves := make(map[string]int, len(tasks))
	for _, task := range tasks {
		waves[task.ID] = task.EffectiveWave()
	}
	for _, task := range tasks {
		for _, blocked := range task.Blocks {
			to, ok := waves[blocked]
			if !ok {
				continue
			}
			if from := task.EffectiveWave(); from > to {
				return &WaveOverrideViolation{
					Blocker:     task.ID,
					BlockerWave: from,
					Blocked:     blocked,
					BlockedWave: to,
				}
			}
		}
	}
	return nil
}

// CanStart reports whether every blocker of taskID is in completed. Unknown
// tasks cannot start.
func CanStart(taskID string, tasks []workflow.Task, completed workflow.IDSet) bool {
	for _, task := range tasks {
		if task.ID != taskID {
			continue
		}
		for _, dep := range task.BlockedBy {
			if !completed.Has(dep) {
				return false
			}
		}
		return true
	}
	return false
}

// ReadyInWave returns pending tasks of the given wave whose blockers are all
// complete.
func ReadyInWave(tasks []workflow.Task, wave int, completed workflow.IDSet) []workflow.Task {
	var ready []workflow.Task
	for _, task := range tasks {
		if task.EffectiveWave() != wave || !task.IsPending() {
			continue
		}
		if CanStart(task.ID, tasks, completed) {
			ready = append(ready, task)
		}
	}
	return ready
}
