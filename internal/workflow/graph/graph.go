package graph

import (
	"fmt"
	"strings"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

// Graph indexes a task slice for dependency queries.
type Graph struct {
	tasks []workflow.Task
	index map[string]int
}

// New indexes tasks by id. When ids repeat, the first occurrence wins; use
// Validate to surface duplicates.
func New(tasks []workflow.Task) *Graph {
	index := make(map[string]int, len(tasks))
	for i, task := range tasks {
		if _, exists := index[task.ID]; exists {
			continue
		}
		index[task.ID] = i
	}
	return &Graph{tasks: tasks, index: index}
}

// Has reports whether id is a known task.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Task returns the task registered under id.
func (g *Graph) Task(id string) (workflow.Task, bool) {
	idx, ok := g.index[id]
	if !ok {
		return workflow.Task{}, false
	}
	return g.tasks[idx], true
}

// Dependers returns the ids of tasks whose blockedBy lists id, in plan order.
func (g *Graph) Dependers(id string) []string {
	var out []string
	for _, task := range g.tasks {
		for _, dep := range task.BlockedBy {
			if dep == id {
				out = append(out, task.ID)
				break
			}
		}
	}
	return out
}

// DirectDependencies returns the task's own blockedBy list.
func (g *Graph) DirectDependencies(id string) []string {
	task, ok := g.Task(id)
	if !ok || len(task.BlockedBy) == 0 {
		return nil
	}
	out := make([]string, len(task.BlockedBy))
	copy(out, task.BlockedBy)
	return out
}

// TransitiveDependencies walks blockedBy breadth-first and returns every
// reachable id except the origin, each once, in discovery order.
func (g *Graph) TransitiveDependencies(id string) []string {
	seen := map[string]struct{}{id: {}}
	queue := g.DirectDependencies(id)
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		out = append(out, next)
		queue = append(queue, g.DirectDependencies(next)...)
	}
	return out
}

// DetectCycle reports whether any task can reach itself through blockedBy.
func DetectCycle(tasks []workflow.Task) bool {
	return FindCycle(tasks) != nil
}

// FindCycle returns one dependency cycle as a closed path (first id repeated
// at the end), or nil when the graph is acyclic. References to unknown ids
// are ignored here; Validate reports them separately.
func FindCycle(tasks []workflow.Task) []string {
	g := New(tasks)
	const (
		unvisited = iota
		onStack
		done
	)
	marks := make(map[string]int, len(tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		marks[id] = onStack
		stack = append(stack, id)
		task, _ := g.Task(id)
		for _, dep := range task.BlockedBy {
			if !g.Has(dep) {
				continue
			}
			switch marks[dep] {
			case onStack:
				start := indexOf(stack, dep)
				cycle = append(append([]string{}, stack[start:]...), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		marks[id] = done
		return false
	}

	for _, task := range tasks {
		if marks[task.ID] != unvisited {
			continue
		}
		if visit(task.ID) {
			return cycle
		}
	}
	return nil
}

// Validate accumulates every integrity problem in the task set. Findings are
// ordered: cycle, unknown blockedBy references, unknown blocks references,
// duplicate ids, then one-sided edges. An empty result means the graph is valid.
func Validate(tasks []workflow.Task) []string {
	g := New(tasks)
	var errs []string

	if cycle := FindCycle(tasks); cycle != nil {
		errs = append(errs, fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")))
	}
	for _, task := range tasks {
		for _, dep := range task.BlockedBy {
			if !g.Has(dep) {
				errs = append(errs, fmt.Sprintf("task %s: blockedBy references unknown task %s", task.ID, dep))
			}
		}
	}
	for _, task := range tasks {
		for _, dep := range task.Blocks {
			if !g.Has(dep) {
				errs = append(errs, fmt.Sprintf("task %s: blocks references unknown task %s", task.ID, dep))
			}
		}
	}

	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if _, dup := seen[task.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate task id %s", task.ID))
			continue
		}
		seen[task.ID] = struct{}{}
	}

	for _, task := range tasks {
		for _, blocked := range task.Blocks {
			other, ok := g.Task(blocked)
			if ok && !contains(other.BlockedBy, task.ID) {
				errs = append(errs, fmt.Sprintf("task %s blocks %s but %s is not blockedBy %s", task.ID, blocked, blocked, task.ID))
			}
		}
		for _, blocker := range task.BlockedBy {
			other, ok := g.Task(blocker)
			if ok && !contains(other.Blocks, task.ID) {
				errs = append(errs, fmt.Sprintf("task %s is blockedBy %s but %s does not block %s", task.ID, blocker, blocker, task.ID))
			}
		}
	}
	return errs
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func indexOf(values []string, target string) int {
	for i, value := range values {
		if value == target {
			return i
		}
	}
	return 0
}
