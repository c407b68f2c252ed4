package delegation

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

// Warner receives soft-fallback notices. *logging.Logger satisfies it.
type Warner interface {
	Warn(msg any, keyvals ...any)
}

type nopWarner struct{}

func (nopWarner) Warn(any, ...any) {}

// Resolver maps tasks onto category profiles. It holds no mutable state and
// is safe for concurrent use.
type Resolver struct {
	table Table
	warn  Warner
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithTable replaces the built-in category table.
func WithTable(table Table) Option {
	return func(r *Resolver) {
		if table != nil {
			r.table = table
		}
	}
}

// WithWarner routes fallback warnings to w.
func WithWarner(w Warner) Option {
	return func(r *Resolver) {
		if w != nil {
			r.warn = w
		}
	}
}

// NewResolver builds a resolver over the default table.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{table: DefaultTable(), warn: nopWarner{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewResolverWithOverrides merges overrides over the default table once and
// returns a resolver bound to the result.
func NewResolverWithOverrides(overrides map[workflow.Category]Override, opts ...Option) (*Resolver, error) {
	table, err := DefaultTable().WithOverrides(overrides)
	if err != nil {
		return nil, err
	}
	return NewResolver(append([]Option{WithTable(table)}, opts...)...), nil
}

// ResolveConfig returns the profile for task's category with the task's own
// skills unioned in. Unknown or missing categories fall back to
// workflow.DefaultCategory with a warning.
func (r *Resolver) ResolveConfig(task workflow.Task) Config {
	category, defaulted := workflow.ParseCategory(string(task.Category))
	switch {
	case defaulted && strings.TrimSpace(string(task.Category)) == "":
		r.warn.Warn("task has no category, using default", "task", task.ID, "default", string(category))
	case defaulted:
		r.warn.Warn("unknown task category, using default",
			"task", task.ID, "category", string(task.Category), "default", string(category))
	}
	cfg := r.table.lookup(category)
	cfg.Category = category
	cfg.Skills = unionSkills(cfg.Skills, task.Skills)
	return cfg
}

// Assignment is the unit handed to a delegation target.
type Assignment struct {
	TaskID            string            `json:"taskId" yaml:"task_id"`
	Subject           string            `json:"subject" yaml:"subject"`
	Wave              int               `json:"wave" yaml:"wave"`
	Category          workflow.Category `json:"category" yaml:"category"`
	Skills            []string          `json:"skills" yaml:"skills"`
	DefaultAssignee   string            `json:"defaultAssignee,omitempty" yaml:"default_assignee,omitempty"`
	AlwaysBackground  bool              `json:"alwaysBackground" yaml:"always_background"`
	Prompt            string            `json:"prompt" yaml:"-"`
	EstimatedDuration time.Duration     `json:"estimatedDuration" yaml:"-"`
}

// EstimatedLabel renders the estimated duration in the plan's "Xh Ym" form.
func (a Assignment) EstimatedLabel() string {
	minutes := int(a.EstimatedDuration / time.Minute)
	if h := minutes / 60; h > 0 {
		return fmt.Sprintf("%dh %dm", h, minutes%60)
	}
	return fmt.Sprintf("%dm", minutes)
}

// BuildAssignment combines ResolveConfig and RenderWorkOrder. context may be
// empty.
func (r *Resolver) BuildAssignment(task workflow.Task, context string) (Assignment, error) {
	cfg := r.ResolveConfig(task)
	prompt, err := RenderWorkOrder(task, context)
	if err != nil {
		return Assignment{}, err
	}
	minutes, ok := workflow.ParseEffort(task.EstimatedEffort)
	if !ok && task.EstimatedEffort != "" {
		r.warn.Warn("unparseable effort estimate, using default",
			"task", task.ID, "effort", task.EstimatedEffort, "minutes", minutes)
	}
	return Assignment{
		TaskID:            task.ID,
		Subject:           task.Subject,
		Wave:              task.EffectiveWave(),
		Category:          cfg.Category,
		Skills:            cfg.Skills,
		DefaultAssignee:   cfg.DefaultAssignee,
		AlwaysBackground:  true,
		Prompt:            prompt,
		EstimatedDuration: time.Duration(minutes) * time.Minute,
	}, nil
}

// Plan aggregates assignments for a whole task list.
type Plan struct {
	TotalTasks       int                       `json:"totalTasks"`
	CountsByCategory map[workflow.Category]int `json:"countsByCategory"`
	CountsByWave     map[int]int               `json:"countsByWave"`
	Assignments      []Assignment              `json:"perTaskAssignments"`
	TotalDuration    string                    `json:"totalDuration,omitempty"`
}

// BuildDelegationPlan counts tasks per category (every category present, zero
// when unused) and per wave, and builds one assignment per task. durationHint
// is carried through verbatim when non-empty.
func (r *Resolver) BuildDelegationPlan(tasks []workflow.Task, context, durationHint string) (Plan, error) {
	plan := Plan{
		TotalTasks:       len(tasks),
		CountsByCategory: make(map[workflow.Category]int, len(workflow.Categories())),
		CountsByWave:     map[int]int{},
		Assignments:      make([]Assignment, 0, len(tasks)),
		TotalDuration:    durationHint,
	}
	for _, category := range workflow.Categories() {
		plan.CountsByCategory[category] = 0
	}
	for _, task := range tasks {
		assignment, err := r.BuildAssignment(task, context)
		if err != nil {
			return Plan{}, err
		}
		plan.CountsByCategory[assignment.Category]++
		plan.CountsByWave[task.EffectiveWave()]++
		plan.Assignments = append(plan.Assignments, assignment)
	}
	return plan, nil
}
