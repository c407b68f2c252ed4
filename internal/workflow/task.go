package workflow

import (
	"regexp"
	"strconv"
	"strings"
)

// Category selects the delegation profile for a task.
type Category string

const (
	CategoryVisualEngineering Category = "visual-engineering"
	CategoryUltrabrain        Category = "ultrabrain"
	CategoryQuick             Category = "quick"
	CategoryDeep              Category = "deep"
	CategoryArtistry          Category = "artistry"
	CategoryWriting           Category = "writing"
	CategoryUnspecifiedLow    Category = "unspecified-low"
	CategoryUnspecifiedHigh   Category = "unspecified-high"
)

// DefaultCategory is substituted whenever a task omits its category or
// carries one outside the fixed set.
const DefaultCategory = CategoryUnspecifiedHigh

// Categories returns every known category in canonical order.
func Categories() []Category {
	return []Category{
		CategoryVisualEngineering,
		CategoryUltrabrain,
		CategoryQuick,
		CategoryDeep,
		CategoryArtistry,
		CategoryWriting,
		CategoryUnspecifiedLow,
		CategoryUnspecifiedHigh,
	}
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryVisualEngineering, CategoryUltrabrain, CategoryQuick, CategoryDeep,
		CategoryArtistry, CategoryWriting, CategoryUnspecifiedLow, CategoryUnspecifiedHigh:
		return true
	default:
		return false
	}
}

// ParseCategory maps raw input onto the fixed category set. Missing or
// unknown values resolve to DefaultCategory with defaulted=true.
func ParseCategory(raw string) (category Category, defaulted bool) {
	c := Category(strings.TrimSpace(raw))
	if c.Valid() {
		return c, false
	}
	return DefaultCategory, true
}

// TaskStatus tracks where a task sits in its lifecycle.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	// StatusDeleted only appears on updates; it removes the task from the plan.
	StatusDeleted TaskStatus = "deleted"
)

// Valid reports whether s is a recognised status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusDeleted:
		return true
	default:
		return false
	}
}

// Task is a unit of work inside a plan.
type Task struct {
	ID              string         `json:"id" yaml:"id" validate:"required"`
	Subject         string         `json:"subject" yaml:"subject" validate:"required"`
	Description     string         `json:"description" yaml:"description" validate:"required"`
	Category        Category       `json:"category,omitempty" yaml:"category,omitempty"`
	Skills          []string       `json:"skills,omitempty" yaml:"skills,omitempty"`
	EstimatedEffort string         `json:"estimatedEffort,omitempty" yaml:"estimatedEffort,omitempty"`
	Wave            int            `json:"wave,omitempty" yaml:"wave,omitempty"`
	Status          TaskStatus     `json:"status" yaml:"status"`
	Blocks          []string       `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	BlockedBy       []string       `json:"blockedBy,omitempty" yaml:"blockedBy,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the task. Metadata values are copied shallowly.
func (t Task) Clone() Task {
	clone := t
	clone.Skills = cloneStringSlice(t.Skills)
	clone.Blocks = cloneStringSlice(t.Blocks)
	clone.BlockedBy = cloneStringSlice(t.BlockedBy)
	if len(t.Metadata) > 0 {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for key, value := range t.Metadata {
			clone.Metadata[key] = value
		}
	}
	return clone
}

// EffectiveWave returns the task's wave, treating an unset wave as 1.
func (t Task) EffectiveWave() int {
	if t.Wave < 1 {
		return 1
	}
	return t.Wave
}

// IsPending reports whether the task has not started. An empty status
// counts as pending.
func (t Task) IsPending() bool {
	return t.Status == StatusPending || t.Status == ""
}

// HasDependencies reports whether the task waits on anything.
func (t Task) HasDependencies() bool {
	return len(t.BlockedBy) > 0
}

// CloneTasks deep-copies a task slice.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, task := range tasks {
		out[i] = task.Clone()
	}
	return out
}

// DefaultEffortMinutes is used for estimation whenever an effort string is
// missing or unparseable.
const DefaultEffortMinutes = 30

var effortPattern = regexp.MustCompile(`^(\d+)([mh])$`)

// ParseEffort converts "<n>m" or "<n>h" into minutes. ok is false when the
// value is empty or malformed, in which case DefaultEffortMinutes is returned.
func ParseEffort(raw string) (minutes int, ok bool) {
	match := effortPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return DefaultEffortMinutes, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return DefaultEffortMinutes, false
	}
	if match[2] == "h" {
		return n * 60, true
	}
	return n, true
}

func cloneStringSlice(values []string) []string {
	if values == nil {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
