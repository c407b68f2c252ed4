package delegation

import (
	"fmt"

	"dario.cat/mergo"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

// Config is the worker profile selected by a task category.
type Config struct {
	Category        workflow.Category `json:"category" yaml:"category"`
	Skills          []string          `json:"skills" yaml:"skills"`
	Description     string            `json:"description" yaml:"description"`
	DefaultAssignee string            `json:"defaultAssignee,omitempty" yaml:"default_assignee,omitempty"`
}

func (c Config) clone() Config {
	c.Skills = append([]string(nil), c.Skills...)
	return c
}

// Table maps every category to its profile.
type Table map[workflow.Category]Config

func builtin(category workflow.Category) Config {
	switch category {
	case workflow.CategoryVisualEngineering:
		return Config{Category: category, Skills: []string{"frontend-ui-ux"}, Description: "Frontend, UI/UX, design, styling and animation work"}
	case workflow.CategoryUltrabrain:
		return Config{Category: category, Skills: []string{"deep-reasoning"}, Description: "Logic-heavy problems that need careful, deliberate reasoning"}
	case workflow.CategoryQuick:
		return Config{Category: category, Description: "Trivial, well-scoped changes such as single-file edits or typo fixes"}
	case workflow.CategoryDeep:
		return Config{Category: category, Skills: []string{"research"}, Description: "Goal-oriented autonomous problem solving that needs thorough investigation"}
	case workflow.CategoryArtistry:
		return Config{Category: category, Skills: []string{"creative-direction"}, Description: "Creative work that benefits from unconventional approaches"}
	case workflow.CategoryWriting:
		return Config{Category: category, Skills: []string{"technical-writing"}, Description: "Documentation, prose and technical writing"}
	case workflow.CategoryUnspecifiedLow:
		return Config{Category: category, Description: "Low-effort tasks that fit no other category"}
	default:
		return Config{Category: workflow.CategoryUnspecifiedHigh, Description: "High-effort tasks that fit no other category"}
	}
}

// DefaultTable returns the built-in profile for every category.
func DefaultTable() Table {
	table := make(Table, len(workflow.Categories()))
	for _, category := range workflow.Categories() {
		table[category] = builtin(category)
	}
	return table
}

// Override customises one category profile. Skills are appended to the
// built-in defaults; non-empty strings replace them.
type Override struct {
	Skills          []string
	Description     string
	DefaultAssignee string
}

// WithOverrides returns a copy of the table with overrides merged in.
func (t Table) WithOverrides(overrides map[workflow.Category]Override) (Table, error) {
	out := make(Table, len(t))
	for category, cfg := range t {
		out[category] = cfg.clone()
	}
	for category, ovr := range overrides {
		if !category.Valid() {
			return nil, fmt.Errorf("delegation: override for unknown category %q", category)
		}
		merged := out[category]
		patch := Config{
			Skills:          ovr.Skills,
			Description:     ovr.Description,
			DefaultAssignee: ovr.DefaultAssignee,
		}
		if err := mergo.Merge(&merged, patch, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("delegation: merge override for %s: %w", category, err)
		}
		merged.Category = category
		merged.Skills = unionSkills(merged.Skills)
		out[category] = merged
	}
	return out, nil
}

func (t Table) lookup(category workflow.Category) Config {
	if cfg, ok := t[category]; ok {
		return cfg.clone()
	}
	return builtin(category)
}

// unionSkills concatenates skill lists, dropping blanks and duplicates while
// keeping first-seen order.
func unionSkills(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range lists {
		for _, skill := range list {
			if skill == "" {
				continue
			}
			if _, dup := seen[skill]; dup {
				continue
			}
			seen[skill] = struct{}{}
			out = append(out, skill)
		}
	}
	return out
}
