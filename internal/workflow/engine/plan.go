package engine

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/workflow"
	"github.com/kingrea/lattice-waves/internal/workflow/scheduler"
)

// Plan is the wave-keyed set of assignments for one workflow.
type Plan struct {
	WorkflowID       string                          `json:"workflowId"`
	MaxWave          int                             `json:"maxWave"`
	WaveAssignments  map[int][]delegation.Assignment `json:"waveAssignments"`
	TotalTasks       int                             `json:"totalTasks"`
	ValidationErrors []string                        `json:"validationErrors,omitempty"`
}

// Valid reports whether the plan carries assignments rather than errors.
func (p Plan) Valid() bool {
	return len(p.ValidationErrors) == 0
}

// BuildPlan validates every task for delegation and, only when all pass,
// assigns tasks to waves 1..MaxWave by their wave field. Waves without tasks
// map to an empty slice.
func BuildPlan(resolver *delegation.Resolver, workflowID string, tasks []workflow.Task, context string) (Plan, error) {
	plan := Plan{
		WorkflowID:      workflowID,
		MaxWave:         scheduler.MaxWave(tasks),
		WaveAssignments: map[int][]delegation.Assignment{},
		TotalTasks:      len(tasks),
	}
	for _, task := range tasks {
		if ok, problems := delegation.ValidateForDelegation(task); !ok {
			plan.ValidationErrors = append(plan.ValidationErrors, problems...)
		}
	}
	if len(plan.ValidationErrors) > 0 {
		return plan, nil
	}
	for wave := 1; wave <= plan.MaxWave; wave++ {
		plan.WaveAssignments[wave] = []delegation.Assignment{}
	}
	for _, task := range tasks {
		assignment, err := resolver.BuildAssignment(task, context)
		if err != nil {
			return Plan{}, err
		}
		wave := task.EffectiveWave()
		plan.WaveAssignments[wave] = append(plan.WaveAssignments[wave], assignment)
	}
	return plan, nil
}

var (
	planTitleStyle = lipgloss.NewStyle().Bold(true)
	waveStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

// Render formats the plan for a terminal: validation errors first, then one
// section per wave.
func Render(plan Plan) string {
	var b strings.Builder
	b.WriteString(planTitleStyle.Render(fmt.Sprintf("Workflow %s: %d tasks across %d waves", plan.WorkflowID, plan.TotalTasks, plan.MaxWave)))
	b.WriteString("\n")
	if len(plan.ValidationErrors) > 0 {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Validation errors"))
		b.WriteString("\n")
		for _, problem := range plan.ValidationErrors {
			fmt.Fprintf(&b, "  - %s\n", problem)
		}
		return b.String()
	}
	for wave := 1; wave <= plan.MaxWave; wave++ {
		assignments := plan.WaveAssignments[wave]
		b.WriteString("\n")
		b.WriteString(waveStyle.Render(fmt.Sprintf("Wave %d", wave)))
		fmt.Fprintf(&b, " (%d tasks)\n", len(assignments))
		if len(assignments) == 0 {
			b.WriteString(mutedStyle.Render("  no tasks"))
			b.WriteString("\n")
			continue
		}
		for _, a := range assignments {
			skills := "none"
			if len(a.Skills) > 0 {
				skills = strings.Join(a.Skills, ", ")
			}
			fmt.Fprintf(&b, "  - %s [%s] skills: %s, est. %s\n", a.TaskID, a.Category, skills, a.EstimatedLabel())
		}
	}
	return b.String()
}
