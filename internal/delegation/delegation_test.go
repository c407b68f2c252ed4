package delegation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

type recordingWarner struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingWarner) Warn(msg any, keyvals ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, fmt.Sprint(msg))
}

func newTask(id string, category workflow.Category) workflow.Task {
	return workflow.Task{ID: id, Subject: "Subject " + id, Description: "Describe " + id, Category: category, Status: workflow.StatusPending}
}

func TestResolveConfigUnionsSkills(t *testing.T) {
	task := newTask("T1", workflow.CategoryVisualEngineering)
	task.Skills = []string{"playwright", "frontend-ui-ux", "playwright"}
	cfg := NewResolver().ResolveConfig(task)
	assert.Equal(t, workflow.CategoryVisualEngineering, cfg.Category)
	assert.ElementsMatch(t, []string{"frontend-ui-ux", "playwright"}, cfg.Skills)
}

func TestResolveConfigFallsBackWithWarning(t *testing.T) {
	warner := &recordingWarner{}
	resolver := NewResolver(WithWarner(warner))

	cfg := resolver.ResolveConfig(newTask("T1", "mystery"))
	assert.Equal(t, workflow.CategoryUnspecifiedHigh, cfg.Category)
	assert.Equal(t, []string{"unknown task category, using default"}, warner.messages)

	cfg = resolver.ResolveConfig(newTask("T2", " "))
	assert.Equal(t, workflow.CategoryUnspecifiedHigh, cfg.Category)
	assert.Equal(t, "task has no category, using default", warner.messages[1])

	cfg = resolver.ResolveConfig(newTask("T3", " quick "))
	assert.Equal(t, workflow.CategoryQuick, cfg.Category)
	assert.Len(t, warner.messages, 2, "padded category is recognised")
}

func TestResolveConfigDoesNotShareTableSlices(t *testing.T) {
	resolver := NewResolver()
	task := newTask("T1", workflow.CategoryDeep)
	task.Skills = []string{"extra"}
	first := resolver.ResolveConfig(task)
	first.Skills[0] = "mutated"
	second := resolver.ResolveConfig(newTask("T2", workflow.CategoryDeep))
	assert.Equal(t, []string{"research"}, second.Skills)
}

func TestTableOverrides(t *testing.T) {
	resolver, err := NewResolverWithOverrides(map[workflow.Category]Override{
		workflow.CategoryQuick: {Skills: []string{"git"}, DefaultAssignee: "junior"},
		workflow.CategoryDeep:  {Skills: []string{"research", "profiling"}, Description: "Slow and careful"},
	})
	require.NoError(t, err)

	quick := resolver.ResolveConfig(newTask("Q", workflow.CategoryQuick))
	assert.Equal(t, []string{"git"}, quick.Skills)
	assert.Equal(t, "junior", quick.DefaultAssignee)

	deep := resolver.ResolveConfig(newTask("D", workflow.CategoryDeep))
	assert.Equal(t, []string{"research", "profiling"}, deep.Skills)
	assert.Equal(t, "Slow and careful", deep.Description)

	assert.Equal(t, []string{"research"}, DefaultTable()[workflow.CategoryDeep].Skills)

	_, err = NewResolverWithOverrides(map[workflow.Category]Override{"nope": {}})
	assert.Error(t, err)
}

func TestRenderWorkOrderMinimal(t *testing.T) {
	out, err := RenderWorkOrder(workflow.Task{ID: "T1", Subject: "Sketch", Description: "Do it"}, "")
	require.NoError(t, err)
	assert.Equal(t, "## Task: Sketch (T1)\n\n### Description\nDo it\n\n### Dependencies\nNo blocking dependencies. Start immediately.\n", out)
}

func TestRenderWorkOrderFull(t *testing.T) {
	task := workflow.Task{
		ID: "T2", Subject: "Build", Description: "Implement the page",
		EstimatedEffort: "45m",
		BlockedBy:       []string{"T0", "T1"},
		Blocks:          []string{"T3"},
		Metadata:        map[string]any{"ticket": "CHK-7", "attempt": 2},
	}
	out, err := RenderWorkOrder(task, "  Use the shared design tokens.\n")
	require.NoError(t, err)
	want := strings.Join([]string{
		"## Task: Build (T2)",
		"",
		"### Description",
		"Implement the page",
		"",
		"### Estimated effort",
		"45m",
		"",
		"### Metadata",
		"- attempt: 2",
		"- ticket: CHK-7",
		"",
		"### Context",
		"Use the shared design tokens.",
		"",
		"### Dependencies",
		"Blocked by: T0, T1. Ensure these complete first.",
		"This task blocks: T3.",
		"",
	}, "\n")
	assert.Equal(t, want, out)
}

func TestBuildAssignment(t *testing.T) {
	warner := &recordingWarner{}
	task := newTask("T1", workflow.CategoryWriting)
	task.EstimatedEffort = "2h"
	task.Wave = 3
	assignment, err := NewResolver(WithWarner(warner)).BuildAssignment(task, "ctx")
	require.NoError(t, err)
	assert.Equal(t, "T1", assignment.TaskID)
	assert.Equal(t, 3, assignment.Wave)
	assert.True(t, assignment.AlwaysBackground)
	assert.Equal(t, 2*time.Hour, assignment.EstimatedDuration)
	assert.Equal(t, "2h 0m", assignment.EstimatedLabel())
	assert.Contains(t, assignment.Prompt, "### Context\nctx")
	assert.Empty(t, warner.messages)

	task.EstimatedEffort = "a while"
	assignment, err = NewResolver(WithWarner(warner)).BuildAssignment(task, "")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, assignment.EstimatedDuration)
	assert.Equal(t, "30m", assignment.EstimatedLabel())
	assert.Len(t, warner.messages, 1)
}

func TestValidateForDelegation(t *testing.T) {
	ok, problems := ValidateForDelegation(newTask("T1", workflow.CategoryQuick))
	assert.True(t, ok)
	assert.Empty(t, problems)

	ok, problems = ValidateForDelegation(workflow.Task{ID: "T2", Subject: "  ", Category: "bogus"})
	assert.False(t, ok)
	assert.Equal(t, []string{
		"task T2: description is required",
		"task T2: subject is required",
		`task T2: unknown category "bogus"`,
	}, problems)

	ok, problems = ValidateForDelegation(newTask("T3", " quick "))
	assert.True(t, ok, "category is trimmed like ResolveConfig does")
	assert.Empty(t, problems)

	ok, problems = ValidateForDelegation(workflow.Task{})
	assert.False(t, ok)
	assert.Len(t, problems, 3)
	assert.Contains(t, problems[0], "<unnamed>")
}

func TestBuildDelegationPlanCountsEveryCategory(t *testing.T) {
	tasks := []workflow.Task{
		newTask("A", workflow.CategoryVisualEngineering),
		newTask("B", workflow.CategoryUltrabrain),
		newTask("C", workflow.CategoryQuick),
		newTask("D", workflow.CategoryWriting),
	}
	tasks[2].Wave = 2
	tasks[3].Wave = 2
	plan, err := NewResolver().BuildDelegationPlan(tasks, "", "1h 30m")
	require.NoError(t, err)
	assert.Equal(t, 4, plan.TotalTasks)
	assert.Equal(t, map[workflow.Category]int{
		workflow.CategoryVisualEngineering: 1,
		workflow.CategoryUltrabrain:        1,
		workflow.CategoryQuick:             1,
		workflow.CategoryWriting:           1,
		workflow.CategoryDeep:              0,
		workflow.CategoryArtistry:          0,
		workflow.CategoryUnspecifiedLow:    0,
		workflow.CategoryUnspecifiedHigh:   0,
	}, plan.CountsByCategory)
	assert.Equal(t, map[int]int{1: 2, 2: 2}, plan.CountsByWave)
	assert.Len(t, plan.Assignments, 4)
	assert.Equal(t, "1h 30m", plan.TotalDuration)
}

func TestOutboxTargetWritesWorkOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbox")
	created := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	target := NewOutboxTarget(dir, WithOutboxClock(func() time.Time { return created }))

	task := newTask("Auth Flow/1", workflow.CategoryDeep)
	assignment, err := NewResolver().BuildAssignment(task, "")
	require.NoError(t, err)

	handle, err := target.Dispatch(context.Background(), "plan-1", assignment)
	require.NoError(t, err)
	assert.Equal(t, "Auth Flow/1", handle.TaskID)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, filepath.Join(dir, "auth-flow-1.md"), handle.Ref)

	header, body, err := ReadWorkOrder(handle.Ref)
	require.NoError(t, err)
	assert.Equal(t, WorkOrderKind, header.Kind)
	assert.Equal(t, "plan-1", header.PlanID)
	assert.Equal(t, "deep", header.Category)
	assert.Equal(t, created, header.CreatedAt)
	assert.Equal(t, "30m", header.Notes["estimate"])
	assert.NotContains(t, header.Notes, "notify")
	assert.Equal(t, assignment.Prompt, body)
}

func TestOutboxTargetRecordsNotifyURL(t *testing.T) {
	target := NewOutboxTarget(t.TempDir(), WithNotifyURL("http://127.0.0.1:8765/events"))
	handle, err := target.Dispatch(context.Background(), "plan-1", Assignment{TaskID: "T1", Prompt: "do it"})
	require.NoError(t, err)
	header, _, err := ReadWorkOrder(handle.Ref)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8765/events", header.Notes["notify"])
}

func TestOutboxTargetHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOutboxTarget(t.TempDir()).Dispatch(ctx, "p", Assignment{TaskID: "T1"})
	assert.ErrorIs(t, err, context.Canceled)
}
