package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/workflow"
)

var epoch = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

func planTask(id string, wave int, blockedBy ...string) workflow.Task {
	return workflow.Task{
		ID: id, Subject: "Subject " + id, Description: "Describe " + id,
		Status: workflow.StatusPending, Wave: wave, BlockedBy: blockedBy,
	}
}

// linked fills in the blocks side of every blockedBy edge.
func linked(tasks ...workflow.Task) []workflow.Task {
	index := map[string]int{}
	for i, task := range tasks {
		index[task.ID] = i
	}
	for _, task := range tasks {
		for _, dep := range task.BlockedBy {
			blocker := &tasks[index[dep]]
			blocker.Blocks = append(blocker.Blocks, task.ID)
		}
	}
	return tasks
}

func TestInitializeAndComplete(t *testing.T) {
	tasks := linked(planTask("T1", 1), planTask("T2", 2, "T1"))
	state := Initialize("wf-1", tasks, epoch)
	assert.Equal(t, 2, state.TotalTasks)
	assert.Equal(t, 0, state.CompletedTasks)
	assert.Equal(t, 0, state.FailedTasks)
	assert.Equal(t, 1, state.CurrentWave)
	assert.Equal(t, 2, state.MaxWave)
	assert.Equal(t, epoch, state.StartedAt)

	require.NoError(t, state.MarkCompleted("T1"))
	require.NoError(t, state.MarkCompleted("T2"))
	assert.False(t, state.IsComplete(), "still on wave 1")
	state.CurrentWave = state.MaxWave
	assert.True(t, state.IsComplete())

	summary := state.Summarize(DefaultHaltThreshold)
	assert.Equal(t, RunStatusCompleted, summary.Status)
	assert.Equal(t, 100.0, summary.SuccessRate)
	assert.Equal(t, 0, summary.PendingTasks)
	assert.Empty(t, summary.Duration)
}

func TestInitializeWithoutWaves(t *testing.T) {
	state := Initialize("wf", []workflow.Task{planTask("A", 0)}, epoch)
	assert.Equal(t, 1, state.MaxWave)
	assert.False(t, state.AdvanceWave())
}

func TestMarkIsIdempotent(t *testing.T) {
	state := Initialize("wf", []workflow.Task{planTask("A", 1), planTask("B", 1), planTask("C", 1)}, epoch)
	require.NoError(t, state.MarkCompleted("A"))
	require.NoError(t, state.MarkCompleted("A"))
	require.NoError(t, state.MarkFailed("B"))
	require.NoError(t, state.MarkFailed("B"))
	require.NoError(t, state.MarkFailed("A"))
	assert.Equal(t, 1, state.CompletedTasks)
	assert.Equal(t, 1, state.FailedTasks)

	require.NoError(t, state.MarkCompleted("B"))
	assert.Equal(t, 2, state.CompletedTasks)
	assert.Equal(t, 0, state.FailedTasks)
	assert.False(t, state.FailedTaskIDs.Has("B"))

	err := state.MarkCompleted("ghost")
	assert.True(t, errors.Is(err, ErrUnknownTask))
}

func TestShouldHalt(t *testing.T) {
	two := Initialize("wf", []workflow.Task{planTask("A", 1), planTask("B", 1)}, epoch)
	require.NoError(t, two.MarkFailed("A"))
	assert.True(t, two.ShouldHalt(0.5))

	three := Initialize("wf", []workflow.Task{planTask("A", 1), planTask("B", 1), planTask("C", 1)}, epoch)
	require.NoError(t, three.MarkFailed("A"))
	assert.False(t, three.ShouldHalt(0.5))
	assert.True(t, three.ShouldHalt(0.3))
	assert.False(t, three.ShouldHalt(0), "zero means the default threshold")

	empty := Initialize("wf", nil, epoch)
	assert.False(t, empty.ShouldHalt(0.5))
}

func TestStatusDerivation(t *testing.T) {
	tasks := []workflow.Task{planTask("A", 1), planTask("B", 1), planTask("C", 1), planTask("D", 1)}

	state := Initialize("wf", tasks, epoch)
	assert.Equal(t, RunStatusInProgress, state.Status(0.5))

	require.NoError(t, state.MarkFailed("A"))
	require.NoError(t, state.MarkFailed("B"))
	assert.Equal(t, RunStatusHalted, state.Status(0.5), "halted while work is still pending")

	require.NoError(t, state.MarkCompleted("C"))
	require.NoError(t, state.MarkCompleted("D"))
	assert.Equal(t, RunStatusFailed, state.Status(0.5))

	summary := state.Summarize(0.5)
	assert.Equal(t, 50.0, summary.SuccessRate)
	assert.Equal(t, 2, summary.FailedTasks)

	empty := Initialize("wf", nil, epoch).Summarize(0.5)
	assert.Equal(t, 0.0, empty.SuccessRate)
}

func TestSummaryDuration(t *testing.T) {
	state := Initialize("wf", []workflow.Task{planTask("A", 1)}, epoch)
	state.Finish(epoch.Add(12 * time.Minute))
	assert.Equal(t, "12m", state.Summarize(0).Duration)
	state.Finish(epoch.Add(3*time.Minute + 7*time.Second))
	assert.Equal(t, "3m 7s", state.Summarize(0).Duration)
	state.Finish(epoch.Add(45 * time.Second))
	assert.Equal(t, "0m 45s", state.Summarize(0).Duration)
}

func TestNextRunnableFollowsCurrentWave(t *testing.T) {
	tasks := linked(planTask("A", 1), planTask("B", 1), planTask("C", 2, "A"))
	state := Initialize("wf", tasks, epoch)
	ids := func(list []workflow.Task) []string {
		var out []string
		for _, task := range list {
			out = append(out, task.ID)
		}
		return out
	}
	assert.Equal(t, []string{"A", "B"}, ids(NextRunnable(tasks, state)))
	require.True(t, state.AdvanceWave())
	assert.Empty(t, NextRunnable(tasks, state))
	require.NoError(t, state.MarkCompleted("A"))
	assert.Equal(t, []string{"C"}, ids(NextRunnable(tasks, state)))
	assert.False(t, state.AdvanceWave())
}

func TestStateJSONListsIDs(t *testing.T) {
	state := Initialize("wf", []workflow.Task{planTask("B", 1), planTask("A", 1)}, epoch)
	require.NoError(t, state.MarkCompleted("B"))
	require.NoError(t, state.MarkCompleted("A"))
	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"completedTaskIds":["A","B"]`)
}

func TestBuildPlanKeysByTrueWave(t *testing.T) {
	tasks := linked(planTask("A", 1), planTask("B", 3, "A"), planTask("C", 3, "A"))
	tasks[0].Category = workflow.CategoryQuick
	plan, err := BuildPlan(delegation.NewResolver(), "wf", tasks, "")
	require.NoError(t, err)
	assert.True(t, plan.Valid())
	assert.Equal(t, 3, plan.MaxWave)
	assert.Equal(t, 3, plan.TotalTasks)
	require.Len(t, plan.WaveAssignments, 3)
	assert.Len(t, plan.WaveAssignments[1], 1)
	assert.Empty(t, plan.WaveAssignments[2])
	require.Len(t, plan.WaveAssignments[3], 2)
	assert.Equal(t, "B", plan.WaveAssignments[3][0].TaskID)
	assert.Equal(t, "C", plan.WaveAssignments[3][1].TaskID)

	out := Render(plan)
	assert.Contains(t, out, "Wave 2")
	assert.Contains(t, out, "no tasks")
	assert.Contains(t, out, "A [quick] skills: none, est. 30m")
}

func TestBuildPlanStopsOnValidationErrors(t *testing.T) {
	tasks := []workflow.Task{planTask("A", 1), {ID: "B", Subject: "b", Wave: 2}, {ID: "C", Description: "c", Category: "odd"}}
	plan, err := BuildPlan(delegation.NewResolver(), "wf", tasks, "")
	require.NoError(t, err)
	assert.False(t, plan.Valid())
	assert.Empty(t, plan.WaveAssignments)
	assert.Equal(t, []string{
		"task B: description is required",
		"task C: subject is required",
		`task C: unknown category "odd"`,
	}, plan.ValidationErrors)

	out := Render(plan)
	assert.Contains(t, out, "Validation errors")
	assert.Contains(t, out, "task B: description is required")
	assert.NotContains(t, out, "Wave 1")
}
