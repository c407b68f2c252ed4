package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

func task(id string, blocks, blockedBy []string) workflow.Task {
	return workflow.Task{ID: id, Subject: id, Description: id, Status: workflow.StatusPending, Blocks: blocks, BlockedBy: blockedBy}
}

func TestComputeWavesNoDependenciesAllWaveOne(t *testing.T) {
	tasks := []workflow.Task{task("A", nil, nil), task("B", nil, nil), task("C", nil, nil)}
	waves, err := ComputeWaves(tasks)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, waves)
}

func TestComputeWavesSimpleChain(t *testing.T) {
	tasks := []workflow.Task{
		task("T1", []string{"T2"}, nil),
		task("T2", nil, []string{"T1"}),
	}
	waves, err := ComputeWaves(tasks)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"T1": 1, "T2": 2}, waves)

	stamped, err := ApplyComputedWaves(tasks)
	require.NoError(t, err)
	groups := GroupByWave(stamped)
	require.Len(t, groups, 2)
	assert.Equal(t, 1, groups[0].Wave)
	assert.Equal(t, "T1", groups[0].Tasks[0].ID)
	assert.Equal(t, 2, groups[1].Wave)
	assert.Equal(t, "T2", groups[1].Tasks[0].ID)
}

func TestComputeWavesDependentAlwaysLater(t *testing.T) {
	tasks := []workflow.Task{
		task("A", []string{"C", "D"}, nil),
		task("B", []string{"D"}, nil),
		task("C", []string{"E"}, []string{"A"}),
		task("D", []string{"E"}, []string{"A", "B"}),
		task("E", nil, []string{"C", "D"}),
		task("F", nil, nil),
	}
	waves, err := ComputeWaves(tasks)
	require.NoError(t, err)
	for _, tk := range tasks {
		for _, blocked := range tk.Blocks {
			assert.Less(t, waves[tk.ID], waves[blocked], "%s blocks %s", tk.ID, blocked)
		}
	}
	assert.Equal(t, 1, waves["F"])
	assert.Equal(t, 3, waves["E"])
}

func TestComputeWavesReportsUnreachedTasks(t *testing.T) {
	tasks := []workflow.Task{
		task("A", nil, nil),
		task("B", []string{"C"}, []string{"C"}),
		task("C", []string{"B"}, []string{"B"}),
		task("D", nil, []string{"ghost"}),
	}
	waves, err := ComputeWaves(tasks)
	var unscheduled *UnscheduledError
	require.True(t, errors.As(err, &unscheduled))
	assert.Equal(t, []string{"B", "C", "D"}, unscheduled.TaskIDs)
	assert.Equal(t, map[string]int{"A": 1}, waves)

	_, err = ApplyComputedWaves(tasks)
	assert.Error(t, err)
}

func TestApplyComputedWavesLeavesInputUntouched(t *testing.T) {
	tasks := []workflow.Task{
		task("T1", []string{"T2"}, nil),
		task("T2", nil, []string{"T1"}),
	}
	tasks[1].Metadata = map[string]any{"k": "v"}
	out, err := ApplyComputedWaves(tasks)
	require.NoError(t, err)
	assert.Equal(t, 0, tasks[1].Wave)
	assert.Equal(t, 2, out[1].Wave)
	assert.Equal(t, "v", out[1].Metadata["k"])
}

func TestGroupByWaveOmitsEmptyWaves(t *testing.T) {
	tasks := []workflow.Task{
		{ID: "A", Wave: 3},
		{ID: "B"},
		{ID: "C", Wave: 1},
	}
	groups := GroupByWave(tasks)
	require.Len(t, groups, 2)
	assert.Equal(t, 1, groups[0].Wave)
	assert.Len(t, groups[0].Tasks, 2)
	assert.Equal(t, 3, groups[1].Wave)
	assert.Equal(t, 3, MaxWave(tasks))
}

func TestApplyManualWavesRejectsInvertedEdge(t *testing.T) {
	tasks := []workflow.Task{
		task("T1", []string{"T2"}, nil),
		task("T2", nil, []string{"T1"}),
	}
	_, err := ApplyManualWaves(tasks, map[string]int{"T1": 2, "T2": 1})
	var violation *WaveOverrideViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "T1", violation.Blocker)
	assert.Equal(t, 2, violation.BlockerWave)
	assert.Equal(t, "T2", violation.Blocked)
	assert.Equal(t, 1, violation.BlockedWave)
	assert.Contains(t, err.Error(), "T1 (wave 2) blocks T2 (wave 1)")
}

func TestApplyManualWavesFallsBackToWaveOne(t *testing.T) {
	tasks := []workflow.Task{
		task("T1", []string{"T2"}, nil),
		task("T2", nil, []string{"T1"}),
	}
	_, err := ApplyManualWaves(tasks, map[string]int{"T1": 2})
	var violation *WaveOverrideViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, 1, violation.BlockedWave)

	out, err := ApplyManualWaves(tasks, map[string]int{"T2": 4})
	require.NoError(t, err)
	assert.Equal(t, 4, out[1].Wave)
	assert.Equal(t, 0, out[0].Wave)
}

func TestCheckWaveOrderOnStoredWaves(t *testing.T) {
	tasks := []workflow.Task{
		task("T1", []string{"T2"}, nil),
		task("T2", nil, []string{"T1"}),
	}
	tasks[0].Wave, tasks[1].Wave = 1, 1
	require.NoError(t, CheckWaveOrder(tasks), "equal waves keep the order")

	tasks[0].Wave = 3
	tasks[1].Wave = 2
	err := CheckWaveOrder(tasks)
	var violation *WaveOverrideViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "T1", violation.Blocker)
	assert.Equal(t, 2, violation.BlockedWave)
}

func TestApplyManualWavesRejectsBadOverrides(t *testing.T) {
	tasks := []workflow.Task{task("T1", nil, nil)}
	_, err := ApplyManualWaves(tasks, map[string]int{"nope": 1})
	assert.ErrorIs(t, err, ErrInvalidOverride)
	_, err = ApplyManualWaves(tasks, map[string]int{"T1": 0})
	assert.ErrorIs(t, err, ErrInvalidOverride)
}

func TestCanStartAndReadyInWave(t *testing.T) {
	tasks := []workflow.Task{
		task("A", []string{"C"}, nil),
		task("B", nil, nil),
		task("C", nil, []string{"A"}),
	}
	tasks[0].Wave, tasks[1].Wave, tasks[2].Wave = 1, 1, 2
	tasks[1].Status = workflow.StatusInProgress

	assert.True(t, CanStart("A", tasks, nil))
	assert.False(t, CanStart("C", tasks, workflow.NewIDSet()))
	assert.True(t, CanStart("C", tasks, workflow.NewIDSet("A")))
	assert.False(t, CanStart("missing", tasks, nil))

	ready := ReadyInWave(tasks, 1, workflow.NewIDSet())
	require.Len(t, ready, 1)
	assert.Equal(t, "A", ready[0].ID)

	assert.Empty(t, ReadyInWave(tasks, 2, workflow.NewIDSet()))
	ready = ReadyInWave(tasks, 2, workflow.NewIDSet("A"))
	require.Len(t, ready, 1)
	assert.Equal(t, "C", ready[0].ID)
}

func TestEstimateDuration(t *testing.T) {
	tasks := []workflow.Task{
		{ID: "A", Wave: 1, EstimatedEffort: "45m"},
		{ID: "B", Wave: 1, EstimatedEffort: "2h"},
		{ID: "C", Wave: 2},
		{ID: "D", Wave: 2, EstimatedEffort: "soon"},
		{ID: "E", Wave: 3, EstimatedEffort: "10m"},
	}
	est := EstimateDuration(tasks)
	assert.Equal(t, 2*time.Hour, est.PerWave[1])
	assert.Equal(t, 30*time.Minute, est.PerWave[2])
	assert.Equal(t, 10*time.Minute, est.PerWave[3])
	assert.Equal(t, 2*time.Hour+40*time.Minute, est.Total)
	assert.Equal(t, []int{1, 2, 3}, est.Waves())
	assert.Equal(t, "2h 40m", FormatMinutes(est.Total))
	assert.Equal(t, "30m", FormatMinutes(est.PerWave[2]))
}

func TestEstimateZeroEffortWave(t *testing.T) {
	est := EstimateDuration([]workflow.Task{{ID: "A", EstimatedEffort: "0m"}})
	dur, ok := est.PerWave[1]
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), dur)
	assert.Equal(t, "0m", FormatMinutes(est.Total))
}
