package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestList() WorkflowTaskList {
	list := NewTaskList("checkout redesign", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	list.Tasks = []Task{
		{ID: "T1", Subject: "schema", Status: StatusPending},
		{ID: "T2", Subject: "api", Status: StatusPending},
		{ID: "T3", Subject: "ui", Status: StatusPending},
	}
	return list
}

func TestNewTaskListAssignsIdentifier(t *testing.T) {
	list := newTestList()
	assert.NotEmpty(t, list.PlanID)
	assert.Equal(t, "checkout redesign", list.PlanName)
	assert.True(t, list.AutoParallelization)
}

func TestLinkKeepsEdgesSymmetric(t *testing.T) {
	list := newTestList()
	require.NoError(t, list.Link("T1", "T2"))
	require.NoError(t, list.Link("T1", "T2"))

	t1, _ := list.Task("T1")
	t2, _ := list.Task("T2")
	assert.Equal(t, []string{"T2"}, t1.Blocks)
	assert.Equal(t, []string{"T1"}, t2.BlockedBy)

	err := list.Link("T1", "missing")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	assert.Error(t, list.Link("T1", "T1"))
}

func TestApplyUpdateChangesStatus(t *testing.T) {
	list := newTestList()
	require.NoError(t, list.ApplyUpdate(TaskUpdate{TaskID: "T2", Status: StatusCompleted}))
	t2, _ := list.Task("T2")
	assert.Equal(t, StatusCompleted, t2.Status)

	assert.Error(t, list.ApplyUpdate(TaskUpdate{TaskID: "T2", Status: "exploded"}))
	assert.ErrorIs(t, list.ApplyUpdate(TaskUpdate{TaskID: "T9", Status: StatusCompleted}), ErrTaskNotFound)
}

func TestApplyUpdateDeleteScrubsEdges(t *testing.T) {
	list := newTestList()
	require.NoError(t, list.Link("T1", "T2"))
	require.NoError(t, list.Link("T2", "T3"))

	require.NoError(t, list.ApplyUpdate(TaskUpdate{TaskID: "T2", Status: StatusDeleted}))

	assert.Equal(t, []string{"T1", "T3"}, list.TaskIDs())
	t1, _ := list.Task("T1")
	t3, _ := list.Task("T3")
	assert.Empty(t, t1.Blocks)
	assert.Empty(t, t3.BlockedBy)
}

func TestCloneDoesNotShareTasks(t *testing.T) {
	list := newTestList()
	list.MarkExecuted(time.Now())
	clone := list.Clone()
	clone.Tasks[0].Subject = "changed"
	*clone.ExecutedAt = clone.ExecutedAt.Add(time.Hour)

	assert.Equal(t, "schema", list.Tasks[0].Subject)
	assert.NotEqual(t, *list.ExecutedAt, *clone.ExecutedAt)
}
