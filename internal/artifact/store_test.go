package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

func fixedClock() time.Time {
	return time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)
}

func TestStoreSaveTaskListAppendsBlockToNarrative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan", "PLAN.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("# Feature\nNotes only"), 0o644))

	store := NewStore(path, WithFormat(FormatYAML))
	require.NoError(t, store.SaveTaskList(samplePlan()))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# Feature\nNotes only\n\n```yaml\n"))

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, samplePlan(), doc.Data)
	assert.Equal(t, "# Feature\nNotes only\n\n", doc.Preamble)
}

func TestStoreSaveTaskListCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "PLAN.md")
	store := NewStore(path)
	require.NoError(t, store.SaveTaskList(samplePlan()))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, doc.Format)
	assert.Equal(t, "", doc.Preamble)
	assert.Equal(t, "plan-123", doc.Data.PlanID)
}

func TestStoreLoadMissingBlockFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PLAN.md")
	require.NoError(t, os.WriteFile(path, []byte("no data here\n"), 0o644))
	_, err := NewStore(path).Load()
	assert.ErrorIs(t, err, ErrMissingBlock)
}

func TestStoreStatusUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PLAN.md")
	store := NewStore(path, WithClock(fixedClock))
	require.NoError(t, store.SaveTaskList(samplePlan()))

	require.NoError(t, store.MarkExecuted())
	require.NoError(t, store.SetTaskStatus("T1", workflow.StatusCompleted))
	require.NoError(t, store.RecordFailure("T2", "worker crashed"))

	doc, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, doc.Data.ExecutedAt)
	assert.Equal(t, fixedClock(), *doc.Data.ExecutedAt)
	assert.Nil(t, doc.Data.CompletedAt)
	assert.Equal(t, workflow.StatusCompleted, doc.Data.Tasks[0].Status)
	assert.Equal(t, workflow.StatusPending, doc.Data.Tasks[1].Status)
	assert.Equal(t, "worker crashed", doc.Data.Tasks[1].Metadata["lastFailure"])

	require.NoError(t, store.SetTaskStatus("T2", workflow.StatusCompleted))
	doc, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, doc.Data.CompletedAt)
	assert.Equal(t, fixedClock(), *doc.Data.CompletedAt)
	assert.NotContains(t, doc.Data.Tasks[1].Metadata, "lastFailure", "completion clears the failure")

	assert.ErrorIs(t, store.SetTaskStatus("T9", workflow.StatusCompleted), workflow.ErrTaskNotFound)
}

func TestStoreRetryClearsFailureButKeepsOtherMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PLAN.md")
	store := NewStore(path, WithClock(fixedClock))
	plan := samplePlan()
	plan.Tasks[1].Metadata = map[string]any{"owner": "ops"}
	require.NoError(t, store.SaveTaskList(plan))

	require.NoError(t, store.RecordFailure("T2", "worker crashed"))
	require.NoError(t, store.SetTaskStatus("T2", workflow.StatusPending))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "worker crashed", doc.Data.Tasks[1].Metadata["lastFailure"], "pending keeps the failure")

	require.NoError(t, store.SetTaskStatus("T2", workflow.StatusInProgress))
	doc, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"owner": "ops"}, doc.Data.Tasks[1].Metadata)
}

func TestStoreUpdateSkipsWriteOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PLAN.md")
	store := NewStore(path)
	require.NoError(t, store.SaveTaskList(samplePlan()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = store.Update(func(list *workflow.WorkflowTaskList) error {
		list.PlanName = "changed"
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
