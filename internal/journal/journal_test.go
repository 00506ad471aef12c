package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/assembler"
	"github.com/specialistvlad/stagegrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T, ctx context.Context, path string) *Journal {
	t.Helper()
	j, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func events(buildID string, start time.Time) []assembler.Event {
	at := func(i int) time.Time { return start.Add(time.Duration(i) * time.Second) }
	return []assembler.Event{
		{Type: assembler.EventStarted, BuildID: buildID, Workflow: "germline", State: assembler.Validating, Stage: -1, Time: at(0)},
		{Type: assembler.EventCreated, BuildID: buildID, Workflow: "germline", WorkflowID: "workflow-1", State: assembler.Created, Stage: -1, Time: at(1)},
		{Type: assembler.EventAttached, BuildID: buildID, Workflow: "germline", WorkflowID: "workflow-1", State: assembler.AttachingStages, Stage: 0, StageID: "stage-1", Artifact: "applet-a", Time: at(2)},
		{Type: assembler.EventAttached, BuildID: buildID, Workflow: "germline", WorkflowID: "workflow-1", State: assembler.AttachingStages, Stage: 1, StageID: "stage-2", Artifact: "applet-b", Time: at(3)},
		{Type: assembler.EventBound, BuildID: buildID, Workflow: "germline", WorkflowID: "workflow-1", State: assembler.BindingInputs, Stage: 0, StageID: "stage-1", Time: at(4)},
	}
}

func TestJournal_RecordsSealedBuild(t *testing.T) {
	ctx, _ := testutil.Context(t)
	j := openJournal(t, ctx, ":memory:")
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	evs := events("build-1", start)
	evs = append(evs,
		assembler.Event{Type: assembler.EventBound, BuildID: "build-1", WorkflowID: "workflow-1", State: assembler.BindingInputs, Stage: 1, StageID: "stage-2", Time: start.Add(5 * time.Second)},
		assembler.Event{Type: assembler.EventSealed, BuildID: "build-1", WorkflowID: "workflow-1", State: assembler.Sealed, Stage: -1, Time: start.Add(6 * time.Second)},
	)
	for _, e := range evs {
		j.Observe(ctx, e)
	}

	b, stages, err := j.Build(ctx, "build-1")
	require.NoError(t, err)
	assert.Equal(t, "germline", b.Workflow)
	assert.Equal(t, "workflow-1", b.WorkflowID)
	assert.Equal(t, "sealed", b.State)
	assert.Equal(t, 1, b.LastCompleted, "sealing keeps the last bound stage")
	assert.Empty(t, b.Error)
	assert.Equal(t, start, b.StartedAt)
	assert.Equal(t, start.Add(6*time.Second), b.UpdatedAt)

	require.Len(t, stages, 2)
	assert.Equal(t, Stage{Index: 0, ID: "stage-1", Artifact: "applet-a", State: StageBound, UpdatedAt: start.Add(4 * time.Second)}, stages[0])
	assert.Equal(t, StageBound, stages[1].State)
}

func TestJournal_RecordsFailure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	j := openJournal(t, ctx, ":memory:")
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, e := range events("build-2", start) {
		j.Observe(ctx, e)
	}
	be := &assembler.BuildError{State: assembler.BindingInputs, StageIndex: 1, LastCompleted: 0, Err: errors.New("edit version conflict")}
	j.Observe(ctx, assembler.Event{Type: assembler.EventFailed, BuildID: "build-2", WorkflowID: "workflow-1", State: assembler.Failed, Stage: 1, Err: be, Time: start.Add(time.Minute)})

	b, stages, err := j.Build(ctx, "build-2")
	require.NoError(t, err)
	assert.Equal(t, "failed", b.State)
	assert.Equal(t, 0, b.LastCompleted)
	assert.Contains(t, b.Error, "edit version conflict")
	require.Len(t, stages, 2)
	assert.Equal(t, StageBound, stages[0].State)
	assert.Equal(t, StageAttached, stages[1].State, "stage 1 was attached but never bound")
}

func TestJournal_BuildsNewestFirst(t *testing.T) {
	ctx, _ := testutil.Context(t)
	j := openJournal(t, ctx, ":memory:")
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		j.Observe(ctx, assembler.Event{Type: assembler.EventStarted, BuildID: id, Workflow: "wf", Stage: -1, Time: start.Add(time.Duration(i) * time.Hour)})
	}

	builds, err := j.Builds(ctx, 2)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "new", builds[0].ID)
	assert.Equal(t, "mid", builds[1].ID)
}

func TestJournal_PersistsAcrossOpens(t *testing.T) {
	ctx, _ := testutil.Context(t)
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(ctx, path)
	require.NoError(t, err)
	j.Observe(ctx, assembler.Event{Type: assembler.EventStarted, BuildID: "build-3", Workflow: "wf", Stage: -1})
	require.NoError(t, j.Close())

	j = openJournal(t, ctx, path)
	b, _, err := j.Build(ctx, "build-3")
	require.NoError(t, err)
	assert.Equal(t, "validating", b.State)
}

func TestJournal_UnknownBuild(t *testing.T) {
	ctx, _ := testutil.Context(t)
	j := openJournal(t, ctx, ":memory:")
	_, _, err := j.Build(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_WriteFailureIsLogged(t *testing.T) {
	ctx, logs := testutil.Context(t)
	j := openJournal(t, ctx, ":memory:")
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	e := events("build-4", start)[0]
	j.Observe(ctx, e)
	j.Observe(ctx, e)

	assert.Contains(t, logs.String(), "Failed to write build journal.")
}
