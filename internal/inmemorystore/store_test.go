package inmemorystore

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/stagegrid/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestStore_Lifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, version, err := s.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf", Project: "project-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	stageID, version, err := s.AddStage(ctx, id, 0, session.AddStageRequest{Executable: "applet-1", Folder: "/out"})
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	inputs := cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(1)})
	version, err = s.UpdateStageInputs(ctx, id, 1, stageID, inputs)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	desc, err := s.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.Description{ID: id, EditVersion: 2, StageIDs: []string{stageID}}, desc)

	require.NoError(t, s.Close(ctx, id))

	wf, ok := s.Workflow(id)
	require.True(t, ok)
	assert.True(t, wf.Closed)
	assert.Equal(t, "project-1", wf.Request.Project)
	require.Len(t, wf.Stages, 1)
	assert.True(t, wf.Stages[0].Inputs.RawEquals(inputs))

	ops := []string{}
	for _, c := range s.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{OpNew, OpAddStage, OpUpdate, OpDescribe, OpClose}, ops)
}

func TestStore_CompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _, err := s.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf"})
	require.NoError(t, err)

	_, _, err = s.AddStage(ctx, id, 5, session.AddStageRequest{})
	assert.ErrorIs(t, err, session.ErrStaleVersion)

	s.Bump(id)
	_, _, err = s.AddStage(ctx, id, 0, session.AddStageRequest{})
	assert.ErrorIs(t, err, session.ErrStaleVersion)

	_, version, err := s.AddStage(ctx, id, 1, session.AddStageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestStore_ClosedRejectsMutation(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, _, err := s.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf"})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, id))

	_, _, err = s.AddStage(ctx, id, 0, session.AddStageRequest{})
	assert.ErrorIs(t, err, session.ErrSealed)
	assert.ErrorIs(t, s.Close(ctx, id), session.ErrSealed)
}

func TestStore_NotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Describe(ctx, "workflow-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	id, _, err := s.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf"})
	require.NoError(t, err)
	_, err = s.UpdateStageInputs(ctx, id, 0, "stage-missing", cty.EmptyObjectVal)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FailOn(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	s.FailOn(OpAddStage, 2, boom)

	id, _, err := s.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf"})
	require.NoError(t, err)
	_, _, err = s.AddStage(ctx, id, 0, session.AddStageRequest{})
	require.NoError(t, err)
	_, _, err = s.AddStage(ctx, id, 1, session.AddStageRequest{})
	assert.ErrorIs(t, err, boom)

	wf, _ := s.Workflow(id)
	assert.Len(t, wf.Stages, 1)
	assert.Equal(t, 1, wf.EditVersion)
	assert.Len(t, s.Calls(), 3)
}

func TestStore_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf"})
	assert.ErrorIs(t, err, context.Canceled)
}
