package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrStaleVersion is returned by a Store when the supplied edit-version is
	// not the current one.
	ErrStaleVersion = errors.New("stale edit version")
	// ErrSealed is returned for any mutation of a closed workflow.
	ErrSealed = errors.New("workflow is sealed")
)

// NewWorkflowRequest describes the remote workflow object to create.
type NewWorkflowRequest struct {
	Name       string
	Title      string
	Project    string
	Folder     string
	Details    cty.Value
	Properties map[string]string
	Tags       []string
}

// Description is the remote state of a workflow as reported by the store.
type Description struct {
	ID          string
	EditVersion int
	Closed      bool
	StageIDs    []string
}

// AddStageRequest describes a stage to append.
type AddStageRequest struct {
	Executable model.ArtifactID
	Folder     string
}

// Store is the remote workflow store. Every mutating call carries the
// edit-version the caller believes is current; the store compares it with its
// own and fails with an error wrapping ErrStaleVersion on mismatch.
type Store interface {
	NewWorkflow(ctx context.Context, req NewWorkflowRequest) (id string, editVersion int, err error)
	Describe(ctx context.Context, id string) (Description, error)
	AddStage(ctx context.Context, id string, editVersion int, req AddStageRequest) (stageID string, newVersion int, err error)
	UpdateStageInputs(ctx context.Context, id string, editVersion int, stageID string, inputs cty.Value) (newVersion int, err error)
	Close(ctx context.Context, id string) error
}

// VersionConflictError reports that the remote object was changed by someone
// else. It is never retried.
type VersionConflictError struct {
	Op         string
	WorkflowID string
	Expected   int
	// Actual is the version the remote reported, or -1 when the store only
	// rejected the call.
	Actual int
	Err    error
}

func (e *VersionConflictError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("%s %s: edit version %d rejected by the remote: %v", e.Op, e.WorkflowID, e.Expected, e.Err)
	}
	return fmt.Sprintf("%s %s: edit version conflict: expected %d, remote has %d", e.Op, e.WorkflowID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error {
	if e.Err == nil {
		return ErrStaleVersion
	}
	return e.Err
}
