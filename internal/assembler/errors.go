package assembler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/executable"
	"github.com/specialistvlad/stagegrid/internal/graph"
	"github.com/specialistvlad/stagegrid/internal/inputs"
	"github.com/specialistvlad/stagegrid/internal/model"
)

// BuildError reports a failed build. The underlying error stays reachable
// with errors.As.
type BuildError struct {
	// State is the state the build was in when it failed.
	State State
	// StageIndex is the stage being processed, or -1.
	StageIndex int
	Field      string
	// LastCompleted is the last stage index that completed in State, or -1.
	LastCompleted int
	// Workflow is the remote workflow, nil if it was never created.
	Workflow *model.WorkflowHandle
	// Partial lists the stages left attached on the remote workflow.
	Partial []model.StageHandle
	Err     error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "build failed while %s", strings.ReplaceAll(e.State.String(), "_", " "))
	if e.StageIndex >= 0 {
		fmt.Fprintf(&b, " at stage %d", e.StageIndex)
		if e.Field != "" {
			fmt.Fprintf(&b, " (%s)", e.Field)
		}
	}
	if e.Workflow != nil {
		fmt.Fprintf(&b, " on %s, last completed stage %d, %d stage(s) attached", e.Workflow.ID, e.LastCompleted, len(e.Partial))
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

// locate fills StageIndex and Field from the typed errors the collaborators
// return, when the caller could not name them itself.
func locate(err error) (stage int, field string) {
	var (
		unresolved *inputs.UnresolvedStageReferenceError
		shape      *inputs.InvalidInputShapeError
		objLink    *inputs.ObjectLinkError
		build      *executable.ArtifactBuildError
	)
	switch {
	case errors.As(err, &unresolved):
		return unresolved.StageIndex, unresolved.Field
	case errors.As(err, &shape):
		return shape.StageIndex, shape.Field
	case errors.As(err, &objLink):
		return objLink.StageIndex, objLink.Field
	case errors.As(err, &build):
		return -1, "executable"
	}
	if vs := graph.Violations(err); len(vs) > 0 {
		return vs[0].StageIndex, vs[0].Field
	}
	return -1, ""
}
