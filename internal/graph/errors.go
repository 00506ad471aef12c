package graph

import (
	"errors"
	"fmt"
)

// WorkflowLevel is the StageIndex of violations that concern the workflow as a
// whole rather than one stage.
const WorkflowLevel = -1

// ValidationError is a single static violation found in a definition.
type ValidationError struct {
	StageIndex int
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	switch {
	case e.StageIndex == WorkflowLevel && e.Field == "":
		return "workflow: " + e.Reason
	case e.StageIndex == WorkflowLevel:
		return fmt.Sprintf("workflow: %s: %s", e.Field, e.Reason)
	case e.Field == "":
		return fmt.Sprintf("stage %d: %s", e.StageIndex, e.Reason)
	default:
		return fmt.Sprintf("stage %d: %s: %s", e.StageIndex, e.Field, e.Reason)
	}
}

// Violations unpacks every *ValidationError from err, including those inside
// joined errors. It returns nil for a nil error.
func Violations(err error) []*ValidationError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*ValidationError
		for _, e := range joined.Unwrap() {
			out = append(out, Violations(e)...)
		}
		return out
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return []*ValidationError{ve}
	}
	return nil
}
