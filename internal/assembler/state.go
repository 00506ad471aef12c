package assembler

import (
	"context"
	"time"

	"github.com/specialistvlad/stagegrid/internal/model"
)

// State is the state of a build.
type State int

const (
	Validating State = iota
	Created
	AttachingStages
	BindingInputs
	Sealed
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Created:
		return "created"
	case AttachingStages:
		return "attaching_stages"
	case BindingInputs:
		return "binding_inputs"
	case Sealed:
		return "sealed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventType names a build event.
type EventType string

const (
	EventStarted  EventType = "build.started"
	EventCreated  EventType = "build.created"
	EventAttached EventType = "stage.attached"
	EventBound    EventType = "stage.bound"
	EventSealed   EventType = "build.sealed"
	EventFailed   EventType = "build.failed"
)

// Event is emitted to observers as a build progresses.
type Event struct {
	Type    EventType
	BuildID string
	// Workflow is the definition's name; WorkflowID is the remote id once
	// the workflow exists.
	Workflow    string
	WorkflowID  string
	EditVersion int
	State       State
	// Stage is -1 for workflow-level events.
	Stage    int
	StageID  string
	Artifact model.ArtifactID
	// Err is set on EventFailed.
	Err  *BuildError
	Time time.Time
}

// Observer receives build events. Observe must not block for long; the
// build waits for it. Observers deal with their own failures.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, e Event)

// Observe calls f(ctx, e).
func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }
