package assembler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/graph"
	"github.com/specialistvlad/stagegrid/internal/inputs"
	"github.com/specialistvlad/stagegrid/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/specialistvlad/stagegrid/internal/assembler"

// Session is the remote workflow protocol, implemented by *session.Session.
type Session interface {
	Create(ctx context.Context, name string, meta model.Metadata) (*model.WorkflowHandle, error)
	AttachStage(ctx context.Context, h *model.WorkflowHandle, artifact model.ArtifactID, folder string) (model.StageHandle, error)
	BindInputs(ctx context.Context, h *model.WorkflowHandle, stage model.StageHandle, in inputs.InputMap) error
	Seal(ctx context.Context, h *model.WorkflowHandle) error
}

// Executables resolves executable names to artifacts, implemented by
// *executable.Resolver.
type Executables interface {
	graph.Locator
	Resolve(ctx context.Context, name string) (model.ArtifactID, error)
}

// InputResolver turns a stage's inputs into the map bound on the remote,
// implemented by *inputs.Resolver.
type InputResolver interface {
	Resolve(ctx context.Context, s *model.StageDefinition, created map[int]model.StageHandle) (inputs.InputMap, error)
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithObserver adds an observer of build events.
func WithObserver(o Observer) Option {
	return func(a *Assembler) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// WithTracer sets the tracer. It defaults to the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Assembler) { a.tracer = t }
}

// WithBuildID fixes the build id instead of generating one.
func WithBuildID(id string) Option {
	return func(a *Assembler) { a.buildID = id }
}

// Assembler drives one build. It must not be shared between builds: the
// executable cache and the workflow handle belong to a single run.
type Assembler struct {
	session     Session
	executables Executables
	inputs      InputResolver
	observers   []Observer
	tracer      trace.Tracer
	buildID     string
}

// New creates an Assembler for a single build.
func New(sess Session, execs Executables, in InputResolver, opts ...Option) *Assembler {
	a := &Assembler{session: sess, executables: execs, inputs: in}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	if a.buildID == "" {
		a.buildID = uuid.NewString()
	}
	return a
}

// BuildID identifies this build in logs, events and the journal.
func (a *Assembler) BuildID() string {
	return a.buildID
}

// Result describes a sealed workflow.
type Result struct {
	BuildID  string
	Workflow model.WorkflowHandle
	Stages   []model.StageHandle
}

// run is the mutable state of one Build call.
type run struct {
	def      *model.WorkflowDefinition
	stages   []*model.StageDefinition
	state    State
	handle   *model.WorkflowHandle
	created  map[int]model.StageHandle
	attached []model.StageHandle
	// last is the last stage index completed in the current state.
	last int
}

// Build validates def and assembles it on the remote.
func (a *Assembler) Build(ctx context.Context, def *model.WorkflowDefinition) (*Result, error) {
	if def == nil {
		return nil, errors.New("assembler: nil workflow definition")
	}
	ctx = ctxlog.With(ctx, "build_id", a.buildID, "workflow", def.Name)
	ctx, span := a.tracer.Start(ctx, "assembler.build", trace.WithAttributes(
		attribute.String("build.id", a.buildID),
		attribute.String("workflow.name", def.Name),
		attribute.Int("workflow.stages", len(def.Stages)),
	))
	defer span.End()

	logger := ctxlog.FromContext(ctx)
	logger.Info("Build started.", "version", def.Version, "stages", len(def.Stages))

	r := &run{def: def, state: Validating, created: map[int]model.StageHandle{}, last: -1}
	a.emit(ctx, r, Event{Type: EventStarted, Stage: -1})

	steps := []func(context.Context, *run) error{a.validate, a.create, a.attach, a.bind, a.seal}
	for _, step := range steps {
		if err := step(ctx, r); err != nil {
			be := a.fail(ctx, r, err)
			span.RecordError(be)
			span.SetStatus(codes.Error, be.Error())
			return nil, be
		}
	}

	span.SetAttributes(attribute.String("workflow.id", r.handle.ID))
	logger.Info("Build succeeded.", "project", r.handle.Project, "workflow_id", r.handle.ID, "edit_version", r.handle.EditVersion)
	return &Result{BuildID: a.buildID, Workflow: *r.handle, Stages: r.attached}, nil
}

func (a *Assembler) validate(ctx context.Context, r *run) error {
	if err := graph.Validate(ctx, r.def, a.executables); err != nil {
		return err
	}
	r.stages = r.def.Ordered()
	return nil
}

func (a *Assembler) create(ctx context.Context, r *run) error {
	a.transition(ctx, r, Created)
	meta := r.def.Metadata
	meta.Details = r.def.CreateDetails()
	h, err := a.session.Create(ctx, r.def.Name, meta)
	if err != nil {
		return err
	}
	r.handle = h
	a.emit(ctx, r, Event{Type: EventCreated, Stage: -1})
	return nil
}

func (a *Assembler) attach(ctx context.Context, r *run) error {
	a.transition(ctx, r, AttachingStages)
	for _, s := range r.stages {
		artifact, err := a.executables.Resolve(ctx, s.Executable)
		if err != nil {
			return stageError(s.Index, "executable", err)
		}
		sh, err := a.session.AttachStage(ctx, r.handle, artifact, s.Folder)
		if err != nil {
			return stageError(s.Index, "", err)
		}
		r.attached = append(r.attached, sh)
		if sh.Index != s.Index {
			return stageError(s.Index, "", fmt.Errorf("remote stage position %d does not match stage index", sh.Index))
		}
		r.created[s.Index] = sh
		r.last = s.Index
		a.emit(ctx, r, Event{Type: EventAttached, Stage: s.Index, StageID: sh.ID, Artifact: artifact})
	}
	return nil
}

func (a *Assembler) bind(ctx context.Context, r *run) error {
	a.transition(ctx, r, BindingInputs)
	for _, s := range r.stages {
		sh := r.created[s.Index]
		in, err := a.inputs.Resolve(ctx, s, r.created)
		if err != nil {
			return stageError(s.Index, "", err)
		}
		if err := a.session.BindInputs(ctx, r.handle, sh, in); err != nil {
			return stageError(s.Index, "", err)
		}
		r.last = s.Index
		a.emit(ctx, r, Event{Type: EventBound, Stage: s.Index, StageID: sh.ID})
	}
	return nil
}

func (a *Assembler) seal(ctx context.Context, r *run) error {
	if err := a.session.Seal(ctx, r.handle); err != nil {
		return err
	}
	a.transition(ctx, r, Sealed)
	a.emit(ctx, r, Event{Type: EventSealed, Stage: -1})
	return nil
}

func (a *Assembler) transition(ctx context.Context, r *run, to State) {
	ctxlog.FromContext(ctx).Debug("Build state changed.", "from", r.state.String(), "to", to.String())
	r.state = to
	r.last = -1
}

// stageFailure carries the stage a step was working on.
type stageFailure struct {
	stage int
	field string
	err   error
}

func (e *stageFailure) Error() string { return e.err.Error() }
func (e *stageFailure) Unwrap() error { return e.err }

func stageError(stage int, field string, err error) error {
	return &stageFailure{stage: stage, field: field, err: err}
}

func (a *Assembler) fail(ctx context.Context, r *run, err error) *BuildError {
	be := &BuildError{State: r.state, StageIndex: -1, LastCompleted: r.last, Err: err}
	var sf *stageFailure
	if errors.As(err, &sf) {
		be.StageIndex, be.Field, be.Err = sf.stage, sf.field, sf.err
	}
	if be.Field == "" {
		stage, field := locate(be.Err)
		be.Field = field
		if be.StageIndex < 0 {
			be.StageIndex = stage
		}
	}
	if r.handle != nil {
		h := *r.handle
		be.Workflow = &h
	}
	be.Partial = append([]model.StageHandle(nil), r.attached...)

	ctxlog.FromContext(ctx).Error("Build failed.",
		"state", be.State.String(), "stage", be.StageIndex, "field", be.Field,
		"last_completed", be.LastCompleted, "attached", len(be.Partial), "error", be.Err)

	r.state = Failed
	a.emit(ctx, r, Event{Type: EventFailed, Stage: be.StageIndex, Err: be})
	return be
}

func (a *Assembler) emit(ctx context.Context, r *run, e Event) {
	e.BuildID = a.buildID
	e.Workflow = r.def.Name
	e.State = r.state
	e.Time = time.Now()
	if r.handle != nil {
		e.WorkflowID = r.handle.ID
		e.EditVersion = r.handle.EditVersion
	}
	for _, o := range a.observers {
		o.Observe(ctx, e)
	}
}
