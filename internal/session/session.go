// Package session drives the remote workflow object under its edit-version
// contract.
//
// Each mutation first reads the current edit-version from the store, checks it
// against the version recorded in the caller's handle, and only then sends
// the mutation with that version. The handle is advanced after the store
// accepts the call and is never touched on failure. Conflicts are surfaced as
// *VersionConflictError and never retried.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/inputs"
	"github.com/specialistvlad/stagegrid/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/specialistvlad/stagegrid/internal/session"

// Options configures a Session.
type Options struct {
	// Project and Folder locate newly created workflows.
	Project string
	Folder  string
	// CallTimeout bounds each remote call. Zero means no bound beyond ctx.
	CallTimeout time.Duration
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
}

// Session owns the remote protocol for one build.
type Session struct {
	store  Store
	opts   Options
	tracer trace.Tracer
}

// New creates a Session over store.
func New(store Store, opts Options) *Session {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Session{store: store, opts: opts, tracer: tracer}
}

// Create creates a new open workflow object.
func (s *Session) Create(ctx context.Context, name string, meta model.Metadata) (*model.WorkflowHandle, error) {
	ctx, span := s.tracer.Start(ctx, "session.create", trace.WithAttributes(attribute.String("workflow.name", name)))
	defer span.End()

	req := NewWorkflowRequest{
		Name:       name,
		Title:      name,
		Project:    s.opts.Project,
		Folder:     s.opts.Folder,
		Details:    meta.Details,
		Properties: meta.Properties,
		Tags:       meta.Tags,
	}
	var (
		id      string
		version int
	)
	err := s.call(ctx, func(ctx context.Context) (err error) {
		id, version, err = s.store.NewWorkflow(ctx, req)
		return err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("create workflow %q: %w", name, err))
	}

	span.SetAttributes(attribute.String("workflow.id", id), attribute.Int("edit_version", version))
	ctxlog.FromContext(ctx).Info("Workflow created.", "workflow_id", id, "project", s.opts.Project, "folder", s.opts.Folder, "edit_version", version)
	return &model.WorkflowHandle{ID: id, Project: s.opts.Project, EditVersion: version}, nil
}

// AttachStage appends a stage running artifact. Stages are positional, so the
// returned handle's Index is the number of stages attached before it.
func (s *Session) AttachStage(ctx context.Context, h *model.WorkflowHandle, artifact model.ArtifactID, folder string) (model.StageHandle, error) {
	const op = "attachStage"
	ctx, span := s.start(ctx, op, h)
	defer span.End()

	version, err := s.current(ctx, op, h)
	if err != nil {
		return model.StageHandle{}, fail(span, err)
	}

	var (
		stageID    string
		newVersion int
	)
	err = s.call(ctx, func(ctx context.Context) (err error) {
		stageID, newVersion, err = s.store.AddStage(ctx, h.ID, version, AddStageRequest{Executable: artifact, Folder: folder})
		return err
	})
	if err != nil {
		return model.StageHandle{}, fail(span, mutationError(op, h, version, err))
	}

	stage := model.StageHandle{Index: h.StageCount, ID: stageID}
	h.EditVersion = newVersion
	h.StageCount++

	span.SetAttributes(attribute.String("stage.id", stageID), attribute.Int("stage.index", stage.Index))
	ctxlog.FromContext(ctx).Debug("Stage attached.",
		"workflow_id", h.ID, "stage", stage.Index, "stage_id", stageID, "artifact", artifact, "edit_version", newVersion)
	return stage, nil
}

// BindInputs overwrites the inputs of an attached stage.
func (s *Session) BindInputs(ctx context.Context, h *model.WorkflowHandle, stage model.StageHandle, in inputs.InputMap) error {
	const op = "bindInputs"
	ctx, span := s.start(ctx, op, h)
	defer span.End()
	span.SetAttributes(attribute.String("stage.id", stage.ID), attribute.Int("stage.index", stage.Index))

	version, err := s.current(ctx, op, h)
	if err != nil {
		return fail(span, err)
	}

	var newVersion int
	err = s.call(ctx, func(ctx context.Context) (err error) {
		newVersion, err = s.store.UpdateStageInputs(ctx, h.ID, version, stage.ID, in.Value())
		return err
	})
	if err != nil {
		return fail(span, mutationError(op, h, version, err))
	}

	h.EditVersion = newVersion
	ctxlog.FromContext(ctx).Debug("Stage inputs bound.",
		"workflow_id", h.ID, "stage", stage.Index, "stage_id", stage.ID, "inputs", in.Names(), "edit_version", newVersion)
	return nil
}

// Seal closes the workflow. No mutation is accepted afterwards.
func (s *Session) Seal(ctx context.Context, h *model.WorkflowHandle) error {
	const op = "seal"
	ctx, span := s.start(ctx, op, h)
	defer span.End()

	if _, err := s.current(ctx, op, h); err != nil {
		return fail(span, err)
	}
	err := s.call(ctx, func(ctx context.Context) error {
		return s.store.Close(ctx, h.ID)
	})
	if err != nil {
		return fail(span, fmt.Errorf("%s %s: %w", op, h.ID, err))
	}

	h.Sealed = true
	ctxlog.FromContext(ctx).Info("Workflow sealed.", "workflow_id", h.ID, "edit_version", h.EditVersion)
	return nil
}

func (s *Session) start(ctx context.Context, op string, h *model.WorkflowHandle) (context.Context, trace.Span) {
	id := ""
	if h != nil {
		id = h.ID
	}
	return s.tracer.Start(ctx, "session."+op, trace.WithAttributes(attribute.String("workflow.id", id)))
}

// current reads the remote edit-version and checks it against the handle.
func (s *Session) current(ctx context.Context, op string, h *model.WorkflowHandle) (int, error) {
	if h == nil || h.ID == "" {
		return 0, fmt.Errorf("%s: workflow handle is not initialised", op)
	}
	if h.Sealed {
		return 0, fmt.Errorf("%s %s: %w", op, h.ID, ErrSealed)
	}

	var desc Description
	err := s.call(ctx, func(ctx context.Context) (err error) {
		desc, err = s.store.Describe(ctx, h.ID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s %s: describe: %w", op, h.ID, err)
	}
	if desc.Closed {
		return 0, fmt.Errorf("%s %s: %w", op, h.ID, ErrSealed)
	}
	if desc.EditVersion != h.EditVersion {
		return 0, &VersionConflictError{Op: op, WorkflowID: h.ID, Expected: h.EditVersion, Actual: desc.EditVersion}
	}
	return desc.EditVersion, nil
}

func (s *Session) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func mutationError(op string, h *model.WorkflowHandle, version int, err error) error {
	if errors.Is(err, ErrStaleVersion) {
		return &VersionConflictError{Op: op, WorkflowID: h.ID, Expected: version, Actual: -1, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, h.ID, err)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
