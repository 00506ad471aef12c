// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the session.Store interface.
//
// # Purpose
//
// The store stands in for the remote workflow store in dry runs and tests. It
// enforces the same compare-and-swap contract as the platform: every mutation
// must carry the current edit-version, and a closed workflow accepts nothing.
//
// # Test Hooks
//
//   - Calls records every call in order, including describes.
//   - FailOn injects an error into the n-th call of an operation.
//   - Bump advances a workflow's edit-version as an external writer would.
//
// A single mutex guards all state. Builds are sequential, so there is no
// contention worth optimising for.
package inmemorystore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/specialistvlad/stagegrid/internal/session"
	"github.com/zclconf/go-cty/cty"
)

// Store operation names, as recorded in Call.Op.
const (
	OpNew      = "new"
	OpDescribe = "describe"
	OpAddStage = "addStage"
	OpUpdate   = "update"
	OpClose    = "close"
)

// ErrNotFound is returned for unknown workflow or stage ids.
var ErrNotFound = errors.New("not found")

// Call is one recorded store call.
type Call struct {
	Op         string
	WorkflowID string
	StageID    string
	// EditVersion is the version the caller supplied, or -1 for calls that
	// carry none.
	EditVersion int
}

// Stage is a stored stage.
type Stage struct {
	ID         string
	Executable model.ArtifactID
	Folder     string
	Inputs     cty.Value
}

// Workflow is a stored workflow object.
type Workflow struct {
	ID          string
	Request     session.NewWorkflowRequest
	EditVersion int
	Closed      bool
	Stages      []Stage
}

type failure struct {
	op         string
	occurrence int
	err        error
}

// Store is an in-memory session.Store.
type Store struct {
	mu        sync.Mutex
	seq       int
	workflows map[string]*Workflow
	calls     []Call
	counts    map[string]int
	failures  []failure
}

var _ session.Store = (*Store)(nil)

// New creates a new, empty store.
func New() *Store {
	return &Store{
		workflows: make(map[string]*Workflow),
		counts:    make(map[string]int),
	}
}

// NewWorkflow implements session.Store.
func (s *Store) NewWorkflow(ctx context.Context, req session.NewWorkflowRequest) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, Call{Op: OpNew, EditVersion: -1}); err != nil {
		return "", 0, err
	}

	s.seq++
	id := fmt.Sprintf("workflow-%04d", s.seq)
	s.workflows[id] = &Workflow{ID: id, Request: req}
	s.calls[len(s.calls)-1].WorkflowID = id
	return id, 0, nil
}

// Describe implements session.Store.
func (s *Store) Describe(ctx context.Context, id string) (session.Description, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, Call{Op: OpDescribe, WorkflowID: id, EditVersion: -1}); err != nil {
		return session.Description{}, err
	}

	wf, ok := s.workflows[id]
	if !ok {
		return session.Description{}, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	desc := session.Description{ID: wf.ID, EditVersion: wf.EditVersion, Closed: wf.Closed}
	for _, st := range wf.Stages {
		desc.StageIDs = append(desc.StageIDs, st.ID)
	}
	return desc, nil
}

// AddStage implements session.Store.
func (s *Store) AddStage(ctx context.Context, id string, editVersion int, req session.AddStageRequest) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, Call{Op: OpAddStage, WorkflowID: id, EditVersion: editVersion}); err != nil {
		return "", 0, err
	}

	wf, err := s.mutable(id, editVersion)
	if err != nil {
		return "", 0, err
	}
	s.seq++
	stageID := fmt.Sprintf("stage-%04d", s.seq)
	wf.Stages = append(wf.Stages, Stage{ID: stageID, Executable: req.Executable, Folder: req.Folder, Inputs: cty.EmptyObjectVal})
	wf.EditVersion++
	s.calls[len(s.calls)-1].StageID = stageID
	return stageID, wf.EditVersion, nil
}

// UpdateStageInputs implements session.Store.
func (s *Store) UpdateStageInputs(ctx context.Context, id string, editVersion int, stageID string, inputs cty.Value) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, Call{Op: OpUpdate, WorkflowID: id, StageID: stageID, EditVersion: editVersion}); err != nil {
		return 0, err
	}

	wf, err := s.mutable(id, editVersion)
	if err != nil {
		return 0, err
	}
	for i := range wf.Stages {
		if wf.Stages[i].ID == stageID {
			wf.Stages[i].Inputs = inputs
			wf.EditVersion++
			return wf.EditVersion, nil
		}
	}
	return 0, fmt.Errorf("stage %s of %s: %w", stageID, id, ErrNotFound)
}

// Close implements session.Store.
func (s *Store) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, Call{Op: OpClose, WorkflowID: id, EditVersion: -1}); err != nil {
		return err
	}

	wf, ok := s.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if wf.Closed {
		return fmt.Errorf("workflow %s: %w", id, session.ErrSealed)
	}
	wf.Closed = true
	return nil
}

// FailOn makes the occurrence-th call (1-based) of op fail with err.
func (s *Store) FailOn(op string, occurrence int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{op: op, occurrence: occurrence, err: err})
}

// Bump advances the edit-version of a workflow without recording a call, as
// a concurrent writer would.
func (s *Store) Bump(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf, ok := s.workflows[id]; ok {
		wf.EditVersion++
	}
}

// Calls returns every recorded call in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Workflow returns a copy of the stored workflow.
func (s *Store) Workflow(id string) (Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return Workflow{}, false
	}
	out := *wf
	out.Stages = append([]Stage(nil), wf.Stages...)
	return out, true
}

// record appends c and returns an injected failure or the context error, if
// any. A failing call is still recorded.
func (s *Store) record(ctx context.Context, c Call) error {
	s.calls = append(s.calls, c)
	s.counts[c.Op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range s.failures {
		if f.op == c.Op && f.occurrence == s.counts[c.Op] {
			return f.err
		}
	}
	return nil
}

func (s *Store) mutable(id string, editVersion int) (*Workflow, error) {
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if wf.Closed {
		return nil, fmt.Errorf("workflow %s: %w", id, session.ErrSealed)
	}
	if editVersion != wf.EditVersion {
		return nil, fmt.Errorf("workflow %s: %w: supplied %d, current %d", id, session.ErrStaleVersion, editVersion, wf.EditVersion)
	}
	return wf, nil
}
