// Package inputs converts a stage's declared inputs into the canonical input
// map bound on the remote workflow.
package inputs

import (
	"context"
	"fmt"
	"sort"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// InputMap is the resolved input binding of one stage.
type InputMap map[string]cty.Value

// Names returns the input names in sorted order.
func (m InputMap) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Value returns the map as a single cty object.
func (m InputMap) Value() cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(map[string]cty.Value(m))
}

// UnresolvedStageReferenceError reports a link to a stage that has not been
// attached yet.
type UnresolvedStageReferenceError struct {
	StageIndex int
	Field      string
	Referenced int
}

func (e *UnresolvedStageReferenceError) Error() string {
	return fmt.Sprintf("stage %d: input %q references stage %d, which is not attached", e.StageIndex, e.Field, e.Referenced)
}

// InvalidInputShapeError reports an input value of an unrecognised shape.
type InvalidInputShapeError struct {
	StageIndex int
	Field      string
	Reason     string
}

func (e *InvalidInputShapeError) Error() string {
	return fmt.Sprintf("stage %d: input %q has an invalid shape: %s", e.StageIndex, e.Field, e.Reason)
}

// ObjectLinkError reports a failure of the object-store collaborator.
type ObjectLinkError struct {
	StageIndex int
	Field      string
	Ref        model.ObjectRef
	Err        error
}

func (e *ObjectLinkError) Error() string {
	return fmt.Sprintf("stage %d: input %q: resolve object link: %v", e.StageIndex, e.Field, e.Err)
}

func (e *ObjectLinkError) Unwrap() error { return e.Err }

// Resolver resolves stage inputs. It holds no per-build state.
type Resolver struct {
	links LinkResolver
}

// NewResolver creates a Resolver. A nil links resolver falls back to
// PassthroughLinks.
func NewResolver(links LinkResolver) *Resolver {
	if links == nil {
		links = PassthroughLinks{}
	}
	return &Resolver{links: links}
}

// Resolve builds the input map of s. created holds the handles of every stage
// attached so far, keyed by stage index.
func (r *Resolver) Resolve(ctx context.Context, s *model.StageDefinition, created map[int]model.StageHandle) (InputMap, error) {
	logger := ctxlog.FromContext(ctx)
	out := make(InputMap, len(s.Inputs)+len(s.LinkedInputs))

	for _, name := range s.InputNames() {
		v, err := r.literal(ctx, s.Index, name, s.Inputs[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}

	for _, name := range s.LinkedInputNames() {
		li := s.LinkedInputs[name]
		switch li.Kind {
		case model.LinkSingle:
			if len(li.Links) != 1 {
				return nil, &InvalidInputShapeError{StageIndex: s.Index, Field: name, Reason: fmt.Sprintf("single link holds %d links", len(li.Links))}
			}
			v, err := linkValue(s.Index, name, li.Links[0], created)
			if err != nil {
				return nil, err
			}
			out[name] = v
		case model.LinkList:
			elems := make([]cty.Value, 0, len(li.Links))
			for _, l := range li.Links {
				v, err := linkValue(s.Index, name, l, created)
				if err != nil {
					return nil, err
				}
				elems = append(elems, v)
			}
			// A tuple, not a list, so an empty link list stays representable.
			out[name] = cty.TupleVal(elems)
		default:
			return nil, &InvalidInputShapeError{StageIndex: s.Index, Field: name, Reason: li.Problem}
		}
	}

	logger.Debug("Resolved stage inputs.", "stage", s.Index, "inputs", len(out))
	return out, nil
}

func linkValue(owner int, field string, l model.StageLink, created map[int]model.StageHandle) (cty.Value, error) {
	h, ok := created[l.Stage]
	if !ok || h.ID == "" {
		return cty.NilVal, &UnresolvedStageReferenceError{StageIndex: owner, Field: field, Referenced: l.Stage}
	}
	return StageLinkValue(h.ID, l.Field), nil
}

// literal passes v through unchanged unless it is an object-link sentinel, or
// a list whose elements are sentinels.
func (r *Resolver) literal(ctx context.Context, stage int, field string, v cty.Value) (cty.Value, error) {
	if !v.IsKnown() {
		return cty.NilVal, &InvalidInputShapeError{StageIndex: stage, Field: field, Reason: "value is unknown"}
	}
	if resolved, ok, err := r.objectLink(ctx, stage, field, v); ok || err != nil {
		return resolved, err
	}
	if v.IsNull() {
		return v, nil
	}

	ty := v.Type()
	if !ty.IsTupleType() && !ty.IsListType() {
		return v, nil
	}
	elems := make([]cty.Value, 0, v.LengthInt())
	changed := false
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		resolved, ok, err := r.objectLink(ctx, stage, field, ev)
		if err != nil {
			return cty.NilVal, err
		}
		if ok {
			ev = resolved
			changed = true
		}
		elems = append(elems, ev)
	}
	if !changed {
		return v, nil
	}
	return cty.TupleVal(elems), nil
}

func (r *Resolver) objectLink(ctx context.Context, stage int, field string, v cty.Value) (cty.Value, bool, error) {
	ref, ok, err := ParseObjectLink(v)
	if err != nil {
		return cty.NilVal, true, &InvalidInputShapeError{StageIndex: stage, Field: field, Reason: err.Error()}
	}
	if !ok {
		return cty.NilVal, false, nil
	}
	resolved, err := r.links.ResolveLink(ctx, ref)
	if err != nil {
		return cty.NilVal, true, &ObjectLinkError{StageIndex: stage, Field: field, Ref: ref, Err: err}
	}
	return resolved, true, nil
}
