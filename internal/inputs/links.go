package inputs

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// LinkResolver is the object-store collaborator that turns an object
// reference into a platform link descriptor.
type LinkResolver interface {
	ResolveLink(ctx context.Context, ref model.ObjectRef) (cty.Value, error)
}

// StageLinkValue is the platform descriptor binding an input to the output
// field of an attached stage.
func StageLinkValue(stageID, field string) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		model.ObjectLinkKey: cty.ObjectVal(map[string]cty.Value{
			"stage":       cty.StringVal(stageID),
			"outputField": cty.StringVal(field),
		}),
	})
}

// ObjectLinkValue is the platform descriptor of a stored object.
func ObjectLinkValue(ref model.ObjectRef) cty.Value {
	if ref.Project == "" {
		return cty.ObjectVal(map[string]cty.Value{model.ObjectLinkKey: cty.StringVal(ref.ID)})
	}
	return cty.ObjectVal(map[string]cty.Value{
		model.ObjectLinkKey: cty.ObjectVal(map[string]cty.Value{
			"id":      cty.StringVal(ref.ID),
			"project": cty.StringVal(ref.Project),
		}),
	})
}

// ParseObjectLink recognises the object-link sentinel shape. ok is false for
// any value that is not a sentinel, including stage-link descriptors, which
// are already in platform form. A sentinel with a malformed body is an error.
func ParseObjectLink(v cty.Value) (ref model.ObjectRef, ok bool, err error) {
	if !v.IsKnown() || v.IsNull() {
		return ref, false, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return ref, false, nil
	}
	if v.LengthInt() != 1 {
		return ref, false, nil
	}
	attrs := v.AsValueMap()
	inner, found := attrs[model.ObjectLinkKey]
	if !found {
		return ref, false, nil
	}

	if inner.IsNull() {
		return ref, true, errors.New("object link is null")
	}
	if inner.Type().Equals(cty.String) {
		ref.ID = inner.AsString()
		if ref.ID == "" {
			return ref, true, errors.New("object link id is empty")
		}
		return ref, true, nil
	}
	if !inner.Type().IsObjectType() && !inner.Type().IsMapType() {
		return ref, true, fmt.Errorf("object link must be a string or an object, got %s", inner.Type().FriendlyName())
	}

	fields := inner.AsValueMap()
	if _, isStage := fields["stage"]; isStage {
		return ref, false, nil
	}
	ref.ID = stringAttr(fields, "id")
	ref.Project = stringAttr(fields, "project")
	ref.Path = stringAttr(fields, "path")
	switch {
	case ref.ID != "":
		return ref, true, nil
	case ref.Project != "" && ref.Path != "":
		return ref, true, nil
	default:
		return ref, true, errors.New("object link needs an id, or a project and a path")
	}
}

func stringAttr(attrs map[string]cty.Value, name string) string {
	v, ok := attrs[name]
	if !ok || v.IsNull() || !v.IsKnown() || !v.Type().Equals(cty.String) {
		return ""
	}
	return v.AsString()
}

// PassthroughLinks resolves references that already carry an object id
// without contacting the object store. It is used for dry runs.
type PassthroughLinks struct{}

// ResolveLink implements LinkResolver.
func (PassthroughLinks) ResolveLink(_ context.Context, ref model.ObjectRef) (cty.Value, error) {
	if ref.ID == "" {
		return cty.NilVal, fmt.Errorf("cannot resolve %s:%s without the object store", ref.Project, ref.Path)
	}
	return ObjectLinkValue(ref), nil
}
