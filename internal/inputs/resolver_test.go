package inputs

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/specialistvlad/stagegrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type fakeLinks struct {
	refs []model.ObjectRef
	err  error
}

func (f *fakeLinks) ResolveLink(_ context.Context, ref model.ObjectRef) (cty.Value, error) {
	f.refs = append(f.refs, ref)
	if f.err != nil {
		return cty.NilVal, f.err
	}
	if ref.ID == "" {
		ref.ID = "file-resolved"
	}
	return ObjectLinkValue(ref), nil
}

func assertValue(t *testing.T, want, got cty.Value) {
	t.Helper()
	assert.True(t, want.RawEquals(got), "want %#v\n got %#v", want, got)
}

func created(ids ...string) map[int]model.StageHandle {
	out := make(map[int]model.StageHandle, len(ids))
	for i, id := range ids {
		out[i] = model.StageHandle{Index: i, ID: id}
	}
	return out
}

func TestResolve_LiteralsPassThrough(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := &model.StageDefinition{
		Index: 0,
		Inputs: map[string]cty.Value{
			"a": cty.NumberIntVal(1),
			"b": cty.StringVal("x"),
			"c": cty.TupleVal([]cty.Value{cty.True, cty.StringVal("y")}),
			"d": cty.NullVal(cty.String),
		},
	}

	got, err := NewResolver(nil).Resolve(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got.Names())
	for name, want := range s.Inputs {
		assertValue(t, want, got[name])
	}
}

func TestResolve_SingleLink(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := &model.StageDefinition{
		Index: 1,
		LinkedInputs: map[string]model.LinkedInput{
			"bam": model.SingleLink(model.StageLink{Field: "sorted_bam", Stage: 0}),
		},
	}

	got, err := NewResolver(nil).Resolve(ctx, s, created("stage-A"))
	require.NoError(t, err)
	assertValue(t, StageLinkValue("stage-A", "sorted_bam"), got["bam"])

	inner := got["bam"].GetAttr(model.ObjectLinkKey)
	assert.Equal(t, "stage-A", inner.GetAttr("stage").AsString())
	assert.Equal(t, "sorted_bam", inner.GetAttr("outputField").AsString())
}

func TestResolve_ListLinkPreservesOrder(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := &model.StageDefinition{
		Index: 3,
		LinkedInputs: map[string]model.LinkedInput{
			"parts": model.ListLink(
				model.StageLink{Field: "out", Stage: 2},
				model.StageLink{Field: "out", Stage: 0},
				model.StageLink{Field: "log", Stage: 1},
			),
			"none": model.ListLink(),
		},
	}

	got, err := NewResolver(nil).Resolve(ctx, s, created("s0", "s1", "s2"))
	require.NoError(t, err)

	want := cty.TupleVal([]cty.Value{
		StageLinkValue("s2", "out"),
		StageLinkValue("s0", "out"),
		StageLinkValue("s1", "log"),
	})
	assertValue(t, want, got["parts"])
	assertValue(t, cty.EmptyTupleVal, got["none"])
}

func TestResolve_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		stage   *model.StageDefinition
		created map[int]model.StageHandle
		check   func(t *testing.T, err error)
	}{
		{
			name: "unattached single link",
			stage: &model.StageDefinition{Index: 2, LinkedInputs: map[string]model.LinkedInput{
				"in": model.SingleLink(model.StageLink{Field: "out", Stage: 1}),
			}},
			created: created("s0"),
			check: func(t *testing.T, err error) {
				var ue *UnresolvedStageReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, UnresolvedStageReferenceError{StageIndex: 2, Field: "in", Referenced: 1}, *ue)
			},
		},
		{
			name: "unattached element of a list",
			stage: &model.StageDefinition{Index: 2, LinkedInputs: map[string]model.LinkedInput{
				"in": model.ListLink(model.StageLink{Field: "out", Stage: 0}, model.StageLink{Field: "out", Stage: 1}),
			}},
			created: created("s0"),
			check: func(t *testing.T, err error) {
				var ue *UnresolvedStageReferenceError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, 1, ue.Referenced)
			},
		},
		{
			name: "invalid linked shape",
			stage: &model.StageDefinition{Index: 0, LinkedInputs: map[string]model.LinkedInput{
				"in": model.InvalidLink("expected a stage link object"),
			}},
			check: func(t *testing.T, err error) {
				var ie *InvalidInputShapeError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, 0, ie.StageIndex)
				assert.Equal(t, "in", ie.Field)
			},
		},
		{
			name: "zero-value linked input",
			stage: &model.StageDefinition{Index: 4, LinkedInputs: map[string]model.LinkedInput{
				"in": {},
			}},
			check: func(t *testing.T, err error) {
				var ie *InvalidInputShapeError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, 4, ie.StageIndex)
			},
		},
		{
			name: "malformed object link",
			stage: &model.StageDefinition{Index: 0, Inputs: map[string]cty.Value{
				"ref": cty.ObjectVal(map[string]cty.Value{model.ObjectLinkKey: cty.NumberIntVal(3)}),
			}},
			check: func(t *testing.T, err error) {
				var ie *InvalidInputShapeError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, "ref", ie.Field)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			_, err := NewResolver(nil).Resolve(ctx, tc.stage, tc.created)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestResolve_ObjectLinks(t *testing.T) {
	ctx, _ := testutil.Context(t)
	links := &fakeLinks{}
	byPath := cty.ObjectVal(map[string]cty.Value{
		model.ObjectLinkKey: cty.ObjectVal(map[string]cty.Value{
			"project": cty.StringVal("project-1"),
			"path":    cty.StringVal("/ref/genome.fa"),
		}),
	})
	s := &model.StageDefinition{
		Index: 0,
		Inputs: map[string]cty.Value{
			"genome": byPath,
			"reads": cty.TupleVal([]cty.Value{
				cty.ObjectVal(map[string]cty.Value{model.ObjectLinkKey: cty.StringVal("file-1")}),
				cty.StringVal("not a link"),
			}),
		},
	}

	got, err := NewResolver(links).Resolve(ctx, s, nil)
	require.NoError(t, err)

	assert.Equal(t, []model.ObjectRef{
		{Project: "project-1", Path: "/ref/genome.fa"},
		{ID: "file-1"},
	}, links.refs)
	assertValue(t, ObjectLinkValue(model.ObjectRef{ID: "file-resolved", Project: "project-1", Path: "/ref/genome.fa"}), got["genome"])
	assertValue(t, cty.TupleVal([]cty.Value{
		ObjectLinkValue(model.ObjectRef{ID: "file-1"}),
		cty.StringVal("not a link"),
	}), got["reads"])
}

func TestResolve_ObjectLinkFailure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	cause := errors.New("object not found")
	s := &model.StageDefinition{Index: 1, Inputs: map[string]cty.Value{
		"ref": cty.ObjectVal(map[string]cty.Value{model.ObjectLinkKey: cty.StringVal("file-1")}),
	}}

	_, err := NewResolver(&fakeLinks{err: cause}).Resolve(ctx, s, nil)
	var le *ObjectLinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.StageIndex)
	assert.ErrorIs(t, err, cause)
}

func TestParseObjectLink(t *testing.T) {
	testCases := []struct {
		name    string
		value   cty.Value
		ref     model.ObjectRef
		ok      bool
		wantErr bool
	}{
		{name: "plain string", value: cty.StringVal("file-1")},
		{name: "ordinary object", value: cty.ObjectVal(map[string]cty.Value{"a": cty.True})},
		{
			name:  "id string",
			value: cty.ObjectVal(map[string]cty.Value{model.ObjectLinkKey: cty.StringVal("file-1")}),
			ref:   model.ObjectRef{ID: "file-1"},
			ok:    true,
		},
		{
			name: "id and project",
			value: cty.ObjectVal(map[string]cty.Value{model.ObjectLinkKey: cty.ObjectVal(map[string]cty.Value{
				"id": cty.StringVal("file-1"), "project": cty.StringVal("project-9"),
			})}),
			ref: model.ObjectRef{ID: "file-1", Project: "project-9"},
			ok:  true,
		},
		{
			name:  "stage descriptor is already resolved",
			value: StageLinkValue("stage-1", "out"),
		},
		{
			name: "project without path",
			value: cty.ObjectVal(map[string]cty.Value{model.ObjectLinkKey: cty.ObjectVal(map[string]cty.Value{
				"project": cty.StringVal("project-9"),
			})}),
			ref:     model.ObjectRef{Project: "project-9"},
			ok:      true,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ref, ok, err := ParseObjectLink(tc.value)
			assert.Equal(t, tc.ok, ok)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.ref, ref)
		})
	}
}

func TestPassthroughLinks(t *testing.T) {
	ctx, _ := testutil.Context(t)

	v, err := PassthroughLinks{}.ResolveLink(ctx, model.ObjectRef{ID: "file-1", Project: "project-1"})
	require.NoError(t, err)
	assertValue(t, ObjectLinkValue(model.ObjectRef{ID: "file-1", Project: "project-1"}), v)

	_, err = PassthroughLinks{}.ResolveLink(ctx, model.ObjectRef{Project: "project-1", Path: "/x"})
	assert.Error(t, err)
}

func TestInputMap_Value(t *testing.T) {
	assertValue(t, cty.EmptyObjectVal, InputMap{}.Value())
	v := InputMap{"a": cty.NumberIntVal(1)}.Value()
	assert.True(t, v.GetAttr("a").RawEquals(cty.NumberIntVal(1)))
}
