package loader

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

var (
	documentKeys = keySet("name", "version", "details", "properties", "tags", "stages")
	stageKeys    = keySet("executable", "folder", "input", "linked_input")
)

func keySet(keys ...string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func checkKeys(m map[string]cty.Value, allowed map[string]bool, what string) error {
	for _, k := range sortedNames(m) {
		if !allowed[k] {
			return fmt.Errorf("unknown key %q in %s", k, what)
		}
	}
	return nil
}

// fromDocument translates a JSON-shaped document into the model.
func fromDocument(doc cty.Value) (*model.WorkflowDefinition, error) {
	top, err := attrs(doc, "workflow document")
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("workflow document is empty")
	}
	if err := checkKeys(top, documentKeys, "workflow document"); err != nil {
		return nil, err
	}

	def := &model.WorkflowDefinition{}
	if def.Name, err = stringValue(top["name"], "name"); err != nil {
		return nil, err
	}
	if def.Version, err = stringValue(top["version"], "version"); err != nil {
		return nil, err
	}
	if def.Metadata, err = buildMetadata(top["details"], top["properties"], top["tags"]); err != nil {
		return nil, err
	}
	if def.Stages, err = stagesFrom(top["stages"]); err != nil {
		return nil, err
	}
	return def, nil
}

// stagesFrom accepts an object keyed by stage index or a list in index order.
func stagesFrom(v cty.Value) ([]*model.StageDefinition, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	var stages []*model.StageDefinition
	switch {
	case ty.IsObjectType() || ty.IsMapType():
		for key, sv := range v.AsValueMap() {
			index, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("stage key %q is not an integer index", key)
			}
			st, err := stageFrom(index, sv)
			if err != nil {
				return nil, err
			}
			stages = append(stages, st)
		}
	case ty.IsTupleType() || ty.IsListType():
		index := 0
		for it := v.ElementIterator(); it.Next(); index++ {
			_, sv := it.Element()
			st, err := stageFrom(index, sv)
			if err != nil {
				return nil, err
			}
			stages = append(stages, st)
		}
	default:
		return nil, fmt.Errorf("stages must be an object keyed by index or a list, got %s", ty.FriendlyName())
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Index < stages[j].Index })
	return stages, nil
}

func stageFrom(index int, v cty.Value) (*model.StageDefinition, error) {
	what := fmt.Sprintf("stage %d", index)
	m, err := attrs(v, what)
	if err != nil {
		return nil, err
	}
	if err := checkKeys(m, stageKeys, what); err != nil {
		return nil, err
	}
	executable, err := stringValue(m["executable"], what+" executable")
	if err != nil {
		return nil, err
	}
	folder, err := stringValue(m["folder"], what+" folder")
	if err != nil {
		return nil, err
	}
	return buildStage(index, executable, folder, m["input"], m["linked_input"])
}

// buildStage is shared by every syntax. Linked inputs of an unknown shape are
// kept as invalid variants for the validator to report.
func buildStage(index int, executable, folder string, input, linked cty.Value) (*model.StageDefinition, error) {
	what := fmt.Sprintf("stage %d", index)
	literals, err := attrs(input, what+" input")
	if err != nil {
		return nil, err
	}
	links, err := attrs(linked, what+" linked_input")
	if err != nil {
		return nil, err
	}

	st := &model.StageDefinition{
		Index:        index,
		Executable:   executable,
		Folder:       folder,
		Inputs:       make(map[string]cty.Value, len(literals)),
		LinkedInputs: make(map[string]model.LinkedInput, len(links)),
	}
	for name, val := range literals {
		st.Inputs[name] = val
	}
	for name, val := range links {
		st.LinkedInputs[name] = model.ParseLinkedInput(val)
	}
	return st, nil
}

func buildMetadata(details, properties, tags cty.Value) (model.Metadata, error) {
	meta := model.Metadata{Details: cty.EmptyObjectVal}
	if !details.IsNull() {
		ty := details.Type()
		if !ty.IsObjectType() && !ty.IsMapType() {
			return meta, fmt.Errorf("details must be an object, got %s", ty.FriendlyName())
		}
		meta.Details = details
	}

	props, err := attrs(properties, "properties")
	if err != nil {
		return meta, err
	}
	if len(props) > 0 {
		meta.Properties = make(map[string]string, len(props))
		for k, v := range props {
			s, err := stringValue(v, "property "+k)
			if err != nil {
				return meta, err
			}
			meta.Properties[k] = s
		}
	}

	if !tags.IsNull() {
		ty := tags.Type()
		if !ty.IsTupleType() && !ty.IsListType() && !ty.IsSetType() {
			return meta, fmt.Errorf("tags must be a list, got %s", ty.FriendlyName())
		}
		for it := tags.ElementIterator(); it.Next(); {
			_, tv := it.Element()
			s, err := stringValue(tv, "tag")
			if err != nil {
				return meta, err
			}
			meta.Tags = append(meta.Tags, s)
		}
	}
	return meta, nil
}

// stringValue converts primitives to a string. Missing and null values give "".
func stringValue(v cty.Value, what string) (string, error) {
	if v.IsNull() {
		return "", nil
	}
	if !v.Type().IsPrimitiveType() {
		return "", fmt.Errorf("%s must be a string, got %s", what, v.Type().FriendlyName())
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}
	return s.AsString(), nil
}

func sortedNames(m map[string]cty.Value) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
