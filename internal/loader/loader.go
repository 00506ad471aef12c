// Package loader reads workflow definitions from disk.
//
// Three syntaxes are accepted and chosen by file extension: JSON (the
// historical document shape with `stages` keyed by index), HCL (`stage "0"`
// blocks), and YAML (same shape as JSON). Every syntax ends up as cty values,
// so the translation into the model is shared.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"
)

// Loader implements config.Loader.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new workflow loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the workflow definition at path.
func (l *Loader) Load(ctx context.Context, path string) (*model.WorkflowDefinition, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Workflow loader started.", "path", path)

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var def *model.WorkflowDefinition
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		def, err = loadJSON(src)
	case ".yaml", ".yml":
		def, err = loadYAML(src)
	case ".hcl":
		def, err = loadHCL(src, path)
	default:
		return nil, fmt.Errorf("unsupported workflow file extension %q (want .json, .yaml, .yml or .hcl)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow file %s: %w", path, err)
	}

	def.Source = path
	logger.Debug("Workflow loading complete.", "name", def.Name, "version", def.Version, "stages", len(def.Stages))
	return def, nil
}

func loadJSON(src []byte) (*model.WorkflowDefinition, error) {
	ty, err := ctyjson.ImpliedType(src)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	doc, err := ctyjson.Unmarshal(src, ty)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return fromDocument(doc)
}

// loadYAML re-encodes the YAML tree as JSON so both share the cty path.
func loadYAML(src []byte) (*model.WorkflowDefinition, error) {
	var tree any
	if err := yaml.Unmarshal(src, &tree); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("empty YAML document")
	}
	raw, err := json.Marshal(stringKeys(tree))
	if err != nil {
		return nil, fmt.Errorf("YAML document cannot be represented as JSON: %w", err)
	}
	return loadJSON(raw)
}

// stringKeys rewrites maps with non-string keys, such as stage indices written
// as bare integers, into string-keyed maps.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	default:
		return v
	}
}

// attrs returns the attributes of an object or map value, or nil for null.
func attrs(v cty.Value, what string) (map[string]cty.Value, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("%s must be an object, got %s", what, ty.FriendlyName())
	}
	return v.AsValueMap(), nil
}
