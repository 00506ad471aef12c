// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the WorkflowDefinition, the root of a parsed configuration.
package model

import (
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Metadata is the free-form descriptive data attached to the remote workflow.
type Metadata struct {
	// Details is an arbitrary JSON-like object. It is cty.EmptyObjectVal when
	// the configuration declares none.
	Details    cty.Value
	Properties map[string]string
	Tags       []string
}

// WorkflowDefinition is the declarative description of a pipeline.
type WorkflowDefinition struct {
	Name     string
	Version  string
	Metadata Metadata
	Stages   []*StageDefinition

	// Source is the path the definition was loaded from, if any.
	Source string
}

// Stage returns the first stage declared with the given index.
func (w *WorkflowDefinition) Stage(index int) (*StageDefinition, bool) {
	for _, s := range w.Stages {
		if s != nil && s.Index == index {
			return s, true
		}
	}
	return nil, false
}

// Ordered returns the stages sorted by index. The definition itself is not
// modified. Nil entries are dropped.
func (w *WorkflowDefinition) Ordered() []*StageDefinition {
	out := make([]*StageDefinition, 0, len(w.Stages))
	for _, s := range w.Stages {
		if s != nil {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Executables returns the distinct executable names in stage order.
func (w *WorkflowDefinition) Executables() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, s := range w.Ordered() {
		if _, ok := seen[s.Executable]; ok {
			continue
		}
		seen[s.Executable] = struct{}{}
		names = append(names, s.Executable)
	}
	return names
}

// CreateDetails returns the details object sent when the remote workflow is
// created: the configured details plus the workflow's name and version.
func (w *WorkflowDefinition) CreateDetails() cty.Value {
	attrs := map[string]cty.Value{}
	d := w.Metadata.Details
	if !d.IsNull() && d.IsKnown() && (d.Type().IsObjectType() || d.Type().IsMapType()) {
		for it := d.ElementIterator(); it.Next(); {
			k, v := it.Element()
			attrs[k.AsString()] = v
		}
	}
	attrs["name"] = cty.StringVal(w.Name)
	attrs["version"] = cty.StringVal(w.Version)
	return cty.ObjectVal(attrs)
}
