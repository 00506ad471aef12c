// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the StageDefinition, a single configured step of a
// workflow, and the handles of the remote objects a build creates.
package model

import (
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// StageDefinition is one stage of a workflow definition.
type StageDefinition struct {
	// Index is the 0-based position of the stage. Indices are unique and
	// contiguous across a definition.
	Index int
	// Executable names the executable bound to the stage.
	Executable string
	// Folder is the remote output folder of the stage.
	Folder string
	// Inputs holds literal values. A value may be an object-link sentinel
	// which is resolved against the object store when inputs are bound.
	Inputs map[string]cty.Value
	// LinkedInputs holds inputs bound to outputs of earlier stages.
	LinkedInputs map[string]LinkedInput
}

// InputNames returns the literal input names in sorted order.
func (s *StageDefinition) InputNames() []string {
	return sortedKeys(s.Inputs)
}

// LinkedInputNames returns the linked input names in sorted order.
func (s *StageDefinition) LinkedInputNames() []string {
	return sortedKeys(s.LinkedInputs)
}

// Upstream returns the distinct stage indices referenced by the stage's
// linked inputs, in ascending order.
func (s *StageDefinition) Upstream() []int {
	seen := make(map[int]struct{})
	for _, li := range s.LinkedInputs {
		for _, l := range li.Links {
			seen[l.Stage] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ArtifactID identifies a built executable on the remote platform.
type ArtifactID string

// StageHandle is the remote identity of an attached stage.
type StageHandle struct {
	Index int
	ID    string
}

// WorkflowHandle is the remote identity of a workflow object together with
// the edit-version the caller believes is current.
type WorkflowHandle struct {
	ID      string
	Project string
	// EditVersion is advanced by every accepted mutation.
	EditVersion int
	// StageCount is the number of stages attached through this handle. Stage
	// positions on the remote object are append-only.
	StageCount int
	// Sealed is set once the remote object has been closed.
	Sealed bool
}
