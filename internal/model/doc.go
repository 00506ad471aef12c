// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model provides the Go representation of a workflow definition and of
// the remote objects a build creates from it.
//
// # Core Concepts
//
//   - WorkflowDefinition: the parsed configuration. It is immutable once
//     loaded and owned by a single build.
//
//   - StageDefinition: one step of the pipeline. It binds an executable name to
//     an output folder, literal inputs, and linked inputs.
//
//   - LinkedInput: a tagged variant, either a single StageLink or an ordered
//     list of them. Loaders never hand back a raw dynamic value for a linked
//     input; anything they cannot classify is recorded as an invalid variant
//     so downstream code can reject it by exhaustive case analysis.
//
//   - WorkflowHandle and StageHandle: identities of the remote objects. A
//     StageHandle only exists once its stage has been attached remotely, and a
//     WorkflowHandle carries the edit-version every mutating call must supply.
//
// Literal values are kept as cty.Value so that JSON, YAML and HCL sources share
// a single, typed value model.
package model
