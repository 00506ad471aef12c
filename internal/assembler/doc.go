// Package assembler turns a workflow definition into a sealed remote workflow.
//
// A build moves through a fixed sequence of states:
//
//	Validating → Created → AttachingStages → BindingInputs → Sealed
//
// Any state may fall through to Failed. The definition is validated once
// before anything remote happens. Stages are then attached in index order,
// building each executable on first use, and only when every stage has a
// remote id are inputs resolved and bound, again in index order. Linked inputs
// only ever point backwards, so the second pass can always resolve them.
//
// Nothing is rolled back and nothing is retried. A failure returns a
// *BuildError naming the state, stage and field that failed, the last stage
// that completed in that state, and the stages left attached on the remote
// workflow so an operator can decide what to clean up.
package assembler
