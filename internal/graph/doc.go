// Package graph validates the stage graph of a workflow definition before any
// remote object is created.
//
// # Why Validate Up Front
//
// The remote workflow object is append-only and positional: once a stage is
// attached it cannot be taken back without manual cleanup. A definition that
// fails here must therefore never reach the remote store, so Validate is pure
// and performs no remote calls. Executables are only located, never built.
//
// # Checks
//
//   - The workflow has a name and a semantic version.
//   - Stage indices are exactly 0..N-1 with no gaps or duplicates.
//   - Every executable name is non-empty and can be located.
//   - Every linked input is a well-formed link or list of links, and every
//     link points strictly backwards (to a lower stage index).
//   - An input name is not declared both as a literal and as a link.
//
// Every violation is collected, so the operator sees all of them at once. The
// returned error is an errors.Join of *ValidationError values; use Violations
// to unpack it.
//
// Because links only point backwards, the graph cannot contain a cycle and the
// stage index order is already a valid topological order.
package graph
