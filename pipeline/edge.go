// Package pipeline provides the workflow graph engine that drives devloop's
// staged SDLC runs.
package pipeline

// Edge is a possible transition between two nodes.
//
// Edges with a nil predicate are unconditional. At runtime the engine
// evaluates a node's outgoing edges in registration order and follows the
// first match. Explicit routing via NodeResult.Route takes precedence.
type Edge[S any] struct {
	From string
	To   string
	When Predicate[S]
}

// Predicate evaluates state to decide whether an edge should be traversed.
// Predicates should be pure functions of the state.
type Predicate[S any] func(state S) bool
