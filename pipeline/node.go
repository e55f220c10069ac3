package pipeline

import "context"

// Node is a processing unit in the workflow graph. It receives the current
// state, performs work (usually an LLM call), and returns a NodeResult with
// a partial state update and a routing decision.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of a node execution.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node. It is merged
	// into the current state by the engine's reducer.
	Delta S

	// Route is the next hop. Use Stop() for terminal nodes or Goto(id) for
	// explicit routing; leave zero to fall back to edge-based routing.
	Route Next

	// Err aborts the run (after any configured retries) when non-nil.
	Err error
}

// Next specifies where execution goes after a node completes.
type Next struct {
	// To is the next node to execute. Mutually exclusive with Terminal.
	To string

	// Terminal stops the run. The engine returns the merged state; whether
	// the run is finished or merely paused is a property of the state, not
	// of the engine.
	Terminal bool
}

// Stop returns a Next that halts execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the given node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements Node.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError is a structured error from a node execution.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Retryable marks errors that are safe to retry. Nodes (and LLM clients)
// return errors implementing this to opt into the engine's retry loop.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err opts into retry via the Retryable interface.
func IsRetryable(err error) bool {
	for e := err; e != nil; {
		if r, ok := e.(Retryable); ok {
			return r.Retryable()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
