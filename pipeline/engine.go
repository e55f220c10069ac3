package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devloop-ai/devloop/pipeline/emit"
	"github.com/devloop-ai/devloop/pipeline/store"
)

// Engine orchestrates stateful workflow execution.
//
// The engine owns the graph topology (nodes and edges), executes nodes in
// sequence, merges their deltas through the reducer, persists state after
// every step, and emits observability events. Runs that stop at a gate node
// can be continued later with Resume.
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	engine := pipeline.New(reducer, st, emitter, pipeline.WithMaxSteps(100))
//	engine.Add("draft", draftNode)
//	engine.StartAt("draft")
//	final, err := engine.Run(ctx, "run-001", initial)
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	edges     []Edge[S]
	startNode string

	store   store.Store[S]
	emitter emit.Emitter
	opts    options
}

// New creates an Engine. The reducer and store are required for Run; the
// emitter may be nil. Configuration errors surface when Run is called.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts ...Option) *Engine[S] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		store:   st,
		emitter: emitter,
		opts:    o,
	}
}

// Costs returns the attached cost tracker, or nil. Nodes that call LLMs use
// it to record token usage.
func (e *Engine[S]) Costs() *CostTracker {
	return e.opts.costs
}

// Add registers a node. Node IDs must be unique and non-empty.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: CodeDuplicateNode}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry node for Run. The node must already be registered.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: CodeNodeNotFound}
	}

	e.startNode = nodeID
	return nil
}

// Connect adds an edge between two nodes. A nil predicate makes the edge
// unconditional. Node existence is validated lazily so graphs can be built
// in any order.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from the start node until a node returns a
// terminal route, an error occurs, or MaxSteps is exceeded. The state after
// every node is persisted, so a run that stops at a gate can be continued
// with Resume.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S
	if err := e.validate(); err != nil {
		return zero, err
	}

	// Detach from the caller's state and fail early if S is not
	// JSON-serializable, since every step will be persisted as JSON.
	initial, err := deepCopy(initial)
	if err != nil {
		return zero, &EngineError{Message: "initial state is not serializable: " + err.Error(), Code: CodeStoreError, Cause: err}
	}

	return e.loop(ctx, runID, initial, e.startNode, 0)
}

// Resume continues a paused run: it loads the latest persisted state for
// runID and executes from startNode, with step numbering carrying on where
// the run left off. Callers mutate the loaded state (e.g. record an approval
// decision) through ResumeWith instead when the stored state must change.
func (e *Engine[S]) Resume(ctx context.Context, runID string, startNode string) (S, error) {
	var zero S

	state, step, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return zero, &EngineError{Message: "cannot resume: " + err.Error(), Code: CodeRunNotFound, Cause: err}
	}

	return e.resumeFrom(ctx, runID, state, startNode, step)
}

// ResumeWith continues a paused run after applying a delta to the stored
// state through the reducer. This is how approval decisions re-enter the
// workflow: the gate's verdict is merged in, then execution restarts at the
// gate node.
func (e *Engine[S]) ResumeWith(ctx context.Context, runID string, delta S, startNode string) (S, error) {
	var zero S

	state, step, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return zero, &EngineError{Message: "cannot resume: " + err.Error(), Code: CodeRunNotFound, Cause: err}
	}

	state = e.reducer(state, delta)
	return e.resumeFrom(ctx, runID, state, startNode, step)
}

func (e *Engine[S]) resumeFrom(ctx context.Context, runID string, state S, startNode string, step int) (S, error) {
	var zero S
	if err := e.validate(); err != nil {
		return zero, err
	}
	if startNode == "" {
		return zero, &EngineError{Message: "resume start node not specified", Code: CodeNoStartNode}
	}

	e.mu.RLock()
	_, exists := e.nodes[startNode]
	e.mu.RUnlock()
	if !exists {
		return zero, &EngineError{Message: "resume start node does not exist: " + startNode, Code: CodeNodeNotFound}
	}

	e.emit(emit.Event{RunID: runID, Step: step, NodeID: startNode, Msg: "run resumed"})
	return e.loop(ctx, runID, state, startNode, step)
}

// SaveCheckpoint snapshots the latest persisted state of a run under a
// label. Checkpoints allow rollback and branching: resume the same snapshot
// under different run IDs to compare alternatives.
func (e *Engine[S]) SaveCheckpoint(ctx context.Context, runID, label string) error {
	state, step, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return &EngineError{Message: "cannot checkpoint: " + err.Error(), Code: CodeRunNotFound, Cause: err}
	}

	if err := e.store.SaveCheckpoint(ctx, label, state, step); err != nil {
		return &EngineError{Message: "save checkpoint: " + err.Error(), Code: CodeCheckpoint, Cause: err}
	}

	e.emit(emit.Event{RunID: runID, Step: step, Msg: "checkpoint saved", Meta: map[string]interface{}{"label": label}})
	return nil
}

// ResumeFromCheckpoint starts a new run from a labeled checkpoint, beginning
// execution at startNode.
func (e *Engine[S]) ResumeFromCheckpoint(ctx context.Context, label, newRunID, startNode string) (S, error) {
	var zero S

	state, step, err := e.store.LoadCheckpoint(ctx, label)
	if err != nil {
		return zero, &EngineError{Message: "checkpoint not found: " + err.Error(), Code: CodeCheckpoint, Cause: err}
	}

	e.emit(emit.Event{RunID: newRunID, Step: 0, NodeID: startNode, Msg: "resuming from checkpoint",
		Meta: map[string]interface{}{"label": label, "checkpoint_step": step}})

	return e.resumeFrom(ctx, newRunID, state, startNode, 0)
}

func (e *Engine[S]) validate() error {
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: CodeMissingReducer}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: CodeMissingStore}
	}
	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Run)", Code: CodeNoStartNode}
	}
	return nil
}

// loop is the shared execution loop for Run and the resume paths.
func (e *Engine[S]) loop(ctx context.Context, runID string, state S, nodeID string, step int) (S, error) {
	var zero S

	if e.opts.metrics != nil {
		e.opts.metrics.RunStarted()
		defer e.opts.metrics.RunFinished()
	}

	for {
		step++

		if e.opts.maxSteps > 0 && step > e.opts.maxSteps {
			return zero, &EngineError{Message: "run exceeded MaxSteps limit", Code: CodeMaxSteps, Cause: ErrMaxSteps}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		node, exists := e.nodes[nodeID]
		e.mu.RUnlock()
		if !exists {
			return zero, &EngineError{Message: "node not found during execution: " + nodeID, Code: CodeNodeNotFound}
		}

		result, err := e.execute(ctx, runID, nodeID, node, state)
		if err != nil {
			return zero, err
		}

		state = e.reducer(state, result.Delta)

		if err := e.store.SaveStep(ctx, runID, step, nodeID, state); err != nil {
			return zero, &EngineError{Message: "save step: " + err.Error(), Code: CodeStoreError, Cause: err}
		}

		e.emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Msg: "node completed"})

		if result.Route.Terminal {
			return state, nil
		}
		if result.Route.To != "" {
			nodeID = result.Route.To
			continue
		}

		next := e.evaluateEdges(nodeID, state)
		if next == "" {
			return zero, &EngineError{Message: "no valid route from node: " + nodeID, Code: CodeNoRoute}
		}
		nodeID = next
	}
}

// execute runs a single node with the configured timeout and retry budget.
// Only errors that opt in via the Retryable interface are retried.
func (e *Engine[S]) execute(ctx context.Context, runID, nodeID string, node Node[S], state S) (NodeResult[S], error) {
	var result NodeResult[S]

	for attempt := 0; ; attempt++ {
		start := time.Now()
		result = e.runWithTimeout(ctx, node, state)

		if e.opts.metrics != nil {
			status := "success"
			if result.Err != nil {
				status = "error"
			}
			e.opts.metrics.RecordStep(nodeID, status, time.Since(start))
		}

		if result.Err == nil {
			return result, nil
		}

		if !IsRetryable(result.Err) || attempt >= e.opts.retries {
			if attempt > 0 {
				return result, &NodeError{
					Message: "retries exhausted: " + result.Err.Error(),
					Code:    CodeRetriesExhausted,
					NodeID:  nodeID,
					Cause:   errors.Join(ErrRetriesExhausted, result.Err),
				}
			}
			return result, result.Err
		}

		if e.opts.metrics != nil {
			e.opts.metrics.RecordRetry(nodeID)
		}
		e.emit(emit.Event{RunID: runID, NodeID: nodeID, Msg: "node retrying",
			Meta: map[string]interface{}{"attempt": attempt + 1, "error": result.Err.Error()}})

		delay := e.opts.retryDelay * time.Duration(attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
}

func (e *Engine[S]) runWithTimeout(ctx context.Context, node Node[S], state S) NodeResult[S] {
	if e.opts.nodeTimeout <= 0 {
		return node.Run(ctx, state)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, e.opts.nodeTimeout)
	defer cancel()
	return node.Run(nodeCtx, state)
}

// evaluateEdges finds the first matching outgoing edge in registration order.
// Returns "" when nothing matches.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) emit(event emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}
