package sdlc

import (
	"github.com/devloop-ai/devloop/llm"
	"github.com/devloop-ai/devloop/pipeline"
	"github.com/devloop-ai/devloop/pipeline/emit"
	"github.com/devloop-ai/devloop/pipeline/store"
)

// Options configures a workflow build.
type Options struct {
	// GateAttempts caps feedback rounds per gate. Zero means
	// DefaultGateAttempts.
	GateAttempts int

	// Metrics and Costs are shared with the LLM nodes for token accounting.
	// Either may be nil.
	Metrics *pipeline.Metrics
	Costs   *pipeline.CostTracker

	// Pipeline options are passed through to the engine (MaxSteps, retries,
	// node timeout).
	Pipeline []pipeline.Option
}

// NewWorkflow wires the full SDLC graph onto an engine: generation nodes,
// approval gates and the QA/deploy/monitor tail. Runs start at
// generate-stories; paused runs re-enter at their gate via Engine.Resume.
func NewWorkflow(model llm.ChatModel, st store.Store[State], emitter emit.Emitter, opts Options) (*pipeline.Engine[State], error) {
	gateAttempts := opts.GateAttempts
	if gateAttempts <= 0 {
		gateAttempts = DefaultGateAttempts
	}

	engineOpts := opts.Pipeline
	if opts.Metrics != nil {
		engineOpts = append(engineOpts, pipeline.WithMetrics(opts.Metrics))
	}
	if opts.Costs != nil {
		engineOpts = append(engineOpts, pipeline.WithCostTracker(opts.Costs))
	}

	engine := pipeline.New[State](Reduce, st, emitter, engineOpts...)

	n := &nodes{model: model, costs: opts.Costs, metrics: opts.Metrics}

	stageNodes := map[string]pipeline.Node[State]{
		NodeGenerateStories: n.generateStories(),
		NodeReviseStories:   n.reviseStories(),
		NodeGenerateDesign:  n.generateDesign(),
		NodeReviseDesign:    n.reviseDesign(),
		NodeGenerateCode:    n.generateCode(),
		NodeFixCode:         n.fixCode(),
		NodeSecurityScan:    n.securityScan(),
		NodeFixSecurity:     n.fixSecurity(),
		NodeGenerateTests:   n.generateTests(),
		NodeFixTests:        n.fixTests(),
		NodeQARun:           n.qaRun(),
		NodeDeploy:          n.deploy(),
		NodeMonitor:         n.monitor(),
	}
	for id, node := range stageNodes {
		if err := engine.Add(id, node); err != nil {
			return nil, err
		}
	}
	for _, g := range gates {
		if err := engine.Add(g.id, gate(g, gateAttempts)); err != nil {
			return nil, err
		}
	}

	// qa-run routes by verdict through edges; everything else routes
	// explicitly from inside the node.
	if err := engine.Connect(NodeQARun, NodeDeploy, func(s State) bool {
		return s.Decision == DecisionPassed
	}); err != nil {
		return nil, err
	}
	if err := engine.Connect(NodeQARun, NodeFixCode, nil); err != nil {
		return nil, err
	}

	if err := engine.StartAt(NodeGenerateStories); err != nil {
		return nil, err
	}
	return engine, nil
}

// NewRunState builds the initial state for a run.
func NewRunState(requirements, targetLanguage string) State {
	return State{
		Requirements:   requirements,
		TargetLanguage: targetLanguage,
		Stage:          StageStories,
		Decision:       DecisionPending,
		Attempts:       map[string]int{},
	}
}
