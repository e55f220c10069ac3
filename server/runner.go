package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devloop-ai/devloop/pipeline"
	"github.com/devloop-ai/devloop/pipeline/store"
	"github.com/devloop-ai/devloop/sdlc"
)

// Status is the service-level view of a run.
type Status string

const (
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusRejected         Status = "rejected"
	StatusFailed           Status = "failed"
)

// Errors returned by Runner operations.
var (
	ErrRunNotFound    = errors.New("run not found")
	ErrNotAwaiting    = errors.New("run is not awaiting approval")
	ErrMissingRequest = errors.New("feedback decision requires feedback text")
	ErrModelSelection = errors.New("per-run model selection is not configured")
)

// EngineFactory builds a workflow engine for a requested model name. The
// Runner calls it when a run asks for a model other than the configured
// default; engines are cached per model name.
type EngineFactory func(model string) (*pipeline.Engine[sdlc.State], error)

type runInfo struct {
	status Status
	stage  string
	gate   string // gate node to resume at while awaiting approval
	errMsg string
	engine *pipeline.Engine[sdlc.State]
}

// Runner owns run execution: it starts workflow runs on goroutines, tracks
// their live status, and serializes approval decisions so concurrent posts
// cannot resume the same gate twice.
type Runner struct {
	engine  *pipeline.Engine[sdlc.State]
	factory EngineFactory
	store   store.Store[sdlc.State]
	logger  *zap.Logger

	mu      sync.Mutex
	runs    map[string]*runInfo
	engines map[string]*pipeline.Engine[sdlc.State]
}

// NewRunner creates a Runner around a wired workflow engine. factory may be
// nil, in which case runs requesting a specific model are rejected.
func NewRunner(engine *pipeline.Engine[sdlc.State], factory EngineFactory, st store.Store[sdlc.State], logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		engine:  engine,
		factory: factory,
		store:   st,
		logger:  logger,
		runs:    make(map[string]*runInfo),
		engines: make(map[string]*pipeline.Engine[sdlc.State]),
	}
}

// engineFor resolves the engine for a run. An empty model means the
// configured default.
func (r *Runner) engineFor(model string) (*pipeline.Engine[sdlc.State], error) {
	if model == "" {
		return r.engine, nil
	}
	if r.factory == nil {
		return nil, ErrModelSelection
	}

	r.mu.Lock()
	engine, ok := r.engines[model]
	r.mu.Unlock()
	if ok {
		return engine, nil
	}

	engine, err := r.factory(model)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.engines[model] = engine
	r.mu.Unlock()
	return engine, nil
}

// Start launches a new run and returns its ID. Execution happens on a
// goroutine detached from the caller's context; progress is observable
// through Get. model may be empty to use the configured default.
func (r *Runner) Start(requirements, targetLanguage, model string) (string, error) {
	engine, err := r.engineFor(model)
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	initial := sdlc.NewRunState(requirements, targetLanguage)

	r.mu.Lock()
	r.runs[runID] = &runInfo{status: StatusRunning, stage: initial.Stage, engine: engine}
	r.mu.Unlock()

	go func() {
		state, err := engine.Run(context.Background(), runID, initial)
		r.settle(runID, state, err)
	}()

	r.logger.Info("run started",
		zap.String("run_id", runID), zap.String("target_language", targetLanguage), zap.String("model", model))
	return runID, nil
}

// Decide records a human verdict for a paused run and resumes it at the
// pending gate. The first decision wins; once the run is back in the running
// state, further posts get ErrNotAwaiting.
func (r *Runner) Decide(runID, decision, feedback string) error {
	if decision != sdlc.DecisionApproved && decision != sdlc.DecisionFeedback {
		return fmt.Errorf("unknown decision %q", decision)
	}
	if decision == sdlc.DecisionFeedback && feedback == "" {
		return ErrMissingRequest
	}

	r.mu.Lock()
	info, exists := r.runs[runID]
	if !exists {
		r.mu.Unlock()
		return ErrRunNotFound
	}
	if info.status != StatusAwaitingApproval || info.gate == "" {
		r.mu.Unlock()
		return ErrNotAwaiting
	}
	gate := info.gate
	engine := info.engine
	info.status = StatusRunning
	info.gate = ""
	r.mu.Unlock()

	if engine == nil {
		engine = r.engine
	}

	delta := sdlc.State{Decision: decision, Feedback: feedback}
	go func() {
		state, err := engine.ResumeWith(context.Background(), runID, delta, gate)
		r.settle(runID, state, err)
	}()

	r.logger.Info("decision recorded",
		zap.String("run_id", runID), zap.String("gate", gate), zap.String("decision", decision))
	return nil
}

// settle updates a run's tracked status after the engine returns.
func (r *Runner) settle(runID string, state sdlc.State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.runs[runID]
	if !exists {
		info = &runInfo{}
		r.runs[runID] = info
	}

	if err != nil {
		info.status = StatusFailed
		info.errMsg = err.Error()
		r.logger.Error("run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	info.stage = state.Stage
	info.status = statusForState(state)
	if info.status == StatusAwaitingApproval {
		info.gate, _ = sdlc.GateForStage(state.Stage)
	}
	r.logger.Info("run settled",
		zap.String("run_id", runID), zap.String("stage", state.Stage), zap.String("status", string(info.status)))
}

// RunView is a run's status snapshot.
type RunView struct {
	RunID  string `json:"run_id"`
	Stage  string `json:"stage"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Get returns the status snapshot and latest state for a run. Runs persisted
// by an earlier process are visible too; their status is derived from the
// stored state. Live runs that have not persisted a step yet are reported
// from the tracked map with an empty state.
func (r *Runner) Get(ctx context.Context, runID string) (RunView, sdlc.State, error) {
	state, _, err := r.store.LoadLatest(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.mu.Lock()
			info, tracked := r.runs[runID]
			r.mu.Unlock()
			if tracked {
				return RunView{RunID: runID, Stage: info.stage, Status: info.status, Error: info.errMsg}, sdlc.State{}, nil
			}
			return RunView{}, sdlc.State{}, ErrRunNotFound
		}
		return RunView{}, sdlc.State{}, err
	}

	view := RunView{RunID: runID, Stage: state.Stage}

	r.mu.Lock()
	info, tracked := r.runs[runID]
	if tracked {
		view.Status = info.status
		view.Error = info.errMsg
		if info.stage != "" {
			view.Stage = info.stage
		}
	}
	r.mu.Unlock()

	if !tracked {
		view.Status = statusForState(state)
	}
	return view, state, nil
}

// List returns status snapshots for every known run, persisted or live.
func (r *Runner) List(ctx context.Context) ([]RunView, error) {
	ids, err := r.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(ids))
	views := make([]RunView, 0, len(ids))
	for _, id := range ids {
		view, _, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		views = append(views, view)
		seen[id] = true
	}

	// Live runs that have not persisted a step yet.
	r.mu.Lock()
	for id, info := range r.runs {
		if !seen[id] {
			views = append(views, RunView{RunID: id, Stage: info.stage, Status: info.status, Error: info.errMsg})
		}
	}
	r.mu.Unlock()

	return views, nil
}

// History returns the persisted step trail for a run.
func (r *Runner) History(ctx context.Context, runID string) ([]store.StepRecord[sdlc.State], error) {
	records, err := r.store.LoadHistory(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return records, err
}

func statusForState(state sdlc.State) Status {
	switch {
	case state.Stage == sdlc.StageRejected:
		return StatusRejected
	case state.Stage == sdlc.StageDeploymentFailed:
		return StatusFailed
	case state.Stage == sdlc.StageDone:
		return StatusCompleted
	case sdlc.IsAwaitingApproval(state):
		return StatusAwaitingApproval
	default:
		return StatusRunning
	}
}
