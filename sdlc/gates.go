package sdlc

import (
	"context"
	"fmt"

	"github.com/devloop-ai/devloop/pipeline"
)

// DefaultGateAttempts caps feedback rounds per gate before the run is
// rejected.
const DefaultGateAttempts = 3

// gateSpec describes one approval gate: where it pauses, where approval
// leads, and which node handles feedback.
type gateSpec struct {
	id     string
	stage  string // stage shown while awaiting the decision
	next   string // node on approval
	revise string // node on feedback
}

var gates = []gateSpec{
	{id: NodeStoryGate, stage: StageStoryReview, next: NodeGenerateDesign, revise: NodeReviseStories},
	{id: NodeDesignGate, stage: StageDesignReview, next: NodeGenerateCode, revise: NodeReviseDesign},
	{id: NodeCodeGate, stage: StageCodeReview, next: NodeSecurityScan, revise: NodeFixCode},
	{id: NodeSecurityGate, stage: StageSecurityReview, next: NodeGenerateTests, revise: NodeFixSecurity},
	{id: NodeTestGate, stage: StageTestReview, next: NodeQARun, revise: NodeFixTests},
}

// GateForStage maps a review stage to its gate node ID. The server uses it
// to resume a paused run at the right node after a decision arrives.
func GateForStage(stage string) (string, bool) {
	for _, g := range gates {
		if g.stage == stage {
			return g.id, true
		}
	}
	return "", false
}

// IsAwaitingApproval reports whether the state is paused at a human gate.
func IsAwaitingApproval(s State) bool {
	_, ok := GateForStage(s.Stage)
	return ok && s.Decision != DecisionApproved && s.Decision != DecisionFeedback
}

// gate builds the node for one approval gate.
//
// pending: the run stops; the engine returns and the service marks the run
// awaiting approval. approved: reset the decision and advance. feedback:
// carry the reviewer's notes to the revise node and count the attempt;
// one round too many rejects the run.
func gate(spec gateSpec, maxAttempts int) pipeline.NodeFunc[State] {
	return func(_ context.Context, s State) pipeline.NodeResult[State] {
		switch s.Decision {
		case DecisionApproved:
			return pipeline.NodeResult[State]{
				Delta: State{
					Decision: DecisionPending,
					History:  note(spec.stage, spec.id, "approved"),
				},
				Route: pipeline.Goto(spec.next),
			}

		case DecisionFeedback:
			attempts := s.Attempts[spec.id] + 1
			if attempts > maxAttempts {
				return pipeline.NodeResult[State]{
					Delta: State{
						Stage:    StageRejected,
						Decision: DecisionRejected,
						Feedback: s.Feedback,
						History: note(spec.stage, spec.id,
							fmt.Sprintf("rejected after %d feedback rounds", attempts-1)),
					},
					Route: pipeline.Stop(),
				}
			}
			return pipeline.NodeResult[State]{
				Delta: State{
					Decision: DecisionPending,
					Feedback: s.Feedback,
					Attempts: map[string]int{spec.id: attempts},
					History:  note(spec.stage, spec.id, "feedback round "+fmt.Sprint(attempts)),
				},
				Route: pipeline.Goto(spec.revise),
			}

		default:
			// No decision yet: pause here. The stage marks which gate the
			// run is waiting at.
			return pipeline.NodeResult[State]{
				Delta: State{Stage: spec.stage},
				Route: pipeline.Stop(),
			}
		}
	}
}
