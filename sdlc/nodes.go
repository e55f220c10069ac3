package sdlc

import (
	"context"
	"strings"

	"github.com/devloop-ai/devloop/llm"
	"github.com/devloop-ai/devloop/pipeline"
)

// Node IDs for the workflow graph. The server resumes paused runs by gate
// node ID, so these are part of the package's API.
const (
	NodeGenerateStories = "generate-stories"
	NodeReviseStories   = "revise-stories"
	NodeStoryGate       = "story-gate"
	NodeGenerateDesign  = "generate-design"
	NodeReviseDesign    = "revise-design"
	NodeDesignGate      = "design-gate"
	NodeGenerateCode    = "generate-code"
	NodeFixCode         = "fix-code"
	NodeCodeGate        = "code-gate"
	NodeSecurityScan    = "security-scan"
	NodeFixSecurity     = "fix-security"
	NodeSecurityGate    = "security-gate"
	NodeGenerateTests   = "generate-tests"
	NodeFixTests        = "fix-tests"
	NodeTestGate        = "test-gate"
	NodeQARun           = "qa-run"
	NodeDeploy          = "deploy"
	NodeMonitor         = "monitor"
)

// nodes builds the workflow's node functions around a shared chat model and
// token accounting.
type nodes struct {
	model   llm.ChatModel
	costs   *pipeline.CostTracker
	metrics *pipeline.Metrics
}

// chat sends a single-prompt conversation and records token usage.
func (n *nodes) chat(ctx context.Context, prompt string) (string, error) {
	out, err := n.model.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", err
	}
	if n.costs != nil {
		n.costs.Record(out.Model, int(out.Usage.InputTokens), int(out.Usage.OutputTokens))
	}
	if n.metrics != nil {
		n.metrics.RecordTokens(out.Model, int(out.Usage.InputTokens), int(out.Usage.OutputTokens))
	}
	return strings.TrimSpace(out.Text), nil
}

func (n *nodes) generateStories() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, storiesPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				UserStories: text,
				Stage:       StageStoryReview,
				History:     note(StageStories, NodeGenerateStories, firstLine(text)),
			},
			Route: pipeline.Goto(NodeStoryGate),
		}
	}
}

func (n *nodes) reviseStories() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, reviseStoriesPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				UserStories: text,
				Stage:       StageStoryReview,
				Decision:    DecisionPending,
				History:     note(StageStories, NodeReviseStories, "stories revised per feedback"),
			},
			Route: pipeline.Goto(NodeStoryGate),
		}
	}
}

func (n *nodes) generateDesign() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, designPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				DesignDocs: text,
				Stage:      StageDesignReview,
				History:    note(StageDesign, NodeGenerateDesign, firstLine(text)),
			},
			Route: pipeline.Goto(NodeDesignGate),
		}
	}
}

func (n *nodes) reviseDesign() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, reviseDesignPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				DesignDocs: text,
				Stage:      StageDesignReview,
				Decision:   DecisionPending,
				History:    note(StageDesign, NodeReviseDesign, "design revised per feedback"),
			},
			Route: pipeline.Goto(NodeDesignGate),
		}
	}
}

func (n *nodes) generateCode() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, codePrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				Code:    CleanCodeFences(text, s.TargetLanguage),
				Stage:   StageCodeReview,
				History: note(StageCoding, NodeGenerateCode, "code generated"),
			},
			Route: pipeline.Goto(NodeCodeGate),
		}
	}
}

func (n *nodes) fixCode() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, fixCodePrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				Code:     CleanCodeFences(text, s.TargetLanguage),
				Stage:    StageCodeReview,
				Decision: DecisionPending,
				History:  note(StageCoding, NodeFixCode, "code reworked per feedback"),
			},
			Route: pipeline.Goto(NodeCodeGate),
		}
	}
}

// securityScan runs the LLM security review. An "approved" verdict records a
// clean report; a "feedback:" verdict records the findings. Either way the
// run proceeds to the security gate so a human confirms, with the report in
// front of them. An unparseable response is treated as flagged.
func (n *nodes) securityScan() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, securityScanPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}

		report := text
		verdict := "flagged"
		lower := strings.ToLower(text)
		switch {
		case strings.HasPrefix(lower, "approved"):
			report = "No high-risk issues found."
			verdict = "clean"
		case strings.HasPrefix(lower, "feedback:"):
			report = strings.TrimSpace(text[len("feedback:"):])
		}

		return pipeline.NodeResult[State]{
			Delta: State{
				SecurityReport: report,
				Stage:          StageSecurityReview,
				History:        note(StageSecurityScan, NodeSecurityScan, "security scan "+verdict),
			},
			Route: pipeline.Goto(NodeSecurityGate),
		}
	}
}

func (n *nodes) fixSecurity() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, fixSecurityPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				Code:     CleanCodeFences(text, s.TargetLanguage),
				Stage:    StageSecurityScan,
				Decision: DecisionPending,
				History:  note(StageSecurityScan, NodeFixSecurity, "security remediations applied"),
			},
			Route: pipeline.Goto(NodeSecurityScan),
		}
	}
}

func (n *nodes) generateTests() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, testsPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				TestCases: CleanCodeFences(text, s.TargetLanguage),
				Stage:     StageTestReview,
				History:   note(StageTesting, NodeGenerateTests, "test cases generated"),
			},
			Route: pipeline.Goto(NodeTestGate),
		}
	}
}

func (n *nodes) fixTests() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, fixTestsPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				TestCases: CleanCodeFences(text, s.TargetLanguage),
				Stage:     StageTestReview,
				Decision:  DecisionPending,
				History:   note(StageTesting, NodeFixTests, "tests revised per feedback"),
			},
			Route: pipeline.Goto(NodeTestGate),
		}
	}
}

// qaRun has the model judge whether the tests would pass and cover the code.
// The verdict routes via edges: passed goes to deploy, failed goes back to
// fix-code with the QA report as feedback. An unparseable verdict counts as
// failed.
func (n *nodes) qaRun() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, qaPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}

		decision := DecisionFailed
		report := text
		switch {
		case strings.HasPrefix(text, "PASS:"):
			decision = DecisionPassed
			report = strings.TrimSpace(text[len("PASS:"):])
		case strings.HasPrefix(text, "FAIL:"):
			report = strings.TrimSpace(text[len("FAIL:"):])
		default:
			report = "QA verdict unparseable, treating as failed: " + firstLine(text)
		}

		delta := State{
			QAReport: report,
			Stage:    StageQA,
			Decision: decision,
			History:  note(StageQA, NodeQARun, "qa "+decision),
		}
		if decision == DecisionFailed {
			// The report doubles as feedback for the fix-code prompt.
			delta.Feedback = report
		}
		return pipeline.NodeResult[State]{Delta: delta}
	}
}

func (n *nodes) deploy() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		if s.Decision != DecisionPassed {
			return pipeline.NodeResult[State]{
				Delta: State{
					Stage:   StageDeploymentFailed,
					History: note(StageDeployment, NodeDeploy, "deployment halted, QA did not pass"),
				},
				Route: pipeline.Stop(),
			}
		}

		text, err := n.chat(ctx, deployPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				DeploymentNotes: text,
				Stage:           StageMonitoring,
				History:         note(StageDeployment, NodeDeploy, "deployed"),
			},
			Route: pipeline.Goto(NodeMonitor),
		}
	}
}

func (n *nodes) monitor() pipeline.NodeFunc[State] {
	return func(ctx context.Context, s State) pipeline.NodeResult[State] {
		text, err := n.chat(ctx, monitorPrompt(s))
		if err != nil {
			return pipeline.NodeResult[State]{Err: err}
		}
		return pipeline.NodeResult[State]{
			Delta: State{
				MonitoringNotes: text,
				Stage:           StageDone,
				History:         note(StageMonitoring, NodeMonitor, "monitoring plan recorded"),
			},
			Route: pipeline.Stop(),
		}
	}
}
