// Package sdlc implements the staged software-development workflow that
// devloop runs: requirements become user stories, a design, code, a security
// report, tests and deployment notes, with a human approval gate between
// stages.
package sdlc

import "time"

// Stage labels for State.Stage. Review stages are where runs pause for a
// human decision.
const (
	StageStories          = "User Stories"
	StageStoryReview      = "Story Review"
	StageDesign           = "Design"
	StageDesignReview     = "Design Review"
	StageCoding           = "Coding"
	StageCodeReview       = "Code Review"
	StageSecurityScan     = "Security Scan"
	StageSecurityReview   = "Security Review"
	StageTesting          = "Testing"
	StageTestReview       = "Test Review"
	StageQA               = "QA"
	StageDeployment       = "Deployment"
	StageDeploymentFailed = "Deployment Failed"
	StageMonitoring       = "Monitoring"
	StageDone             = "Done"
	StageRejected         = "Rejected"
)

// Decision values for State.Decision.
const (
	// DecisionPending means no verdict has been recorded for the current
	// gate; the run pauses there until one arrives.
	DecisionPending = "pending"

	// DecisionApproved advances the run to the next stage.
	DecisionApproved = "approved"

	// DecisionFeedback sends the artifact back to its revise node with
	// Feedback carried into the prompt.
	DecisionFeedback = "feedback"

	// DecisionPassed and DecisionFailed are QA verdicts, produced by the
	// qa-run node rather than a human.
	DecisionPassed = "passed"
	DecisionFailed = "failed"

	// DecisionRejected marks a run aborted after too many feedback rounds
	// at one gate.
	DecisionRejected = "rejected"
)

// State is the shared workflow state. Every field is JSON-serializable so
// the store can persist it after each step.
type State struct {
	// Inputs.
	Requirements   string `json:"requirements"`
	TargetLanguage string `json:"target_language"`

	// Artifacts, filled in stage by stage.
	UserStories     string `json:"user_stories,omitempty"`
	DesignDocs      string `json:"design_docs,omitempty"`
	Code            string `json:"code,omitempty"`
	SecurityReport  string `json:"security_report,omitempty"`
	TestCases       string `json:"test_cases,omitempty"`
	QAReport        string `json:"qa_report,omitempty"`
	DeploymentNotes string `json:"deployment_notes,omitempty"`
	MonitoringNotes string `json:"monitoring_notes,omitempty"`

	// Control fields.
	Stage    string `json:"stage,omitempty"`
	Decision string `json:"decision,omitempty"`
	Feedback string `json:"feedback,omitempty"`

	// Attempts counts feedback rounds per gate node.
	Attempts map[string]int `json:"attempts,omitempty"`

	// History is the audit trail of what happened, in order.
	History []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one audit record.
type HistoryEntry struct {
	Stage string    `json:"stage"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	Time  time.Time `json:"time"`
}

// Reduce merges a node's delta into the previous state.
//
// String fields follow last-writer-wins with "" meaning "no change", except
// Feedback: whenever the delta carries a Decision, Feedback is replaced
// wholesale so an approval can clear stale reviewer notes. Attempts merges
// per key and History appends.
func Reduce(prev, delta State) State {
	out := prev

	setIf(&out.Requirements, delta.Requirements)
	setIf(&out.TargetLanguage, delta.TargetLanguage)
	setIf(&out.UserStories, delta.UserStories)
	setIf(&out.DesignDocs, delta.DesignDocs)
	setIf(&out.Code, delta.Code)
	setIf(&out.SecurityReport, delta.SecurityReport)
	setIf(&out.TestCases, delta.TestCases)
	setIf(&out.QAReport, delta.QAReport)
	setIf(&out.DeploymentNotes, delta.DeploymentNotes)
	setIf(&out.MonitoringNotes, delta.MonitoringNotes)
	setIf(&out.Stage, delta.Stage)

	if delta.Decision != "" {
		out.Decision = delta.Decision
		out.Feedback = delta.Feedback
	} else {
		setIf(&out.Feedback, delta.Feedback)
	}

	if len(delta.Attempts) > 0 {
		merged := make(map[string]int, len(prev.Attempts)+len(delta.Attempts))
		for k, v := range prev.Attempts {
			merged[k] = v
		}
		for k, v := range delta.Attempts {
			merged[k] = v
		}
		out.Attempts = merged
	}

	if len(delta.History) > 0 {
		out.History = append(append([]HistoryEntry{}, prev.History...), delta.History...)
	}

	return out
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// note builds a single-entry history slice for a delta.
func note(stage, actor, text string) []HistoryEntry {
	return []HistoryEntry{{Stage: stage, Actor: actor, Note: text, Time: time.Now().UTC()}}
}
