package sdlc

import (
	"fmt"
	"strings"
)

// Prompt builders for each stage. The prompts ask for a specific output
// shape where the pipeline parses the response (verdict lines for security
// and QA); elsewhere they ask for the artifact alone so it can be stored
// as-is.

func storiesPrompt(s State) string {
	return fmt.Sprintf(`You are a skilled Product Owner assistant. Convert the following
requirements into 3-5 well-formed user stories that are specific, measurable,
achievable, relevant and time-bound.

Use the format: 'As a [type of user], I want to [perform an action] so that
[achieve a specific outcome]'. Under each story, list its acceptance criteria
as bullet points starting with 'Acceptance Criteria:'. Cover the core
functionality and any non-functional needs the requirements imply.

Requirements:
%s`, s.Requirements)
}

func reviseStoriesPrompt(s State) string {
	return fmt.Sprintf(`You are a skilled Product Owner assistant. Revise the user stories
below based only on the reviewer feedback, keeping the standard story format
and updating acceptance criteria where the feedback calls for it.

Feedback:
%s

Original user stories:
%s

Original requirements (for context):
%s

Return ONLY the complete set of revised user stories.`, s.Feedback, s.UserStories, s.Requirements)
}

func designPrompt(s State) string {
	return fmt.Sprintf(`You are an experienced software architect. From the approved user
stories below, produce design documents with two sections:

1. Functional Design: key features, detailed user flows, and UI/UX notes.
2. Technical Design: a textual architecture diagram, components and their
   responsibilities, data models, suitable technologies and libraries for
   %s, API and database design considerations, deployment and security
   considerations.

User stories:
%s

Keep the design scalable and maintainable.`, s.TargetLanguage, s.UserStories)
}

func reviseDesignPrompt(s State) string {
	return fmt.Sprintf(`You are an experienced software architect. Revise the design
documents below based only on the reviewer feedback, keeping both the
Functional Design and Technical Design sections complete.

Feedback:
%s

Original design documents:
%s

Return ONLY the complete revised design documents.`, s.Feedback, s.DesignDocs)
}

func codePrompt(s State) string {
	return fmt.Sprintf(`You are an expert %[1]s developer. Based strictly on the design
documents below, write clean, idiomatic, well-structured %[1]s code
implementing the described features. Include imports, error handling for
common failure cases, and comments on key logic following %[1]s conventions.

Design documents:
%s

User stories (for context):
%s

Return ONLY the raw %[1]s code, with no introductory text, explanations or
markdown fences.`, s.TargetLanguage, s.DesignDocs, s.UserStories)
}

func fixCodePrompt(s State) string {
	return fmt.Sprintf(`You are an expert %[1]s developer. Rework the code below to address
the reviewer feedback while preserving the intended behavior from the design
documents.

Feedback:
%s

Current code:
%s

Design documents (for context):
%s

Return ONLY the complete corrected %[1]s code, with no explanations or
markdown fences.`, s.TargetLanguage, s.Feedback, s.Code, s.DesignDocs)
}

func securityScanPrompt(s State) string {
	return fmt.Sprintf(`You are a security analyst reviewing %[1]s code. Perform a static
review covering input validation and injection risks, authentication and
authorization flaws, sensitive data handling and hardcoded secrets, error
handling that leaks information, insecure library use, and %s

Design documents (for intended behavior):
%s

Code (%[1]s):
%s

Respond in exactly one of two formats:
- the single word 'approved' if no high-risk issues are found, or
- 'feedback:' followed by a list of findings, each with the vulnerability
  name, location, potential impact and a concrete mitigation for %[1]s.`,
		s.TargetLanguage, languageSecurityConcerns(s.TargetLanguage), s.DesignDocs, s.Code)
}

func fixSecurityPrompt(s State) string {
	return fmt.Sprintf(`You are an expert %[1]s developer with a security focus. Apply the
remediations from the security report below to the code, fixing every listed
finding without changing intended behavior.

Security report:
%s

Current code:
%s

Return ONLY the complete hardened %[1]s code, with no explanations or
markdown fences.`, s.TargetLanguage, s.SecurityReport, s.Code)
}

func testsPrompt(s State) string {
	return fmt.Sprintf(`You are a software test engineer. Write test cases in %[1]s for the
code below, covering each user story's acceptance criteria plus the main
error paths and edge cases. Use the conventional %[1]s testing style.

Code (%[1]s):
%s

User stories with acceptance criteria:
%s

Return ONLY the raw %[1]s test code, with no explanations or markdown
fences.`, s.TargetLanguage, s.Code, s.UserStories)
}

func fixTestsPrompt(s State) string {
	return fmt.Sprintf(`You are a software test engineer. Revise the %[1]s test cases below
based only on the reviewer feedback, keeping coverage of the acceptance
criteria intact.

Feedback:
%s

Current test cases:
%s

Code under test (for context):
%s

Return ONLY the complete revised %[1]s test code, with no explanations or
markdown fences.`, s.TargetLanguage, s.Feedback, s.TestCases, s.Code)
}

func qaPrompt(s State) string {
	return fmt.Sprintf(`You are a software QA engineer. Evaluate whether the %[1]s test
cases below are likely to pass against the code and whether they adequately
cover its functionality, considering edge cases and failure paths.

Code (%[1]s):
%s

Test cases (%[1]s):
%s

Respond in exactly one of two formats:
- 'PASS: [why the tests should pass and what the coverage does well]'
- 'FAIL: [why the tests would fail or where coverage is inadequate]'`,
		s.TargetLanguage, s.Code, s.TestCases)
}

func deployPrompt(s State) string {
	return fmt.Sprintf(`You are a deployment engineer. The %s application below has passed
QA with this verdict: %s

Code:
%s

Write a concise deployment runbook: build and packaging steps, configuration
and secrets to provide, a rollout procedure with verification checks, and a
rollback plan.`, s.TargetLanguage, s.QAReport, s.Code)
}

func monitorPrompt(s State) string {
	return fmt.Sprintf(`You are a site reliability engineer taking over a freshly deployed
%s application. Based on the design and deployment notes below, write a
monitoring and maintenance plan: key metrics and alerts, log signals worth
watching, routine maintenance tasks, and the most likely failure modes.

Design documents:
%s

Deployment notes:
%s`, s.TargetLanguage, s.DesignDocs, s.DeploymentNotes)
}

// languageSecurityConcerns tailors the security prompt to the target
// language's common pitfalls.
func languageSecurityConcerns(language string) string {
	switch strings.ToLower(language) {
	case "python":
		return "Python-specific concerns: unsafe pickle or eval use, injection via subprocess calls, and dependency vulnerabilities."
	case "java":
		return "Java-specific concerns: insecure deserialization, XXE, and vulnerabilities in third-party libraries."
	case "javascript", "typescript":
		return "JavaScript-specific concerns: XSS, prototype pollution, and insecure npm dependencies."
	case "go":
		return "Go-specific concerns: command injection, unchecked errors hiding failures, and vulnerable external packages."
	case "c#":
		return "C#-specific concerns: insecure deserialization, unsafe code blocks, and unvalidated redirects."
	default:
		return "common vulnerabilities such as XSS, injection, and insecure handling of user input."
	}
}
