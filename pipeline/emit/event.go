package emit

// Event is an observability event emitted during workflow execution: node
// completions, pauses, resumptions, retries, and checkpoint operations.
type Event struct {
	// RunID identifies the workflow run that emitted this event.
	RunID string

	// Step is the sequential step number within the run (1-indexed).
	// Zero for run-level events.
	Step int

	// NodeID identifies the node involved. Empty for run-level events.
	NodeID string

	// Msg is a short human-readable description.
	Msg string

	// Meta carries additional structured data. Common keys: "error",
	// "attempt", "label", "stage", "tokens".
	Meta map[string]interface{}
}
