package pipeline

import "errors"

// ErrMaxSteps indicates the run reached the configured step limit without
// terminating. Guards against routing loops with no exit condition.
var ErrMaxSteps = errors.New("run exceeded maximum steps limit")

// ErrRetriesExhausted indicates a node kept failing with retryable errors
// until its retry budget ran out.
var ErrRetriesExhausted = errors.New("node retries exhausted")

// EngineError is an error from engine configuration or execution, carrying a
// machine-readable code alongside the message.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Engine error codes.
const (
	CodeMissingReducer = "MISSING_REDUCER"
	CodeMissingStore   = "MISSING_STORE"
	CodeNoStartNode    = "NO_START_NODE"
	CodeNodeNotFound   = "NODE_NOT_FOUND"
	CodeDuplicateNode  = "DUPLICATE_NODE"
	CodeNoRoute        = "NO_ROUTE"
	CodeStoreError     = "STORE_ERROR"
	CodeMaxSteps       = "MAX_STEPS_EXCEEDED"
	CodeRunNotFound    = "RUN_NOT_FOUND"
	CodeCheckpoint     = "CHECKPOINT_ERROR"
)

// Node error codes.
const (
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"
)
