// Package store provides persistence backends for pipeline run state.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a run ID or checkpoint label does not exist.
var ErrNotFound = errors.New("not found")

// Store persists workflow state step by step so paused runs can be resumed
// and the full trail can be inspected.
//
// Type parameter S is the state type; it must be JSON-serializable.
type Store[S any] interface {
	// SaveStep persists the state after one node execution. Saving the same
	// (runID, step) pair twice replaces the earlier record.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest returns the most recent state for a run, with its step
	// number. Returns ErrNotFound for unknown runs.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// LoadHistory returns every persisted step for a run in step order.
	// Returns ErrNotFound for unknown runs.
	LoadHistory(ctx context.Context, runID string) ([]StepRecord[S], error)

	// ListRuns returns the IDs of all runs with persisted state.
	ListRuns(ctx context.Context) ([]string, error)

	// SaveCheckpoint snapshots a state under a user-chosen label. Saving the
	// same label twice replaces the snapshot.
	SaveCheckpoint(ctx context.Context, label string, state S, step int) error

	// LoadCheckpoint retrieves a labeled snapshot. Returns ErrNotFound for
	// unknown labels.
	LoadCheckpoint(ctx context.Context, label string) (state S, step int, err error)
}

// StepRecord is one persisted execution step.
type StepRecord[S any] struct {
	// Step is the 1-indexed step number.
	Step int

	// NodeID is the node that produced this state.
	NodeID string

	// State is the workflow state after the step's delta was merged.
	State S
}
