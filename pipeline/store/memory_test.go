package store

import (
	"context"
	"errors"
	"testing"
)

type testState struct {
	Value string   `json:"value"`
	Tags  []string `json:"tags,omitempty"`
}

func TestMemStore_Steps(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load latest", func(t *testing.T) {
		st := NewMemStore[testState]()

		mustSave(t, st, "run-1", 1, "a", testState{Value: "v1"})
		mustSave(t, st, "run-1", 2, "b", testState{Value: "v2"})

		state, step, err := st.LoadLatest(ctx, "run-1")
		if err != nil {
			t.Fatalf("LoadLatest failed: %v", err)
		}
		if step != 2 {
			t.Errorf("expected step 2, got %d", step)
		}
		if state.Value != "v2" {
			t.Errorf("expected value v2, got %q", state.Value)
		}
	})

	t.Run("same step replaces", func(t *testing.T) {
		st := NewMemStore[testState]()

		mustSave(t, st, "run-1", 1, "a", testState{Value: "first"})
		mustSave(t, st, "run-1", 1, "a", testState{Value: "second"})

		records, err := st.LoadHistory(ctx, "run-1")
		if err != nil {
			t.Fatalf("LoadHistory failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		if records[0].State.Value != "second" {
			t.Errorf("expected the replacement, got %q", records[0].State.Value)
		}
	})

	t.Run("history is ordered by step", func(t *testing.T) {
		st := NewMemStore[testState]()

		mustSave(t, st, "run-1", 3, "c", testState{Value: "v3"})
		mustSave(t, st, "run-1", 1, "a", testState{Value: "v1"})
		mustSave(t, st, "run-1", 2, "b", testState{Value: "v2"})

		records, err := st.LoadHistory(ctx, "run-1")
		if err != nil {
			t.Fatalf("LoadHistory failed: %v", err)
		}
		for i, rec := range records {
			if rec.Step != i+1 {
				t.Errorf("record %d has step %d", i, rec.Step)
			}
		}
	})

	t.Run("unknown run returns ErrNotFound", func(t *testing.T) {
		st := NewMemStore[testState]()

		if _, _, err := st.LoadLatest(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadLatest: expected ErrNotFound, got %v", err)
		}
		if _, err := st.LoadHistory(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadHistory: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("saved state is isolated from the caller", func(t *testing.T) {
		st := NewMemStore[testState]()

		state := testState{Value: "v1", Tags: []string{"x"}}
		mustSave(t, st, "run-1", 1, "a", state)
		state.Tags[0] = "mutated"

		loaded, _, err := st.LoadLatest(ctx, "run-1")
		if err != nil {
			t.Fatalf("LoadLatest failed: %v", err)
		}
		if loaded.Tags[0] != "x" {
			t.Errorf("stored state shares memory with the caller: %v", loaded.Tags)
		}
	})

	t.Run("ListRuns returns sorted IDs", func(t *testing.T) {
		st := NewMemStore[testState]()

		mustSave(t, st, "run-b", 1, "a", testState{})
		mustSave(t, st, "run-a", 1, "a", testState{})

		ids, err := st.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "run-a" || ids[1] != "run-b" {
			t.Errorf("expected [run-a run-b], got %v", ids)
		}
	})
}

func TestMemStore_Checkpoints(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[testState]()

	if err := st.SaveCheckpoint(ctx, "v1", testState{Value: "snap"}, 7); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	state, step, err := st.LoadCheckpoint(ctx, "v1")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if state.Value != "snap" || step != 7 {
		t.Errorf("expected snap/7, got %q/%d", state.Value, step)
	}

	// Same label replaces.
	if err := st.SaveCheckpoint(ctx, "v1", testState{Value: "snap2"}, 9); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	state, step, err = st.LoadCheckpoint(ctx, "v1")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if state.Value != "snap2" || step != 9 {
		t.Errorf("expected snap2/9, got %q/%d", state.Value, step)
	}

	if _, _, err := st.LoadCheckpoint(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func mustSave(t *testing.T, st Store[testState], runID string, step int, nodeID string, state testState) {
	t.Helper()
	if err := st.SaveStep(context.Background(), runID, step, nodeID, state); err != nil {
		t.Fatalf("SaveStep(%s, %d) failed: %v", runID, step, err)
	}
}
