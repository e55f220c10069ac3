package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devloop-ai/devloop/pipeline/emit"
	"github.com/devloop-ai/devloop/pipeline/store"
)

// TestState is the state type used across engine tests.
type TestState struct {
	Value   string   `json:"value"`
	Counter int      `json:"counter"`
	Visited []string `json:"visited,omitempty"`
}

func testReducer(prev, delta TestState) TestState {
	if delta.Value != "" {
		prev.Value = delta.Value
	}
	prev.Counter += delta.Counter
	prev.Visited = append(prev.Visited, delta.Visited...)
	return prev
}

// mockEmitter collects events for assertions.
type mockEmitter struct {
	mu     sync.Mutex
	events []emit.Event
}

func (m *mockEmitter) Emit(event emit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockEmitter) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Msg)
	}
	return out
}

// visit returns a node that records itself and routes to next, or stops when
// next is empty.
func visit(id, next string) NodeFunc[TestState] {
	return func(_ context.Context, _ TestState) NodeResult[TestState] {
		route := Stop()
		if next != "" {
			route = Goto(next)
		}
		return NodeResult[TestState]{
			Delta: TestState{Visited: []string{id}, Counter: 1},
			Route: route,
		}
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine[TestState], *store.MemStore[TestState]) {
	t.Helper()
	st := store.NewMemStore[TestState]()
	return New(testReducer, st, &mockEmitter{}, opts...), st
}

func TestEngine_Run(t *testing.T) {
	t.Run("executes nodes in explicit route order", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		mustAdd(t, engine, "a", visit("a", "b"))
		mustAdd(t, engine, "b", visit("b", "c"))
		mustAdd(t, engine, "c", visit("c", ""))
		mustStartAt(t, engine, "a")

		final, err := engine.Run(context.Background(), "run-1", TestState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		want := "a,b,c"
		if got := strings.Join(final.Visited, ","); got != want {
			t.Errorf("expected visit order %q, got %q", want, got)
		}
		if final.Counter != 3 {
			t.Errorf("expected 3 steps counted, got %d", final.Counter)
		}
	})

	t.Run("persists state after every step", func(t *testing.T) {
		engine, st := newTestEngine(t)

		mustAdd(t, engine, "a", visit("a", "b"))
		mustAdd(t, engine, "b", visit("b", ""))
		mustStartAt(t, engine, "a")

		if _, err := engine.Run(context.Background(), "run-1", TestState{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		records, err := st.LoadHistory(context.Background(), "run-1")
		if err != nil {
			t.Fatalf("LoadHistory failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 persisted steps, got %d", len(records))
		}
		if records[0].NodeID != "a" || records[1].NodeID != "b" {
			t.Errorf("unexpected node trail: %s, %s", records[0].NodeID, records[1].NodeID)
		}
		if records[0].Step != 1 || records[1].Step != 2 {
			t.Errorf("expected steps 1,2 got %d,%d", records[0].Step, records[1].Step)
		}
	})

	t.Run("does not mutate the caller's initial state", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		mustAdd(t, engine, "a", visit("a", ""))
		mustStartAt(t, engine, "a")

		initial := TestState{Visited: []string{"seed"}}
		if _, err := engine.Run(context.Background(), "run-1", initial); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if len(initial.Visited) != 1 || initial.Visited[0] != "seed" {
			t.Errorf("initial state was mutated: %v", initial.Visited)
		}
	})

	t.Run("routes through edges when node returns no route", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		// a returns no route; edges decide based on state.
		mustAdd(t, engine, "a", NodeFunc[TestState](func(_ context.Context, _ TestState) NodeResult[TestState] {
			return NodeResult[TestState]{Delta: TestState{Value: "go-right", Visited: []string{"a"}}}
		}))
		mustAdd(t, engine, "left", visit("left", ""))
		mustAdd(t, engine, "right", visit("right", ""))
		mustStartAt(t, engine, "a")

		mustConnect(t, engine, "a", "right", func(s TestState) bool { return s.Value == "go-right" })
		mustConnect(t, engine, "a", "left", nil)

		final, err := engine.Run(context.Background(), "run-1", TestState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		want := "a,right"
		if got := strings.Join(final.Visited, ","); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("falls back to unconditional edge", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		mustAdd(t, engine, "a", NodeFunc[TestState](func(_ context.Context, _ TestState) NodeResult[TestState] {
			return NodeResult[TestState]{Delta: TestState{Visited: []string{"a"}}}
		}))
		mustAdd(t, engine, "left", visit("left", ""))
		mustAdd(t, engine, "right", visit("right", ""))
		mustStartAt(t, engine, "a")

		mustConnect(t, engine, "a", "right", func(s TestState) bool { return s.Value == "never" })
		mustConnect(t, engine, "a", "left", nil)

		final, err := engine.Run(context.Background(), "run-1", TestState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		want := "a,left"
		if got := strings.Join(final.Visited, ","); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("errors when no route matches", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		mustAdd(t, engine, "a", NodeFunc[TestState](func(_ context.Context, _ TestState) NodeResult[TestState] {
			return NodeResult[TestState]{}
		}))
		mustStartAt(t, engine, "a")

		_, err := engine.Run(context.Background(), "run-1", TestState{})
		assertEngineCode(t, err, CodeNoRoute)
	})

	t.Run("errors on unknown route target", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		mustAdd(t, engine, "a", visit("a", "missing"))
		mustStartAt(t, engine, "a")

		_, err := engine.Run(context.Background(), "run-1", TestState{})
		assertEngineCode(t, err, CodeNodeNotFound)
	})

	t.Run("enforces MaxSteps on loops", func(t *testing.T) {
		engine, _ := newTestEngine(t, WithMaxSteps(5))

		mustAdd(t, engine, "a", visit("a", "b"))
		mustAdd(t, engine, "b", visit("b", "a"))
		mustStartAt(t, engine, "a")

		_, err := engine.Run(context.Background(), "run-1", TestState{})
		assertEngineCode(t, err, CodeMaxSteps)
		if !errors.Is(err, ErrMaxSteps) {
			t.Errorf("expected errors.Is(err, ErrMaxSteps), got %v", err)
		}
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		ctx, cancel := context.WithCancel(context.Background())
		mustAdd(t, engine, "a", NodeFunc[TestState](func(_ context.Context, _ TestState) NodeResult[TestState] {
			cancel()
			return NodeResult[TestState]{Delta: TestState{Visited: []string{"a"}}, Route: Goto("b")}
		}))
		mustAdd(t, engine, "b", visit("b", ""))
		mustStartAt(t, engine, "a")

		_, err := engine.Run(ctx, "run-1", TestState{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("rejects non-serializable initial state", func(t *testing.T) {
		type badState struct {
			Ch chan int `json:"ch"`
		}
		st := store.NewMemStore[badState]()
		engine := New(func(prev, delta badState) badState { return prev }, st, nil)

		if err := engine.Add("a", NodeFunc[badState](func(_ context.Context, _ badState) NodeResult[badState] {
			return NodeResult[badState]{Route: Stop()}
		})); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := engine.StartAt("a"); err != nil {
			t.Fatalf("StartAt failed: %v", err)
		}

		_, err := engine.Run(context.Background(), "run-1", badState{Ch: make(chan int)})
		assertEngineCode(t, err, CodeStoreError)
	})
}

func TestEngine_Validation(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Engine[TestState]
		wantCode string
	}{
		{
			name: "missing reducer",
			build: func() *Engine[TestState] {
				e := New[TestState](nil, store.NewMemStore[TestState](), nil)
				_ = e.Add("a", visit("a", ""))
				_ = e.StartAt("a")
				return e
			},
			wantCode: CodeMissingReducer,
		},
		{
			name: "missing store",
			build: func() *Engine[TestState] {
				e := New(testReducer, nil, nil)
				_ = e.Add("a", visit("a", ""))
				_ = e.StartAt("a")
				return e
			},
			wantCode: CodeMissingStore,
		},
		{
			name: "missing start node",
			build: func() *Engine[TestState] {
				e := New(testReducer, store.NewMemStore[TestState](), nil)
				_ = e.Add("a", visit("a", ""))
				return e
			},
			wantCode: CodeNoStartNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Run(context.Background(), "run-1", TestState{})
			assertEngineCode(t, err, tt.wantCode)
		})
	}
}

func TestEngine_Add(t *testing.T) {
	t.Run("rejects duplicate node IDs", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		mustAdd(t, engine, "a", visit("a", ""))
		err := engine.Add("a", visit("a", ""))
		assertEngineCode(t, err, CodeDuplicateNode)
	})

	t.Run("rejects empty ID and nil node", func(t *testing.T) {
		engine, _ := newTestEngine(t)

		if err := engine.Add("", visit("a", "")); err == nil {
			t.Error("expected error for empty node ID")
		}
		if err := engine.Add("a", nil); err == nil {
			t.Error("expected error for nil node")
		}
	})
}

// retryableErr opts into the engine retry loop.
type retryableErr struct{ msg string }

func (e *retryableErr) Error() string   { return e.msg }
func (e *retryableErr) Retryable() bool { return true }

func TestEngine_Retries(t *testing.T) {
	t.Run("retries transient failures until success", func(t *testing.T) {
		emitter := &mockEmitter{}
		st := store.NewMemStore[TestState]()
		engine := New(testReducer, st, emitter, WithRetries(3), WithRetryDelay(time.Millisecond))

		attempts := 0
		mustAdd(t, engine, "flaky", NodeFunc[TestState](func(_ context.Context, _ TestState) NodeResult[TestState] {
			attempts++
			if attempts < 3 {
				return NodeResult[TestState]{Err: &retryableErr{msg: "throttled"}}
			}
			return NodeResult[TestState]{Delta: TestState{Value: "done"}, Route: Stop()}
		}))
		mustStartAt(t, engine, "flaky")

		final, err := engine.Run(context.Background(), "run-1", TestState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts)
		}
		if final.Value != "done" {
			t.Errorf("expected final value %q, got %q", "done", final.Value)
		}

		retrying := 0
		for _, msg := range emitter.messages() {
			if msg == "node retrying" {
				retrying++
			}
		}
		if retrying != 2 {
			t.Errorf("expected 2 retry events, got %d", retrying)
		}
	})

	t.Run("exhausts the retry budget", func(t *testing.T) {
		engine := New(testReducer, store.NewMemStore[TestState](), nil,
			WithRetries(2), WithRetryDelay(time.Millisecond))

		attempts := 0
		mustAdd(t, engine, "broken", NodeFunc[TestState](func(_ context.Context, _ TestState) NodeResult[TestState] {
			attempts++
			return NodeResult[TestState]{Err: &retryableErr{msg: "still down"}}
		}))
		mustStartAt(t, engine, "broken")

		_, err := engine.Run(context.Background(), "run-1", TestState{})
		if err == nil {
			t.Fatal("expected error after retries exhausted")
		}
		if attempts != 3 {
			t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts)
		}

		var nodeErr *NodeError
		if !errors.As(err, &nodeErr) {
			t.Fatalf("expected *NodeError, got %T", err)
		}
		if nodeErr.Code != CodeRetriesExhausted {
			t.Errorf("expected code %s, got %q", CodeRetriesExhausted, nodeErr.Code)
		}
		if nodeErr.NodeID != "broken" {
			t.Errorf("expected node ID broken, got %q", nodeErr.NodeID)
		}
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Error("expected err to match ErrRetriesExhausted")
		}
		var re *retryableErr
		if !errors.As(err, &re) {
			t.Error("expected the node's error to stay in the chain")
		}
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		engine := New(testReducer, store.NewMemStore[TestState](), nil,
			WithRetries(3), WithRetryDelay(time.Millisecond))

		attempts := 0
		permanent := errors.New("invalid api key")
		mustAdd(t, engine, "auth", NodeFunc[TestState](func(_ context.Context, _ TestState) NodeResult[TestState] {
			attempts++
			return NodeResult[TestState]{Err: permanent}
		}))
		mustStartAt(t, engine, "auth")

		_, err := engine.Run(context.Background(), "run-1", TestState{})
		if !errors.Is(err, permanent) {
			t.Errorf("expected the node error back, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts)
		}
	})
}

func TestEngine_Resume(t *testing.T) {
	// gate pauses until Value carries a verdict.
	buildPausable := func(st store.Store[TestState]) *Engine[TestState] {
		engine := New(testReducer, st, &mockEmitter{})
		_ = engine.Add("work", visit("work", "gate"))
		_ = engine.Add("gate", NodeFunc[TestState](func(_ context.Context, s TestState) NodeResult[TestState] {
			if s.Value != "approved" {
				return NodeResult[TestState]{Delta: TestState{Visited: []string{"gate-paused"}}, Route: Stop()}
			}
			return NodeResult[TestState]{Delta: TestState{Visited: []string{"gate-passed"}}, Route: Goto("finish")}
		}))
		_ = engine.Add("finish", visit("finish", ""))
		_ = engine.StartAt("work")
		return engine
	}

	t.Run("ResumeWith merges the delta and continues", func(t *testing.T) {
		st := store.NewMemStore[TestState]()
		engine := buildPausable(st)

		paused, err := engine.Run(context.Background(), "run-1", TestState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if got := paused.Visited[len(paused.Visited)-1]; got != "gate-paused" {
			t.Fatalf("expected run paused at gate, last visit %q", got)
		}

		final, err := engine.ResumeWith(context.Background(), "run-1", TestState{Value: "approved"}, "gate")
		if err != nil {
			t.Fatalf("ResumeWith failed: %v", err)
		}

		want := "work,gate-paused,gate-passed,finish"
		if got := strings.Join(final.Visited, ","); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}

		// Step numbering carries on: 2 from the first leg, 2 after resume.
		records, err := st.LoadHistory(context.Background(), "run-1")
		if err != nil {
			t.Fatalf("LoadHistory failed: %v", err)
		}
		if len(records) != 4 {
			t.Fatalf("expected 4 steps, got %d", len(records))
		}
		if records[3].Step != 4 {
			t.Errorf("expected final step 4, got %d", records[3].Step)
		}
	})

	t.Run("Resume picks up the stored state unchanged", func(t *testing.T) {
		st := store.NewMemStore[TestState]()
		engine := buildPausable(st)

		if _, err := engine.Run(context.Background(), "run-1", TestState{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		// Without a verdict the gate pauses again.
		again, err := engine.Resume(context.Background(), "run-1", "gate")
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if got := again.Visited[len(again.Visited)-1]; got != "gate-paused" {
			t.Errorf("expected gate to pause again, last visit %q", got)
		}
	})

	t.Run("Resume of unknown run fails", func(t *testing.T) {
		st := store.NewMemStore[TestState]()
		engine := buildPausable(st)

		_, err := engine.Resume(context.Background(), "ghost", "gate")
		assertEngineCode(t, err, CodeRunNotFound)
	})

	t.Run("Resume at unknown node fails", func(t *testing.T) {
		st := store.NewMemStore[TestState]()
		engine := buildPausable(st)

		if _, err := engine.Run(context.Background(), "run-1", TestState{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		_, err := engine.Resume(context.Background(), "run-1", "missing")
		assertEngineCode(t, err, CodeNodeNotFound)
	})
}

func TestEngine_Checkpoints(t *testing.T) {
	st := store.NewMemStore[TestState]()
	engine := New(testReducer, st, &mockEmitter{})
	mustAdd(t, engine, "work", visit("work", ""))
	mustStartAt(t, engine, "work")

	if _, err := engine.Run(context.Background(), "run-1", TestState{Value: "v1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := engine.SaveCheckpoint(context.Background(), "run-1", "after-work"); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	// Branch: a fresh run continues from the snapshot under a new ID.
	final, err := engine.ResumeFromCheckpoint(context.Background(), "after-work", "run-2", "work")
	if err != nil {
		t.Fatalf("ResumeFromCheckpoint failed: %v", err)
	}

	want := "work,work"
	if got := strings.Join(final.Visited, ","); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if _, _, err := st.LoadLatest(context.Background(), "run-2"); err != nil {
		t.Errorf("branched run was not persisted: %v", err)
	}

	t.Run("unknown label fails", func(t *testing.T) {
		_, err := engine.ResumeFromCheckpoint(context.Background(), "nope", "run-3", "work")
		assertEngineCode(t, err, CodeCheckpoint)
	})

	t.Run("checkpoint of unknown run fails", func(t *testing.T) {
		err := engine.SaveCheckpoint(context.Background(), "ghost", "label")
		assertEngineCode(t, err, CodeRunNotFound)
	})
}

func mustAdd(t *testing.T, e *Engine[TestState], id string, n Node[TestState]) {
	t.Helper()
	if err := e.Add(id, n); err != nil {
		t.Fatalf("Add(%s) failed: %v", id, err)
	}
}

func mustStartAt(t *testing.T, e *Engine[TestState], id string) {
	t.Helper()
	if err := e.StartAt(id); err != nil {
		t.Fatalf("StartAt(%s) failed: %v", id, err)
	}
}

func mustConnect(t *testing.T, e *Engine[TestState], from, to string, p Predicate[TestState]) {
	t.Helper()
	if err := e.Connect(from, to, p); err != nil {
		t.Fatalf("Connect(%s, %s) failed: %v", from, to, err)
	}
}

func assertEngineCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected engine error with code %s, got nil", code)
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected *EngineError, got %T: %v", err, err)
	}
	if engErr.Code != code {
		t.Errorf("expected code %s, got %s (%v)", code, engErr.Code, err)
	}
}
