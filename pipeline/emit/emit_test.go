package emit

import (
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureEmitter) Emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func TestMultiEmitter(t *testing.T) {
	t.Run("fans out to all emitters", func(t *testing.T) {
		a := &captureEmitter{}
		b := &captureEmitter{}
		multi := NewMultiEmitter(a, b)

		multi.Emit(Event{RunID: "run-1", Step: 1, NodeID: "n", Msg: "node completed"})

		if len(a.events) != 1 || len(b.events) != 1 {
			t.Fatalf("expected 1 event on each emitter, got %d and %d", len(a.events), len(b.events))
		}
		if a.events[0].RunID != "run-1" {
			t.Errorf("expected run-1, got %q", a.events[0].RunID)
		}
	})

	t.Run("skips nil emitters", func(t *testing.T) {
		a := &captureEmitter{}
		multi := NewMultiEmitter(nil, a, nil)

		multi.Emit(Event{Msg: "ok"})

		if len(a.events) != 1 {
			t.Errorf("expected the event to reach the non-nil emitter, got %d", len(a.events))
		}
	})

	t.Run("empty emitter set is safe", func(t *testing.T) {
		NewMultiEmitter().Emit(Event{Msg: "dropped"})
	})
}

func TestNullEmitter(t *testing.T) {
	NewNullEmitter().Emit(Event{RunID: "run-1", Msg: "anything"})
}

func TestLogEmitter(t *testing.T) {
	t.Run("logs events at info", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		emitter := NewLogEmitter(zap.New(core))

		emitter.Emit(Event{RunID: "run-1", Step: 3, NodeID: "generate-code", Msg: "node completed"})

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("expected 1 log entry, got %d", len(entries))
		}
		entry := entries[0]
		if entry.Message != "node completed" {
			t.Errorf("expected message %q, got %q", "node completed", entry.Message)
		}
		if entry.Level != zap.InfoLevel {
			t.Errorf("expected info level, got %v", entry.Level)
		}

		fields := entry.ContextMap()
		if fields["run_id"] != "run-1" {
			t.Errorf("expected run_id field, got %v", fields["run_id"])
		}
		if fields["node_id"] != "generate-code" {
			t.Errorf("expected node_id field, got %v", fields["node_id"])
		}
	})

	t.Run("events carrying an error log at warn", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		emitter := NewLogEmitter(zap.New(core))

		emitter.Emit(Event{RunID: "run-1", Msg: "node retrying",
			Meta: map[string]interface{}{"error": "rate limited", "attempt": 2}})

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("expected 1 log entry, got %d", len(entries))
		}
		if entries[0].Level != zap.WarnLevel {
			t.Errorf("expected warn level, got %v", entries[0].Level)
		}
	})

	t.Run("nil logger is safe", func(t *testing.T) {
		NewLogEmitter(nil).Emit(Event{Msg: "ok"})
	})
}

func TestOTelEmitter(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	emitter := NewOTelEmitter(tp.Tracer("test"))

	emitter.Emit(Event{RunID: "run-1", Step: 2, NodeID: "deploy", Msg: "node completed",
		Meta: map[string]interface{}{"label": "v1", "attempt": 1}})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "node completed" {
		t.Errorf("expected span name %q, got %q", "node completed", spans[0].Name())
	}

	attrs := make(map[string]interface{})
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["run_id"] != "run-1" {
		t.Errorf("expected run_id attribute, got %v", attrs["run_id"])
	}
	if attrs["node_id"] != "deploy" {
		t.Errorf("expected node_id attribute, got %v", attrs["node_id"])
	}
	if attrs["label"] != "v1" {
		t.Errorf("expected label attribute, got %v", attrs["label"])
	}
}
