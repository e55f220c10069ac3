package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/devloop-ai/devloop/llm"
)

func TestNewChatModel(t *testing.T) {
	t.Run("defaults the model name", func(t *testing.T) {
		m := NewChatModel("key", "")
		if m.modelName != DefaultModel {
			t.Errorf("expected %q, got %q", DefaultModel, m.modelName)
		}
	})

	t.Run("keeps an explicit model name", func(t *testing.T) {
		m := NewChatModel("key", "claude-3-haiku-20240307")
		if m.modelName != "claude-3-haiku-20240307" {
			t.Errorf("unexpected model name %q", m.modelName)
		}
	})
}

func TestSplitSystemPrompt(t *testing.T) {
	t.Run("extracts system messages", func(t *testing.T) {
		system, turns := splitSystemPrompt([]llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "hello"},
			{Role: llm.RoleAssistant, Content: "hi"},
			{Role: llm.RoleUser, Content: "again"},
		})

		if system != "be terse" {
			t.Errorf("expected system prompt, got %q", system)
		}
		if len(turns) != 3 {
			t.Fatalf("expected 3 turns, got %d", len(turns))
		}
		if turns[0].Role != anthropic.MessageParamRoleUser {
			t.Errorf("expected first turn user, got %v", turns[0].Role)
		}
		if turns[1].Role != anthropic.MessageParamRoleAssistant {
			t.Errorf("expected second turn assistant, got %v", turns[1].Role)
		}
	})

	t.Run("concatenates multiple system messages", func(t *testing.T) {
		system, _ := splitSystemPrompt([]llm.Message{
			{Role: llm.RoleSystem, Content: "one"},
			{Role: llm.RoleSystem, Content: "two"},
		})
		if system != "one\n\ntwo" {
			t.Errorf("unexpected system prompt %q", system)
		}
	})

	t.Run("no system messages", func(t *testing.T) {
		system, turns := splitSystemPrompt([]llm.Message{{Role: llm.RoleUser, Content: "hi"}})
		if system != "" {
			t.Errorf("expected empty system prompt, got %q", system)
		}
		if len(turns) != 1 {
			t.Errorf("expected 1 turn, got %d", len(turns))
		}
	})
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantTransient bool
	}{
		{name: "authentication", err: errors.New("401 authentication_error"), wantCode: "invalid_api_key", wantTransient: false},
		{name: "rate limit", err: errors.New("429 rate_limit_error"), wantCode: "rate_limited", wantTransient: true},
		{name: "overloaded", err: errors.New("529 overloaded_error"), wantCode: "overloaded", wantTransient: true},
		{name: "timeout", err: errors.New("request timeout"), wantCode: "timeout", wantTransient: true},
		{name: "other", err: errors.New("invalid_request_error"), wantCode: "api_error", wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			translated := translateError(tt.err)

			var provErr *llm.Error
			if !errors.As(translated, &provErr) {
				t.Fatalf("expected *llm.Error, got %T", translated)
			}
			if provErr.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, provErr.Code)
			}
			if provErr.Transient != tt.wantTransient {
				t.Errorf("expected transient %v, got %v", tt.wantTransient, provErr.Transient)
			}
			if provErr.Provider != "anthropic" {
				t.Errorf("expected provider anthropic, got %q", provErr.Provider)
			}
			if !errors.Is(translated, tt.err) {
				t.Error("expected original error to be wrapped")
			}
		})
	}

	t.Run("context errors pass through", func(t *testing.T) {
		if translateError(context.Canceled) != context.Canceled {
			t.Error("context.Canceled should not be translated")
		}
	})
}
