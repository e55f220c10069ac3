// Package openai adapts OpenAI-compatible chat completion APIs to
// llm.ChatModel. Groq exposes the same wire format, so the Groq constructor
// reuses this adapter with a different base URL.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/devloop-ai/devloop/llm"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gpt-4o-mini"

// GroqBaseURL is the OpenAI-compatible endpoint served by Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// ChatModel implements llm.ChatModel for OpenAI's chat completions API and
// compatible endpoints.
type ChatModel struct {
	client    openai.Client
	modelName string
	provider  string
}

// NewChatModel creates an OpenAI-backed ChatModel. An empty modelName
// selects DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
		provider:  "openai",
	}
}

// NewGroqChatModel creates a ChatModel that talks to Groq's
// OpenAI-compatible endpoint.
func NewGroqChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "llama-3.3-70b-versatile"
	}
	return &ChatModel{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(GroqBaseURL),
		),
		modelName: modelName,
		provider:  "groq",
	}
}

// Chat implements llm.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message) (llm.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatOut{}, err
	}

	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	})
	if err != nil {
		return llm.ChatOut{}, m.translateError(err)
	}

	if len(completion.Choices) == 0 {
		return llm.ChatOut{}, &llm.Error{
			Provider: m.provider,
			Code:     "empty_response",
			Message:  "no choices in completion",
		}
	}

	return llm.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: llm.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case llm.RoleAssistant:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return out
}

func (m *ChatModel) translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests"):
		return &llm.Error{Provider: m.provider, Code: "rate_limited", Message: "rate limit exceeded", Transient: true, Cause: err}
	case strings.Contains(lower, "invalid api key") || strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized"):
		return &llm.Error{Provider: m.provider, Code: "invalid_api_key", Message: "API key is invalid or expired", Transient: false, Cause: err}
	case strings.Contains(lower, "quota") || strings.Contains(lower, "billing"):
		return &llm.Error{Provider: m.provider, Code: "quota_exceeded", Message: "quota exceeded", Transient: false, Cause: err}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504"):
		return &llm.Error{Provider: m.provider, Code: "server_error", Message: err.Error(), Transient: true, Cause: err}
	case strings.Contains(lower, "connection") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "network"):
		return &llm.Error{Provider: m.provider, Code: "network_error", Message: err.Error(), Transient: true, Cause: err}
	default:
		return &llm.Error{Provider: m.provider, Code: "api_error", Message: err.Error(), Transient: false, Cause: err}
	}
}
