// Package anthropic adapts Anthropic's Claude API to llm.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/devloop-ai/devloop/llm"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-3-5-sonnet-20241022"

// ChatModel implements llm.ChatModel for Claude.
//
// Anthropic takes the system prompt as a separate request parameter, so
// system messages are extracted from the conversation before the call.
type ChatModel struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
}

// NewChatModel creates a Claude-backed ChatModel. An empty modelName selects
// DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
		maxTokens: 4096,
	}
}

// Chat implements llm.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message) (llm.ChatOut, error) {
	if ctx.Err() != nil {
		return llm.ChatOut{}, ctx.Err()
	}

	systemPrompt, turns := splitSystemPrompt(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  turns,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatOut{}, translateError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return llm.ChatOut{
		Text:  text.String(),
		Model: string(message.Model),
		Usage: llm.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}

// splitSystemPrompt pulls system messages out of the conversation. Multiple
// system messages are concatenated.
func splitSystemPrompt(messages []llm.Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	turns := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case llm.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system.String(), turns
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "authentication") || strings.Contains(lower, "api_key"):
		return &llm.Error{Provider: "anthropic", Code: "invalid_api_key", Message: "API key is invalid or expired", Transient: false, Cause: err}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests"):
		return &llm.Error{Provider: "anthropic", Code: "rate_limited", Message: "rate limit exceeded", Transient: true, Cause: err}
	case strings.Contains(lower, "overloaded") || strings.Contains(lower, "500") ||
		strings.Contains(lower, "502") || strings.Contains(lower, "503") ||
		strings.Contains(lower, "529"):
		return &llm.Error{Provider: "anthropic", Code: "overloaded", Message: "service temporarily overloaded", Transient: true, Cause: err}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return &llm.Error{Provider: "anthropic", Code: "timeout", Message: "request timed out", Transient: true, Cause: err}
	default:
		return &llm.Error{Provider: "anthropic", Code: "api_error", Message: err.Error(), Transient: false, Cause: err}
	}
}
