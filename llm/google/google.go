// Package google adapts Google's Gemini API to llm.ChatModel.
package google

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/devloop-ai/devloop/llm"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements llm.ChatModel for Gemini.
//
// Close releases the underlying gRPC client; call it when the model is no
// longer needed.
type ChatModel struct {
	client    *genai.Client
	modelName string
}

// NewChatModel creates a Gemini-backed ChatModel. An empty modelName selects
// DefaultModel.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &llm.Error{
			Provider: "google",
			Code:     "client_init",
			Message:  err.Error(),
			Cause:    err,
		}
	}
	return &ChatModel{client: client, modelName: modelName}, nil
}

// Close releases client resources.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements llm.ChatModel.
//
// Gemini takes the system instruction on the model handle and the
// conversation as alternating content turns. Assistant turns map to the
// "model" role.
func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message) (llm.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatOut{}, err
	}

	model := m.client.GenerativeModel(m.modelName)

	system, turns := splitConversation(messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	if len(turns) == 0 {
		return llm.ChatOut{}, &llm.Error{
			Provider: "google",
			Code:     "empty_conversation",
			Message:  "no user messages to send",
		}
	}

	// All turns but the last become chat history; the last is the message
	// Gemini responds to.
	session := model.StartChat()
	session.History = turns[:len(turns)-1]
	last := turns[len(turns)-1]

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return llm.ChatOut{}, translateError(err)
	}

	return parseResponse(resp, m.modelName)
}

func splitConversation(messages []llm.Message) (string, []*genai.Content) {
	var system strings.Builder
	var turns []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case llm.RoleAssistant:
			turns = append(turns, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		default:
			turns = append(turns, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return system.String(), turns
}

func parseResponse(resp *genai.GenerateContentResponse, modelName string) (llm.ChatOut, error) {
	out := llm.ChatOut{Model: modelName}
	if resp == nil {
		return out, &llm.Error{Provider: "google", Code: "empty_response", Message: "nil response"}
	}

	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out, nil
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "unauthorized"):
		return &llm.Error{Provider: "google", Code: "invalid_api_key", Message: "API key is invalid or missing", Transient: false, Cause: err}
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "too many requests"):
		return &llm.Error{Provider: "google", Code: "rate_limited", Message: "rate limit exceeded", Transient: true, Cause: err}
	case strings.Contains(lower, "quota exceeded") || strings.Contains(lower, "billing"):
		return &llm.Error{Provider: "google", Code: "quota_exceeded", Message: "quota exceeded", Transient: false, Cause: err}
	case strings.Contains(lower, "unavailable") || strings.Contains(lower, "internal") ||
		strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return &llm.Error{Provider: "google", Code: "server_error", Message: err.Error(), Transient: true, Cause: err}
	default:
		return &llm.Error{Provider: "google", Code: "api_error", Message: err.Error(), Transient: false, Cause: err}
	}
}
