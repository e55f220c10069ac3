// Package llm defines the chat model abstraction devloop's pipeline nodes
// talk to. Provider adapters live in the subpackages anthropic, openai and
// google; nodes only see ChatModel.
package llm

import "context"

// ChatModel is the interface every provider adapter implements.
//
// Implementations must respect context cancellation, translate provider
// errors through Error so the engine can tell retryable failures from
// permanent ones, and report token usage when the provider supplies it.
type ChatModel interface {
	// Chat sends a conversation to the model and returns its reply.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one turn in a conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the message text.
	Content string
}

// Standard conversation roles, matching the conventions of the major
// providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is a model's reply plus the accounting data the pipeline needs.
type ChatOut struct {
	// Text is the generated reply.
	Text string

	// Model is the model identifier that produced the reply, as reported
	// by the provider. Used for per-model cost attribution.
	Model string

	// Usage reports token counts when the provider supplies them.
	Usage Usage
}

// Usage is the token accounting for a single chat call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}
