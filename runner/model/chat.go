// Package model provides LLM integration adapters for AI-driven message
// generation in multi-turn dialog tests.
package model

import "context"

// ChatModel is the interface for LLM chat providers.
//
// The dialog engine uses a ChatModel when a node's message-generation
// strategy is "ai_generated": the model plays the virtual user, producing
// the next message from the conversation so far.
//
// Implementations should:
//   - Handle provider-specific authentication
//   - Convert the standard Message format to the provider's wire format
//   - Respect context cancellation and timeouts
//   - Handle retries for transient failures
type ChatModel interface {
	// Chat sends the conversation to the LLM and returns its reply.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is a single message in an LLM conversation.
type Message struct {
	// Role identifies the sender. Use the Role* constants.
	Role string

	// Content is the message text.
	Content string
}

// Standard role constants, aligned with the conventions of the major
// providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is the output of a chat completion.
type ChatOut struct {
	// Text is the generated reply.
	Text string

	// TokensUsed is the total token count reported by the provider,
	// zero when the provider does not report usage.
	TokensUsed int
}
