// Package anthropic adapts Anthropic's Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/model"
)

// ChatModel implements model.ChatModel using the official anthropic-sdk-go
// client.
//
// The Messages API takes the system prompt as a top-level parameter rather
// than as a message, so system messages are extracted from the conversation
// and the remainder is sent as user/assistant turns.
//
// ChatModel is safe for concurrent use after creation.
type ChatModel struct {
	client     *anthropic.Client
	modelName  string
	maxTokens  int64
	maxRetries int
	retryDelay time.Duration
}

// NewChatModel creates an Anthropic-backed ChatModel.
// An empty modelName defaults to "claude-3-5-sonnet-20241022".
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-3-5-sonnet-20241022"
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		client:     &client,
		modelName:  modelName,
		maxTokens:  1024,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return model.ChatOut{}, errors.New("anthropic requires at least one non-system message")
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.createMessage(ctx, system, turns)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isTransient(err) || attempt >= m.maxRetries {
			break
		}

		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}

	return model.ChatOut{}, fmt.Errorf("anthropic chat failed: %w", lastErr)
}

func (m *ChatModel) createMessage(ctx context.Context, system string, turns []anthropic.MessageParam) (model.ChatOut, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return model.ChatOut{
		Text:       strings.TrimSpace(sb.String()),
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// splitSystem separates system messages from the dialog turns. Multiple
// system messages are joined with blank lines.
func splitSystem(messages []model.Message) (string, []anthropic.MessageParam) {
	var systemParts []string
	turns := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case model.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return strings.Join(systemParts, "\n\n"), turns
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"rate limit", "rate_limit", "429", "timeout", "overloaded", "connection", "500", "502", "503", "529"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
