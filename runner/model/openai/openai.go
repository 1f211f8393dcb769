// Package openai adapts OpenAI's chat completion API to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/model"
)

// ChatModel implements model.ChatModel using the official openai-go SDK.
//
// Transient failures (rate limits, 5xx, network errors) are retried with a
// short backoff; permanent failures are returned immediately.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini", 0.7)
//	out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hi"}})
type ChatModel struct {
	client      *openai.Client
	modelName   string
	temperature float64
	maxRetries  int
	retryDelay  time.Duration
}

// NewChatModel creates an OpenAI-backed ChatModel.
// An empty modelName defaults to "gpt-4o-mini".
func NewChatModel(apiKey, modelName string, temperature float64) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		client:      &client,
		modelName:   modelName,
		temperature: temperature,
		maxRetries:  3,
		retryDelay:  time.Second,
	}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.createCompletion(ctx, messages)
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

	return model.ChatOut{}, fmt.Errorf("openai chat failed: %w", lastErr)
}

func (m *ChatModel) createCompletion(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(m.modelName),
		Messages:    toParams(messages),
		Temperature: openai.Float(m.temperature),
	})
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai returned no choices")
	}

	return model.ChatOut{
		Text:       strings.TrimSpace(completion.Choices[0].Message.Content),
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

func toParams(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params = append(params, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case model.RoleAssistant:
			params = append(params, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			params = append(params, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return params
}

// isTransient reports whether an error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"rate limit", "429", "timeout", "network", "connection", "temporary", "500", "502", "503"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
