// Package google adapts Google's Gemini API to model.ChatModel.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/model"
)

// DefaultModel is the Gemini model used when none is specified.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel using the generative-ai-go client.
//
// Gemini has no assistant role. Assistant messages map to the "model" role,
// and system messages become the model's SystemInstruction.
//
// Example usage:
//
//	m, err := google.NewChatModel(ctx, "", "gemini-1.5-flash", 0.7)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
type ChatModel struct {
	client      *genai.Client
	modelName   string
	temperature float32
}

// NewChatModel creates a Gemini-backed ChatModel.
//
// If apiKey is empty the GOOGLE_API_KEY environment variable is used.
// An empty modelName defaults to DefaultModel.
func NewChatModel(ctx context.Context, apiKey, modelName string, temperature float32) (*ChatModel, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("google api key not provided and GOOGLE_API_KEY not set")
		}
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &ChatModel{
		client:      client,
		modelName:   modelName,
		temperature: temperature,
	}, nil
}

// Close releases the underlying client. Call when the model is no longer
// needed.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	gm := m.client.GenerativeModel(m.modelName)
	gm.SetTemperature(m.temperature)

	var history []*genai.Content
	var last genai.Part
	haveLast := false

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			gm.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(msg.Content)},
			}
		case model.RoleAssistant:
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		default:
			if haveLast {
				history = append(history, &genai.Content{
					Role:  "user",
					Parts: []genai.Part{last},
				})
			}
			last = genai.Text(msg.Content)
			haveLast = true
		}
	}
	if !haveLast {
		return model.ChatOut{}, fmt.Errorf("gemini requires at least one user message")
	}

	session := gm.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, last)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("gemini chat failed: %w", err)
	}

	return parseResponse(resp)
}

func parseResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	if resp == nil {
		return model.ChatOut{}, fmt.Errorf("nil response from gemini")
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.ChatOut{}, fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	return model.ChatOut{
		Text:       strings.TrimSpace(sb.String()),
		TokensUsed: tokensUsed,
	}, nil
}
