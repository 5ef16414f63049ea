// Package openai adapts the OpenAI chat-completions API to the engine's
// TextCompletion port.
package openai

import (
	"context"
	"fmt"
	"strings"

	openaiapi "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bghira/text-game-engine/internal/services/game/engine"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Completion implements engine.TextCompletion over the OpenAI API.
type Completion struct {
	client openaiapi.Client
	model  string
}

var _ engine.TextCompletion = (*Completion)(nil)

// New builds a completion adapter. The API key is required; model falls back
// to DefaultModel.
func New(apiKey, model string) (*Completion, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Completion{
		client: openaiapi.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Complete sends one chat completion and returns the raw model text. The
// engine owns parsing; this adapter stays transport-only.
func (c *Completion) Complete(ctx context.Context, prompt engine.Prompt) (string, error) {
	params := openaiapi.ChatCompletionNewParams{
		Model: openaiapi.ChatModel(c.model),
		Messages: []openaiapi.ChatCompletionMessageParamUnion{
			openaiapi.SystemMessage(prompt.System),
			openaiapi.UserMessage(prompt.User),
		},
	}
	if prompt.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiapi.Int(int64(prompt.MaxTokens))
	}
	if prompt.Temperature > 0 {
		params.Temperature = openaiapi.Float(prompt.Temperature)
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}
