// Package openai adapts the OpenAI chat completions client to the
// ports.TextGenerator contract used by pipeline stages.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	api "github.com/guidepost-ai/guidepost/internal/api/openai"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

// Generator implements ports.TextGenerator over the OpenAI API.
type Generator struct {
	client *api.Client
	model  string
}

var _ ports.TextGenerator = (*Generator)(nil)

// New creates a generator bound to a model.
func New(client *api.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Generate sends the prompt pair with JSON-constrained output and
// returns the raw JSON content. Callers own schema validation; any
// malformed payload must be handled as a recoverable failure.
func (g *Generator) Generate(ctx context.Context, req *ports.GenerateRequest) (json.RawMessage, error) {
	temp := req.Temperature
	resp, err := g.client.CreateChatCompletion(ctx, &api.ChatCompletionRequest{
		Model: g.model,
		Messages: []api.ChatCompletionMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature:    &temp,
		ResponseFormat: &api.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return json.RawMessage(resp.Choices[0].Message.Content), nil
}
