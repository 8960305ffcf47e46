package gateway

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/diegogrosmann/BookTranslateAI/internal/postprocess"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIGateway translates through the OpenAI chat completion API, or
// any OpenAI-compatible endpoint when a base URL is given.
type OpenAIGateway struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAIGateway {
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGateway{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGateway) Name() string { return "openai" }

func (g *OpenAIGateway) Translate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})
	if err != nil {
		return "", g.classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", Errorf(Malformed, g.Name(), "response contained no choices")
	}
	text := postprocess.Clean(resp.Choices[0].Message.Content)
	if text == "" {
		return "", Errorf(Malformed, g.Name(), "response was empty after cleanup")
	}
	return text, nil
}

func (g *OpenAIGateway) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewError(classFromStatus(apiErr.HTTPStatusCode), g.Name(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", g.Name(), err)
	}
	return NewError(Transient, g.Name(), err)
}
