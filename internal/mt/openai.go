package mt

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
	openai "github.com/sashabaranov/go-openai"
)

type openaiEngine struct {
	client      *openai.Client
	model       string
	prompt      prompt
	temperature float32
	maxTokens   int
}

// NewOpenAIEngine translates through an OpenAI-compatible chat completion
// endpoint. cfg.Model names the served model; when empty the registry model
// ID is sent, which suits servers hosting the translation models directly.
func NewOpenAIEngine(cfg config.MTConfig, model language.Model, p prompt) Engine {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	name := cfg.Model
	if name == "" {
		name = model.ID
	}
	return &openaiEngine{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       name,
		prompt:      p,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxLength,
	}
}

func (e *openaiEngine) Translate(ctx context.Context, text string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: e.prompt.system},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
