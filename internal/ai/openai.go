package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"lorehub/internal/config"
)

// OpenAIClient answers via the chat completions API. A base URL override
// makes it work against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewOpenAIClient validates the credentials and builds the client.
func NewOpenAIClient(cfg *config.AIConfig) (*OpenAIClient, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAI.BaseURL
	}

	model := cfg.OpenAI.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", NewError("openai", ErrClassTransient, errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, out any) error {
	raw, err := c.Generate(ctx, prompt+jsonInstruction)
	if err != nil {
		return err
	}
	return decodeJSONAnswer(raw, out)
}

func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewError("openai", classifyStatus(apiErr.HTTPStatusCode), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError("openai", ErrClassTransient, err)
	}
	// Network-level failures without a status code are worth retrying.
	return NewError("openai", ErrClassTransient, err)
}
