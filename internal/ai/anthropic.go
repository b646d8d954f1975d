package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"lorehub/internal/config"
)

// AnthropicClient answers via the Anthropic messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewAnthropicClient validates the credentials and builds the client.
func NewAnthropicClient(cfg *config.AIConfig) (*AnthropicClient, error) {
	if cfg.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	model := cfg.Anthropic.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.Anthropic.APIKey)),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", c.wrapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", NewError("anthropic", ErrClassTransient, errors.New("no text content in response"))
	}
	return sb.String(), nil
}

func (c *AnthropicClient) GenerateJSON(ctx context.Context, prompt string, out any) error {
	raw, err := c.Generate(ctx, prompt+jsonInstruction)
	if err != nil {
		return err
	}
	return decodeJSONAnswer(raw, out)
}

func (c *AnthropicClient) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewError("anthropic", classifyStatus(apiErr.StatusCode), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError("anthropic", ErrClassTransient, err)
	}
	return NewError("anthropic", ErrClassTransient, err)
}
