package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lorehub/internal/config"

	"github.com/sashabaranov/go-openai"
)

// Known embedding model dimensions. Unknown models fall back to 1536.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const defaultDimension = 1536

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API,
// or any OpenAI-compatible endpoint via base URL override.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIEmbedder validates configuration eagerly and builds the client.
func NewOpenAIEmbedder(apiKey, baseURL string, cfg *config.EmbeddingsConfig) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("embeddings: OpenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts cannot be empty")
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("text at index %d is empty", i)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Dimension is the vector size for the configured model.
func (e *OpenAIEmbedder) Dimension() int {
	if dim, ok := modelDimensions[e.model]; ok {
		return dim
	}
	return defaultDimension
}

// Model names the configured embedding model.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// HealthCheck embeds a trivial probe string.
func (e *OpenAIEmbedder) HealthCheck(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}
