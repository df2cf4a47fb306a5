package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"Orion-Core/server/internal/models"
)

// OpenAIEmbeddingProvider calls an OpenAI-compatible /embeddings endpoint.
// Azure deployments are supported through go-openai's Azure config.
type OpenAIEmbeddingProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

// OpenAIEmbeddingConfig configures OpenAIEmbeddingProvider
type OpenAIEmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int
	Azure      bool
	APIVersion string
	HTTPClient *http.Client
}

// NewOpenAIEmbeddingProvider creates a provider
func NewOpenAIEmbeddingProvider(cfg OpenAIEmbeddingConfig) (*OpenAIEmbeddingProvider, error) {
	if cfg.APIKey == "" {
		return nil, models.Configurationf("embedding.openai", "api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimension <= 0 {
		return nil, models.Configurationf("embedding.openai", "dimension is required")
	}

	var clientCfg openai.ClientConfig
	if cfg.Azure {
		if cfg.BaseURL == "" {
			return nil, models.Configurationf("embedding.azure", "base_url (resource endpoint) is required")
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		deployment := cfg.Model
		clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		}
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIEmbeddingProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

func (p *OpenAIEmbeddingProvider) Name() string   { return "openai:" + p.model }
func (p *OpenAIEmbeddingProvider) Dimension() int { return p.dimension }

func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}
	if strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dimension
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError("embedding.openai", err)
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// classifyOpenAIError marks retryable go-openai failures as transient.
func classifyOpenAIError(op string, err error) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return models.Transient(op, ctxErr)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isTransientStatus(apiErr.HTTPStatusCode) {
			return models.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if isTransientStatus(reqErr.HTTPStatusCode) {
			return models.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	// Transport failures (connection refused, reset) have no status.
	return models.Transient(op, err)
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func contextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return context.Canceled
	}
	return nil
}
