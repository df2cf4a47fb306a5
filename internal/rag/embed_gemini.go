package rag

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"Orion-Core/server/internal/models"
)

// GeminiEmbeddingProvider calls the Gemini embedContent API.
type GeminiEmbeddingProvider struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGeminiEmbeddingProvider creates a provider backed by the Gemini API
func NewGeminiEmbeddingProvider(ctx context.Context, apiKey, model string, dimension int) (*GeminiEmbeddingProvider, error) {
	if apiKey == "" {
		return nil, models.Configurationf("embedding.gemini", "api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiEmbeddingProvider{client: client, model: model, dimension: dimension}, nil
}

func (p *GeminiEmbeddingProvider) Name() string   { return "gemini:" + p.model }
func (p *GeminiEmbeddingProvider) Dimension() int { return p.dimension }

func (p *GeminiEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(p.dimension)),
	})
	if err != nil {
		return nil, classifyGenAIError("embedding.gemini", err)
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		// Truncated Gemini embeddings are not unit length.
		vectors[i] = NormalizeVector(e.Values)
	}
	return vectors, nil
}

func classifyGenAIError(op string, err error) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return models.Transient(op, ctxErr)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isTransientStatus(apiErr.Code) {
			return models.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return models.Transient(op, err)
}
