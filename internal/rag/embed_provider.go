package rag

import (
	"context"
	"strings"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
	"Orion-Core/server/internal/rag/hashembed"
)

// NewEmbeddingProvider builds the provider selected by configuration.
func NewEmbeddingProvider(ctx context.Context, cfg config.EmbeddingConfig) (EmbeddingProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "azure":
		p, err := NewOpenAIEmbeddingProvider(OpenAIEmbeddingConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimension:  cfg.Dimension,
			Azure:      strings.EqualFold(cfg.Provider, "azure"),
			APIVersion: cfg.APIVersion,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "tei":
		p, err := NewTEIProvider(cfg.BaseURL, cfg.Model, cfg.Dimension, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gemini":
		p, err := NewGeminiEmbeddingProvider(ctx, cfg.APIKey, cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "fastembed":
		p, err := NewFastEmbedProvider(cfg.Model, cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		if p.Dimension() != cfg.Dimension {
			_ = p.Close()
			return nil, models.Configurationf("embedding.fastembed", "model %s has dimension %d, configured %d",
				cfg.Model, p.Dimension(), cfg.Dimension)
		}
		return p, nil
	case "hash":
		return hashembed.New(cfg.Dimension), nil
	default:
		return nil, models.Configurationf("embedding", "unsupported provider %q", cfg.Provider)
	}
}
