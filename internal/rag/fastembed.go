//go:build cgo

package rag

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"Orion-Core/server/internal/models"
)

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
}

var fastEmbedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.AllMiniLML6V2: 384,
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
}

// FastEmbedProvider runs a local ONNX embedding model.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	name      string
	dimension int
	mu        sync.Mutex
}

// NewFastEmbedProvider loads (and on first use downloads) the model.
func NewFastEmbedProvider(modelName, cacheDir string) (*FastEmbedProvider, error) {
	model, ok := fastEmbedModels[modelName]
	if !ok {
		return nil, models.Configurationf("embedding.fastembed", "unsupported model %q", modelName)
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		name:      modelName,
		dimension: fastEmbedDimensions[model],
	}, nil
}

func (p *FastEmbedProvider) Name() string   { return "fastembed:" + p.name }
func (p *FastEmbedProvider) Dimension() int { return p.dimension }

func (p *FastEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	vectors, err := p.model.Embed(texts, len(texts))
	if err != nil {
		return nil, fmt.Errorf("fastembed: %w", err)
	}
	return vectors, nil
}

// Close releases the ONNX runtime session.
func (p *FastEmbedProvider) Close() error {
	return p.model.Destroy()
}
