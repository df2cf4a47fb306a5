package interfaces

import (
	"context"

	"Orion-Core/server/internal/models"
	"Orion-Core/server/internal/rag"
)

// MemoryService defines the semantic memory operations exposed over HTTP
type MemoryService interface {
	// AddMemory embeds and stores one memory, returning its id
	AddMemory(ctx context.Context, in rag.AddMemoryInput) (string, error)

	// IndexText stores every blank-line separated chunk of a document
	IndexText(ctx context.Context, in rag.AddMemoryInput) ([]string, error)

	// AddFeedback stores a rating of a generated answer
	AddFeedback(ctx context.Context, in rag.FeedbackInput) (string, error)

	// SearchMemory ranks memories by similarity, enforcing the score threshold
	SearchMemory(ctx context.Context, query string, req rag.SearchRequest) ([]models.SearchResult, error)

	// List scans memories by filter without ranking
	List(ctx context.Context, filter *rag.Filter, limit int, collection string) ([]models.SearchResult, error)

	// DeleteMemory removes memories by id
	DeleteMemory(ctx context.Context, ids []string, collection string) (int, error)

	// Embed returns embeddings without storing them
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string

	Stats(ctx context.Context) (*rag.MemoryStats, error)
	HealthCheck(ctx context.Context) error
}

var _ MemoryService = (*rag.MemoryService)(nil)
