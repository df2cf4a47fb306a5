package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"Orion-Core/server/internal/models"
)

const (
	defaultBatchSize  = 64
	defaultRetryDelay = time.Second
	defaultCacheTTL   = 24 * time.Hour
	defaultCacheSize  = 10000
)

// Embedder turns texts into vectors, one per input and in the same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// EmbeddingProvider is a single upstream embedding model.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// VectorCache is an optional shared cache tier behind the in-process cache.
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float32, bool, error)
	SetVector(ctx context.Context, key string, vector []float32, ttl time.Duration) error
}

// EmbeddingOptions tunes an EmbeddingService. Zero values take defaults.
type EmbeddingOptions struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	CacheTTL   time.Duration
	CacheSize  int
	Remote     VectorCache
	Logger     *zap.Logger
}

// EmbeddingService handles text embedding generation and caching
type EmbeddingService struct {
	provider   EmbeddingProvider
	cache      *EmbeddingCache
	remote     VectorCache
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(provider EmbeddingProvider, opts EmbeddingOptions) *EmbeddingService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &EmbeddingService{
		provider:   provider,
		cache:      NewEmbeddingCache(opts.CacheTTL, opts.CacheSize),
		remote:     opts.Remote,
		batchSize:  opts.BatchSize,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		cacheTTL:   opts.CacheTTL,
		logger:     opts.Logger,
	}
}

func (s *EmbeddingService) Dimension() int { return s.provider.Dimension() }

func (s *EmbeddingService) Model() string { return s.provider.Name() }

// Embed generates embeddings for multiple texts. Any failure fails the
// whole call; nothing is returned for the texts that did succeed.
func (s *EmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, models.Validation("embed", "at least one text is required")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, models.Validation("embed", "text at index %d is empty", i)
		}
	}

	vectors := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := s.lookup(ctx, text); ok {
			vectors[i] = vec
			embeddingCacheHits.Inc()
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}

	if len(uncachedTexts) == 0 {
		return vectors, nil
	}
	embeddingCacheMisses.Add(float64(len(uncachedTexts)))

	newVectors, err := s.embedUncached(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for i, idx := range uncachedIndices {
		vectors[idx] = newVectors[i]
		s.store(ctx, uncachedTexts[i], newVectors[i])
	}

	return vectors, nil
}

// embedUncached calls the provider in batches of batchSize
func (s *EmbeddingService) embedUncached(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += s.batchSize {
		end := i + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := s.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding provider %s returned %d vectors for %d texts", s.provider.Name(), len(vectors), len(batch))
		}
		for j, v := range vectors {
			if len(v) != s.provider.Dimension() {
				return nil, models.Configurationf("embed", "provider %s returned dimension %d, expected %d",
					s.provider.Name(), len(v), s.provider.Dimension())
			}
			if !IsValidVector(v) {
				return nil, fmt.Errorf("embedding provider %s returned a non-finite vector for text %d", s.provider.Name(), i+j)
			}
		}
		all = append(all, vectors...)
	}

	return all, nil
}

func (s *EmbeddingService) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			}
		}

		start := time.Now()
		vectors, err := s.provider.EmbedBatch(ctx, texts)
		embeddingDuration.WithLabelValues(s.provider.Name()).Observe(time.Since(start).Seconds())
		if err == nil {
			return vectors, nil
		}

		lastErr = err
		if ctx.Err() != nil || !models.IsTransient(err) {
			break
		}
		s.logger.Warn("embedding attempt failed",
			zap.String("provider", s.provider.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("batch", len(texts)),
			zap.Error(err),
		)
	}

	embeddingErrors.WithLabelValues(s.provider.Name()).Inc()
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, models.Transient("embed", lastErr)
	}
	return nil, fmt.Errorf("failed to create embeddings: %w", lastErr)
}

func (s *EmbeddingService) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return s.provider.Name() + ":" + hex.EncodeToString(sum[:])
}

func (s *EmbeddingService) lookup(ctx context.Context, text string) ([]float32, bool) {
	key := s.cacheKey(text)
	if vec, ok := s.cache.Get(key); ok {
		return vec, true
	}
	if s.remote == nil {
		return nil, false
	}
	vec, ok, err := s.remote.GetVector(ctx, key)
	if err != nil {
		s.logger.Debug("remote embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok || len(vec) != s.provider.Dimension() {
		return nil, false
	}
	s.cache.Put(key, vec)
	return vec, true
}

func (s *EmbeddingService) store(ctx context.Context, text string, vec []float32) {
	key := s.cacheKey(text)
	s.cache.Put(key, vec)
	if s.remote == nil {
		return
	}
	if err := s.remote.SetVector(ctx, key, vec, s.cacheTTL); err != nil {
		s.logger.Debug("remote embedding cache write failed", zap.Error(err))
	}
}

// ClearCache clears the in-process embedding cache
func (s *EmbeddingService) ClearCache() {
	s.cache.Clear()
}

// EmbeddingStats holds statistics about the embedding service
type EmbeddingStats struct {
	CacheSize    int    `json:"cache_size"`
	Model        string `json:"model"`
	EmbeddingDim int    `json:"embedding_dim"`
	BatchSize    int    `json:"batch_size"`
}

// GetStats returns statistics about the embedding service
func (s *EmbeddingService) GetStats() *EmbeddingStats {
	return &EmbeddingStats{
		CacheSize:    s.cache.Len(),
		Model:        s.provider.Name(),
		EmbeddingDim: s.provider.Dimension(),
		BatchSize:    s.batchSize,
	}
}

// normalizeText trims and collapses internal whitespace
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeVector normalizes a vector to unit length
func NormalizeVector(vector []float32) []float32 {
	if len(vector) == 0 {
		return vector
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vector
	}

	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}

// IsValidVector checks a vector has no NaN or Inf values
func IsValidVector(vector []float32) bool {
	for _, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
