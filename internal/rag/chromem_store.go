package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

const (
	chromemPayloadKey = "_payload"
	dimensionsSuffix  = ".dims.json"
)

var errNoEmbedding = errors.New("chromem: documents must carry precomputed embeddings")

// ChromemBackend is an embedded vector store for single-node deployments
// and tests. Filtering and thresholds run in process.
type ChromemBackend struct {
	db     *chromem.DB
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	dims map[string]int

	// docMu keeps Count and QueryEmbedding consistent with writers.
	docMu sync.RWMutex
}

// NewChromemBackend opens a persistent store at cfg.Path, or an in-memory
// one when the path is empty.
func NewChromemBackend(cfg config.ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &ChromemBackend{
		path:   cfg.Path,
		logger: logger,
		dims:   make(map[string]int),
	}

	if cfg.Path == "" {
		b.db = chromem.NewDB()
		return b, nil
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, models.Configuration("chromem.open", fmt.Errorf("failed to open chromem at %s: %w", cfg.Path, err))
	}
	b.db = db

	if err := b.loadDimensions(); err != nil {
		return nil, err
	}
	logger.Info("chromem store opened", zap.String("path", cfg.Path), zap.Int("collections", len(b.dims)))
	return b, nil
}

func noEmbedding(context.Context, string) ([]float32, error) { return nil, errNoEmbedding }

func (b *ChromemBackend) Name() string { return "chromem" }

func (b *ChromemBackend) collection(name string) *chromem.Collection {
	return b.db.GetCollection(name, noEmbedding)
}

func (b *ChromemBackend) Describe(_ context.Context, name string) (*models.CollectionInfo, bool, error) {
	col := b.collection(name)
	if col == nil {
		return nil, false, nil
	}
	b.mu.RLock()
	dim := b.dims[name]
	b.mu.RUnlock()

	return &models.CollectionInfo{
		Name:       name,
		Dimension:  dim,
		PointCount: uint64(col.Count()),
	}, true, nil
}

func (b *ChromemBackend) Create(_ context.Context, name string, dimension int) error {
	if _, err := b.db.GetOrCreateCollection(name, nil, noEmbedding); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	b.mu.Lock()
	b.dims[name] = dimension
	b.mu.Unlock()
	return b.saveDimensions()
}

func (b *ChromemBackend) Upsert(ctx context.Context, name string, points []models.MemoryPoint) error {
	col := b.collection(name)
	if col == nil {
		return models.Configurationf("chromem.upsert", "collection %s does not exist", name)
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		raw, err := json.Marshal(p.Payload)
		if err != nil {
			return models.Validation("chromem.upsert", "payload of %s is not serializable: %v", p.ID, err)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   p.Payload.Text(),
			Metadata:  map[string]string{chromemPayloadKey: string(raw)},
			Embedding: vec,
		}
	}

	b.docMu.Lock()
	defer b.docMu.Unlock()

	// Embeddings are precomputed, so a single worker is enough.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add documents to %s: %w", name, err)
	}
	return nil
}

func (b *ChromemBackend) Query(ctx context.Context, name string, vector []float32, opts SearchOptions) ([]models.SearchResult, error) {
	col := b.collection(name)
	if col == nil {
		return nil, models.Configurationf("chromem.query", "collection %s does not exist", name)
	}
	// chromem requires nResults <= document count, so rank everything and
	// filter afterwards.
	b.docMu.RLock()
	defer b.docMu.RUnlock()
	n := col.Count()
	if n == 0 {
		return []models.SearchResult{}, nil
	}
	raw, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}

	results := make([]models.SearchResult, 0, opts.Limit)
	for _, r := range raw {
		if opts.ScoreThreshold != nil && r.Similarity < *opts.ScoreThreshold {
			continue
		}
		p, err := decodeChromemPayload(r.ID, r.Metadata)
		if err != nil {
			return nil, err
		}
		if !opts.Filter.Matches(p.Payload) {
			continue
		}
		results = append(results, models.SearchResult{Point: p, Score: r.Similarity})
	}
	return results, nil
}

func (b *ChromemBackend) Scroll(ctx context.Context, name string, filter *Filter, limit int) ([]models.MemoryPoint, error) {
	col := b.collection(name)
	if col == nil {
		return nil, models.Configurationf("chromem.scroll", "collection %s does not exist", name)
	}
	b.docMu.RLock()
	defer b.docMu.RUnlock()
	n := col.Count()
	if n == 0 {
		return []models.MemoryPoint{}, nil
	}

	b.mu.RLock()
	dim := b.dims[name]
	b.mu.RUnlock()
	if dim == 0 {
		return nil, models.Configurationf("chromem.scroll", "dimension of collection %s is unknown", name)
	}

	// chromem has no listing API; a uniform probe vector ranks every document.
	probe := make([]float32, dim)
	for i := range probe {
		probe[i] = 1
	}
	raw, err := col.QueryEmbedding(ctx, NormalizeVector(probe), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", name, err)
	}

	points := make([]models.MemoryPoint, 0, len(raw))
	for _, r := range raw {
		p, err := decodeChromemPayload(r.ID, r.Metadata)
		if err != nil {
			return nil, err
		}
		if filter.Matches(p.Payload) {
			points = append(points, p)
		}
	}
	return points, nil
}

func (b *ChromemBackend) Get(ctx context.Context, name string, ids []string) ([]models.MemoryPoint, error) {
	col := b.collection(name)
	if col == nil {
		return nil, models.Configurationf("chromem.get", "collection %s does not exist", name)
	}
	out := make([]models.MemoryPoint, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			// GetByID fails for unknown ids.
			continue
		}
		p, err := decodeChromemPayload(doc.ID, doc.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *ChromemBackend) Delete(ctx context.Context, name string, ids []string) error {
	col := b.collection(name)
	if col == nil {
		return models.Configurationf("chromem.delete", "collection %s does not exist", name)
	}
	b.docMu.Lock()
	defer b.docMu.Unlock()

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := col.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, existing...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", name, err)
	}
	return nil
}

func (b *ChromemBackend) HealthCheck(context.Context) error { return nil }

func (b *ChromemBackend) Close() error { return nil }

func decodeChromemPayload(id string, meta map[string]string) (models.MemoryPoint, error) {
	p := models.MemoryPoint{ID: id, Payload: models.Payload{}}
	raw, ok := meta[chromemPayloadKey]
	if !ok {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p.Payload); err != nil {
		return p, fmt.Errorf("corrupt payload for %s: %w", id, err)
	}
	return p, nil
}

func (b *ChromemBackend) loadDimensions() error {
	data, err := os.ReadFile(b.path + dimensionsSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read collection dimensions: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := json.Unmarshal(data, &b.dims); err != nil {
		return models.Configuration("chromem.open", fmt.Errorf("failed to parse %s: %w", b.path+dimensionsSuffix, err))
	}
	return nil
}

func (b *ChromemBackend) saveDimensions() error {
	if b.path == "" {
		return nil
	}
	b.mu.RLock()
	data, err := json.Marshal(b.dims)
	b.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.path + dimensionsSuffix, data, 0o644); err != nil {
		return fmt.Errorf("failed to write collection dimensions: %w", err)
	}
	return nil
}
