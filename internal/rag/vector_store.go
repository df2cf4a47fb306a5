package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"Orion-Core/server/internal/models"
)

// Backend is a vector database. Backends do no input validation of their
// own; the Gateway owns the contract.
type Backend interface {
	Name() string
	// Describe returns exists=false and no error for a missing collection.
	Describe(ctx context.Context, collection string) (info *models.CollectionInfo, exists bool, err error)
	Create(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, points []models.MemoryPoint) error
	// Query returns results ordered by descending score.
	Query(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]models.SearchResult, error)
	Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]models.MemoryPoint, error)
	Get(ctx context.Context, collection string, ids []string) ([]models.MemoryPoint, error)
	Delete(ctx context.Context, collection string, ids []string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// SearchOptions for Gateway.Search
type SearchOptions struct {
	Limit int
	// Filter restricts candidates; nil matches every point.
	Filter *Filter
	// ScoreThreshold drops results below it; nil disables the threshold.
	ScoreThreshold *float32
}

// Gateway validates and routes vector operations to a Backend.
type Gateway struct {
	backend          Backend
	defaultDimension int
	verifyWrites     bool
	dims             sync.Map // collection name -> int
	logger           *zap.Logger
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithVerifyWrites re-reads upserted ids to detect partial batch writes.
func WithVerifyWrites(v bool) GatewayOption {
	return func(g *Gateway) { g.verifyWrites = v }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway. defaultDimension is used when a collection
// is created lazily by Upsert.
func NewGateway(backend Backend, defaultDimension int, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend:          backend,
		defaultDimension: defaultDimension,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureCollection creates the collection if absent. An existing collection
// with another dimension is a configuration error.
func (g *Gateway) EnsureCollection(ctx context.Context, name string, dimension int) (err error) {
	defer g.observe("ensure_collection", time.Now(), &err)

	if name == "" {
		return models.Validation("gateway.ensure_collection", "collection name is required")
	}
	if dimension <= 0 {
		return models.Validation("gateway.ensure_collection", "dimension must be positive, got %d", dimension)
	}

	info, exists, err := g.backend.Describe(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if info.Dimension != dimension {
			return models.Configurationf("gateway.ensure_collection",
				"collection %s has dimension %d, requested %d", name, info.Dimension, dimension)
		}
		g.dims.Store(name, dimension)
		return nil
	}

	if err := g.backend.Create(ctx, name, dimension); err != nil {
		return err
	}
	g.dims.Store(name, dimension)
	g.logger.Info("created collection",
		zap.String("collection", name),
		zap.Int("dimension", dimension),
		zap.String("backend", g.backend.Name()),
	)
	return nil
}

// dimension returns the collection's vector size. When create is set, a
// missing collection is created with the default dimension.
func (g *Gateway) dimension(ctx context.Context, name string, create bool) (int, error) {
	if v, ok := g.dims.Load(name); ok {
		return v.(int), nil
	}

	info, exists, err := g.backend.Describe(ctx, name)
	if err != nil {
		return 0, err
	}
	if exists {
		g.dims.Store(name, info.Dimension)
		return info.Dimension, nil
	}
	if !create {
		return 0, models.Configurationf("gateway", "collection %s does not exist", name)
	}
	if err := g.EnsureCollection(ctx, name, g.defaultDimension); err != nil {
		return 0, err
	}
	return g.defaultDimension, nil
}

// Upsert validates every point, then writes the batch. A point with an
// existing id replaces it.
func (g *Gateway) Upsert(ctx context.Context, collection string, points []models.MemoryPoint) (err error) {
	defer g.observe("upsert", time.Now(), &err)

	if collection == "" {
		return models.Validation("gateway.upsert", "collection name is required")
	}
	if len(points) == 0 {
		return nil
	}

	// Validate what does not need the collection before creating it lazily.
	for i, p := range points {
		if p.ID == "" {
			return models.Validation("gateway.upsert", "point %d has an empty id", i)
		}
		if len(p.Vector) == 0 {
			return models.Validation("gateway.upsert", "point %s has no vector", p.ID)
		}
		if !IsValidVector(p.Vector) {
			return models.Validation("gateway.upsert", "point %s has non-finite vector values", p.ID)
		}
	}

	dim, err := g.dimension(ctx, collection, true)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != dim {
			return models.Configurationf("gateway.upsert",
				"point %s has dimension %d, collection %s expects %d", p.ID, len(p.Vector), collection, dim)
		}
	}

	if err := g.backend.Upsert(ctx, collection, points); err != nil {
		return err
	}

	if g.verifyWrites {
		return g.verify(ctx, collection, points)
	}
	return nil
}

func (g *Gateway) verify(ctx context.Context, collection string, points []models.MemoryPoint) error {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	stored, err := g.backend.Get(ctx, collection, uniqueIDs(ids))
	if err != nil {
		return err
	}
	if want := len(uniqueIDs(ids)); len(stored) != want {
		g.logger.Error("partial batch write detected",
			zap.String("collection", collection),
			zap.Int("expected", want),
			zap.Int("visible", len(stored)),
		)
		return models.Transient("gateway.upsert",
			fmt.Errorf("partial write: %d of %d points visible", len(stored), want))
	}
	return nil
}

// Search returns at most opts.Limit results with score >= ScoreThreshold,
// ordered by descending score. Equal scores are ordered by ascending id.
func (g *Gateway) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) (results []models.SearchResult, err error) {
	defer g.observe("search", time.Now(), &err)

	if opts.Limit <= 0 {
		return nil, models.Validation("gateway.search", "limit must be positive, got %d", opts.Limit)
	}
	dim, err := g.dimension(ctx, collection, false)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, models.Configurationf("gateway.search",
			"query vector has dimension %d, collection %s expects %d", len(vector), collection, dim)
	}

	results, err = g.backend.Query(ctx, collection, vector, opts)
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if opts.ScoreThreshold != nil && r.Score < *opts.ScoreThreshold {
			continue
		}
		filtered = append(filtered, r)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Point.ID < filtered[j].Point.ID
	})
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// Scroll lists up to limit points matching filter without similarity
// ranking. Which points fill the limit is up to the backend; the returned
// page is ordered by ascending id and carries a zero score.
func (g *Gateway) Scroll(ctx context.Context, collection string, filter *Filter, limit int) (results []models.SearchResult, err error) {
	defer g.observe("scroll", time.Now(), &err)

	if limit <= 0 {
		return nil, models.Validation("gateway.scroll", "limit must be positive, got %d", limit)
	}
	if _, err := g.dimension(ctx, collection, false); err != nil {
		return nil, err
	}

	points, err := g.backend.Scroll(ctx, collection, filter, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	if len(points) > limit {
		points = points[:limit]
	}

	results = make([]models.SearchResult, len(points))
	for i, p := range points {
		results[i] = models.SearchResult{Point: p}
	}
	return results, nil
}

// Get fetches points by id; missing ids are skipped.
func (g *Gateway) Get(ctx context.Context, collection string, ids []string) (points []models.MemoryPoint, err error) {
	defer g.observe("get", time.Now(), &err)

	if _, err := g.dimension(ctx, collection, false); err != nil {
		return nil, err
	}
	return g.backend.Get(ctx, collection, uniqueIDs(ids))
}

// Delete removes the listed ids. Missing ids are not an error. The returned
// count is the number of distinct ids requested.
func (g *Gateway) Delete(ctx context.Context, collection string, ids []string) (n int, err error) {
	defer g.observe("delete", time.Now(), &err)

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	for i, id := range ids {
		if id == "" {
			return 0, models.Validation("gateway.delete", "id %d is empty", i)
		}
	}
	if _, err := g.dimension(ctx, collection, false); err != nil {
		return 0, err
	}
	if err := g.backend.Delete(ctx, collection, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Info describes a collection.
func (g *Gateway) Info(ctx context.Context, collection string) (*models.CollectionInfo, error) {
	info, exists, err := g.backend.Describe(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.Configurationf("gateway.info", "collection %s does not exist", collection)
	}
	return info, nil
}

// HealthCheck pings the backend.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.backend.HealthCheck(ctx)
}

// Close releases the backend.
func (g *Gateway) Close() error {
	return g.backend.Close()
}

func (g *Gateway) observe(op string, start time.Time, errp *error) {
	result := "success"
	if *errp != nil {
		result = "error"
	}
	vectorStoreOps.WithLabelValues(g.backend.Name(), op, result).Inc()
	vectorStoreDuration.WithLabelValues(g.backend.Name(), op).Observe(time.Since(start).Seconds())
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
