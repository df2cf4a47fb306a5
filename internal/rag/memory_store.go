package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

const (
	defaultSearchLimit = 5
	maxListLimit       = 1000
)

// AddMemoryInput describes one memory to persist.
type AddMemoryInput struct {
	Text string `json:"text"`
	// SourceID becomes the point id; a UUID is generated when empty.
	SourceID   string         `json:"sourceId"`
	Type       string         `json:"type"`
	Tags       []string       `json:"tags"`
	Extra      map[string]any `json:"additional_fields"`
	Collection string         `json:"collectionName"`
}

// SearchRequest tunes SearchMemory.
type SearchRequest struct {
	Limit      int
	Filter     *Filter
	Collection string
	// ScoreThreshold overrides the configured default when set.
	ScoreThreshold *float32
}

// FeedbackInput is a user rating of a generated answer.
type FeedbackInput struct {
	Text        string   `json:"text"`
	Rating      int      `json:"rating"`
	RequestType string   `json:"request_type"`
	ModelUsed   string   `json:"model_used"`
	Tags        []string `json:"tags"`
}

// MemoryStats summarizes a collection.
type MemoryStats struct {
	Collection string `json:"collection"`
	TotalCount uint64 `json:"total_count"`
	Dimension  int    `json:"dimension"`
}

// MemoryService embeds text and persists it with a fixed payload schema.
// It is the only writer of memory points.
type MemoryService struct {
	embedder           Embedder
	gateway            *Gateway
	collection         string
	feedbackCollection string
	defaultLimit       int
	scoreThreshold     float32
	logger             *zap.Logger
	now                func() time.Time
}

// NewMemoryService wires the service to its embedder and gateway.
func NewMemoryService(embedder Embedder, gateway *Gateway, cfg config.MemoryConfig, logger *zap.Logger) *MemoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &MemoryService{
		embedder:           embedder,
		gateway:            gateway,
		collection:         cfg.Collection,
		feedbackCollection: cfg.FeedbackCollection,
		defaultLimit:       limit,
		scoreThreshold:     cfg.ScoreThreshold,
		logger:             logger,
		now:                time.Now,
	}
}

// Init creates the memory and feedback collections when missing.
func (s *MemoryService) Init(ctx context.Context) error {
	dim := s.embedder.Dimension()
	for _, name := range []string{s.collection, s.feedbackCollection} {
		if name == "" {
			continue
		}
		if err := s.gateway.EnsureCollection(ctx, name, dim); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
	}
	s.logger.Info("memory collections ready",
		zap.String("collection", s.collection),
		zap.String("feedback_collection", s.feedbackCollection),
		zap.Int("dimension", dim),
		zap.String("embedding_model", s.embedder.Model()),
	)
	return nil
}

// AddMemory embeds the text and upserts it. Nothing is written when
// embedding fails.
func (s *MemoryService) AddMemory(ctx context.Context, in AddMemoryInput) (string, error) {
	if strings.TrimSpace(in.Text) == "" {
		return "", models.Validation("memory.add", "text is required")
	}
	if strings.TrimSpace(in.Type) == "" {
		return "", models.Validation("memory.add", "type is required")
	}

	id := in.SourceID
	if id == "" {
		id = NewMemoryID()
	}

	vectors, err := s.embedder.Embed(ctx, []string{in.Text})
	if err != nil {
		return "", fmt.Errorf("failed to embed memory %s: %w", id, err)
	}

	point := models.MemoryPoint{
		ID:      id,
		Vector:  vectors[0],
		Payload: s.buildPayload(in.Text, id, in.Type, in.Tags, in.Extra),
	}
	if err := s.gateway.Upsert(ctx, s.collectionOr(in.Collection), []models.MemoryPoint{point}); err != nil {
		return "", fmt.Errorf("failed to store memory %s: %w", id, err)
	}

	s.logger.Debug("memory stored",
		zap.String("id", id),
		zap.String("type", in.Type),
		zap.Int("tags", len(in.Tags)),
	)
	return id, nil
}

// IndexText splits a document into paragraphs and stores each as its own
// point, linked to the parent by parentSourceId.
func (s *MemoryService) IndexText(ctx context.Context, in AddMemoryInput) ([]string, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, models.Validation("memory.index_text", "text is required")
	}
	if in.Type == "" {
		in.Type = models.MemoryTypeDocument
	}
	parent := in.SourceID
	if parent == "" {
		parent = NewMemoryID()
	}

	chunks := ChunkText(in.Text)
	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d chunks of %s: %w", len(chunks), parent, err)
	}

	points := make([]models.MemoryPoint, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		extra := make(map[string]any, len(in.Extra)+2)
		for k, v := range in.Extra {
			extra[k] = v
		}
		extra["chunkIndex"] = i
		extra["parentSourceId"] = parent

		ids[i] = ChunkID(parent, i)
		points[i] = models.MemoryPoint{
			ID:      ids[i],
			Vector:  vectors[i],
			Payload: s.buildPayload(chunk, ids[i], in.Type, in.Tags, extra),
		}
	}

	if err := s.gateway.Upsert(ctx, s.collectionOr(in.Collection), points); err != nil {
		return nil, fmt.Errorf("failed to store chunks of %s: %w", parent, err)
	}
	s.logger.Info("text indexed", zap.String("source_id", parent), zap.Int("chunks", len(chunks)))
	return ids, nil
}

// AddFeedback records a rating in the feedback collection.
func (s *MemoryService) AddFeedback(ctx context.Context, in FeedbackInput) (string, error) {
	if s.feedbackCollection == "" {
		return "", models.Configurationf("memory.feedback", "feedback collection is not configured")
	}
	extra := map[string]any{"rating": in.Rating}
	if in.RequestType != "" {
		extra["requestType"] = in.RequestType
	}
	if in.ModelUsed != "" {
		extra["modelUsed"] = in.ModelUsed
	}
	return s.AddMemory(ctx, AddMemoryInput{
		Text:       in.Text,
		Type:       models.MemoryTypeFeedback,
		Tags:       in.Tags,
		Extra:      extra,
		Collection: s.feedbackCollection,
	})
}

// SearchMemory ranks stored memories by similarity to query. Results below
// the score threshold are dropped.
func (s *MemoryService) SearchMemory(ctx context.Context, query string, req SearchRequest) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.Validation("memory.search", "query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	threshold := s.scoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return s.gateway.Search(ctx, s.collectionOr(req.Collection), vectors[0], SearchOptions{
		Limit:          limit,
		Filter:         normalizeTagFilter(req.Filter),
		ScoreThreshold: &threshold,
	})
}

// FindByType lists memories of one type. Listing is not ranked and ignores
// the score threshold.
func (s *MemoryService) FindByType(ctx context.Context, memoryType string, limit int) ([]models.SearchResult, error) {
	if memoryType == "" {
		return nil, models.Validation("memory.find_by_type", "type is required")
	}
	return s.List(ctx, Match(models.PayloadType, memoryType), limit, "")
}

// FindByTag lists memories carrying tag.
func (s *MemoryService) FindByTag(ctx context.Context, tag string, limit int) ([]models.SearchResult, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil, models.Validation("memory.find_by_tag", "tag is required")
	}
	return s.List(ctx, Match(models.PayloadTags, tag), limit, "")
}

// List returns memories matching filter ordered by id.
func (s *MemoryService) List(ctx context.Context, filter *Filter, limit int, collection string) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.gateway.Scroll(ctx, s.collectionOr(collection), normalizeTagFilter(filter), limit)
}

// DeleteMemory removes the listed ids and returns how many distinct ids were
// requested. Unknown ids are not an error.
func (s *MemoryService) DeleteMemory(ctx context.Context, ids []string, collection string) (int, error) {
	if len(ids) == 0 {
		return 0, models.Validation("memory.delete", "at least one id is required")
	}
	n, err := s.gateway.Delete(ctx, s.collectionOr(collection), ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}
	s.logger.Info("memories deleted", zap.Int("count", n))
	return n, nil
}

// Stats describes the default memory collection.
func (s *MemoryService) Stats(ctx context.Context) (*MemoryStats, error) {
	info, err := s.gateway.Info(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	return &MemoryStats{
		Collection: info.Name,
		TotalCount: info.PointCount,
		Dimension:  info.Dimension,
	}, nil
}

// Embed returns raw embeddings for texts without storing anything.
func (s *MemoryService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embedder.Embed(ctx, texts)
}

// EmbeddingModel names the model behind Embed.
func (s *MemoryService) EmbeddingModel() string { return s.embedder.Model() }

// HealthCheck pings the vector store.
func (s *MemoryService) HealthCheck(ctx context.Context) error {
	return s.gateway.HealthCheck(ctx)
}

// RelevantTexts returns the text of memories relevant to query, for use as
// prompt context.
func (s *MemoryService) RelevantTexts(ctx context.Context, query string, limit int) ([]string, error) {
	results, err := s.SearchMemory(ctx, query, SearchRequest{Limit: limit})
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, BuildContextLine(r))
	}
	return texts, nil
}

func (s *MemoryService) collectionOr(name string) string {
	if name != "" {
		return name
	}
	return s.collection
}

// buildPayload merges extra fields under the reserved schema. Reserved keys
// always win.
func (s *MemoryService) buildPayload(text, sourceID, memoryType string, tags []string, extra map[string]any) models.Payload {
	p := make(models.Payload, len(extra)+6)
	for k, v := range extra {
		if models.IsReservedKey(k) {
			continue
		}
		p[k] = v
	}

	now := s.now().UTC().Format(time.RFC3339)

	p[models.PayloadText] = text
	p[models.PayloadSourceID] = sourceID
	p[models.PayloadType] = memoryType
	p[models.PayloadTags] = models.NormalizeTags(tags)
	p[models.PayloadTimestamp] = now
	p[models.PayloadIndexedAt] = now
	return p
}

// normalizeTagFilter lower-cases tag values so filters agree with the
// normalized tags written by buildPayload.
func normalizeTagFilter(f *Filter) *Filter {
	if f.IsEmpty() {
		return f
	}
	return &Filter{
		Must:    lowerTagConditions(f.Must),
		Should:  lowerTagConditions(f.Should),
		MustNot: lowerTagConditions(f.MustNot),
	}
}

func lowerTagConditions(conds []Condition) []Condition {
	if conds == nil {
		return nil
	}
	out := make([]Condition, len(conds))
	for i, c := range conds {
		switch cond := c.(type) {
		case MatchClause:
			if s, ok := cond.Value.(string); ok && cond.Key == models.PayloadTags {
				cond.Value = strings.ToLower(strings.TrimSpace(s))
			}
			out[i] = cond
		case MatchAnyClause:
			if cond.Key == models.PayloadTags {
				values := make([]string, len(cond.Values))
				for j, v := range cond.Values {
					values[j] = strings.ToLower(strings.TrimSpace(v))
				}
				cond.Values = values
			}
			out[i] = cond
		default:
			out[i] = c
		}
	}
	return out
}

// NewMemoryID generates a memory id.
func NewMemoryID() string {
	return uuid.NewString()
}

// BuildContextLine renders one result as a prompt context line.
func BuildContextLine(r models.SearchResult) string {
	p := r.Point.Payload
	var b strings.Builder
	if t := p.Type(); t != "" {
		fmt.Fprintf(&b, "[%s] ", t)
	}
	b.WriteString(p.Text())
	if ts := p.Timestamp(); !ts.IsZero() {
		fmt.Fprintf(&b, " (%s)", ts.Format("2006-01-02"))
	}
	return b.String()
}
