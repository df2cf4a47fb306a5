package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

const testDim = 384

type memoryFixture struct {
	svc      *MemoryService
	gateway  *Gateway
	provider *fakeProvider
}

func newMemoryFixture(t *testing.T, errs ...error) *memoryFixture {
	t.Helper()
	provider := newFakeProvider(testDim, errs...)
	embedder := NewEmbeddingService(provider, EmbeddingOptions{})
	gateway := newTestGateway(t, testDim)

	svc := NewMemoryService(embedder, gateway, config.MemoryConfig{
		Collection:         "orion_memory",
		FeedbackCollection: "feedback_memory",
		SearchLimit:        5,
		ScoreThreshold:     0.5,
	}, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	require.NoError(t, svc.Init(context.Background()))
	return &memoryFixture{svc: svc, gateway: gateway, provider: provider}
}

func TestMemoryService_InitCreatesCollections(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	for _, name := range []string{"orion_memory", "feedback_memory"} {
		info, err := f.gateway.Info(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, testDim, info.Dimension)
	}
}

func TestMemoryService_InterviewScenario(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	id, err := f.svc.AddMemory(ctx, AddMemoryInput{
		Text:     "Feeling anxious about the interview",
		SourceID: "j1",
		Type:     "journal",
		Tags:     []string{"interview"},
	})
	require.NoError(t, err)
	assert.Equal(t, "j1", id)

	_, err = f.svc.AddMemory(ctx, AddMemoryInput{
		Text: "Bought groceries and cooked dinner",
		Type: "task",
	})
	require.NoError(t, err)

	results, err := f.svc.SearchMemory(ctx, "interview anxiety", SearchRequest{
		Limit:  5,
		Filter: Match(models.PayloadType, "journal"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "j1", results[0].Point.ID)
	assert.Greater(t, results[0].Score, float32(0.5))

	p := results[0].Point.Payload
	assert.Equal(t, "Feeling anxious about the interview", p.Text())
	assert.Equal(t, "j1", p.SourceID())
	assert.Equal(t, "journal", p.Type())
	assert.Equal(t, []string{"interview"}, p.Tags())
	assert.Equal(t, "2026-03-01T09:30:00Z", p[models.PayloadTimestamp])
	assert.Equal(t, "2026-03-01T09:30:00Z", p[models.PayloadIndexedAt])
}

func TestMemoryService_EmptyQueryNeverEmbeds(t *testing.T) {
	f := newMemoryFixture(t)
	before := f.provider.Calls()

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := f.svc.SearchMemory(context.Background(), q, SearchRequest{})
		assert.True(t, models.IsValidation(err), "%q", q)
	}
	assert.Equal(t, before, f.provider.Calls())
}

func TestMemoryService_AddValidation(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddMemory(ctx, AddMemoryInput{Text: " ", Type: "journal"})
	assert.True(t, models.IsValidation(err))

	_, err = f.svc.AddMemory(ctx, AddMemoryInput{Text: "hello"})
	assert.True(t, models.IsValidation(err))
	assert.Zero(t, f.provider.Calls())
}

func TestMemoryService_NoWriteOnEmbeddingFailure(t *testing.T) {
	f := newMemoryFixture(t, models.Transient("fake", errors.New("upstream 503")))
	ctx := context.Background()

	_, err := f.svc.AddMemory(ctx, AddMemoryInput{Text: "lost", SourceID: "x1", Type: "journal"})
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))

	info, err := f.gateway.Info(ctx, "orion_memory")
	require.NoError(t, err)
	assert.Zero(t, info.PointCount)
}

func TestMemoryService_GeneratesIDAndReservedKeysWin(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	id, err := f.svc.AddMemory(ctx, AddMemoryInput{
		Text:  "Quarterly review went well",
		Type:  "reflection",
		Tags:  []string{" Work ", "work", "REVIEW"},
		Extra: map[string]any{"text": "spoofed", "mood": "good"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := f.gateway.Get(ctx, "orion_memory", []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Quarterly review went well", got[0].Payload.Text())
	assert.Equal(t, "good", got[0].Payload["mood"])
	assert.Equal(t, []string{"review", "work"}, got[0].Payload.Tags())
}

func TestMemoryService_RelevanceMonotonicity(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	texts := map[string]string{
		"n1": "Ordered a new keyboard for the office",
		"n2": "Walked the dog along the river",
		"n3": "Booked flights for the summer holiday",
	}
	for id, text := range texts {
		_, err := f.svc.AddMemory(ctx, AddMemoryInput{Text: text, SourceID: id, Type: "journal"})
		require.NoError(t, err)
	}
	target := "Negotiated salary for the product manager offer"
	_, err := f.svc.AddMemory(ctx, AddMemoryInput{Text: target, SourceID: "t1", Type: "journal"})
	require.NoError(t, err)

	results, err := f.svc.SearchMemory(ctx, target, SearchRequest{Limit: 10, ScoreThreshold: ptr32(0)})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "t1", results[0].Point.ID)
	for _, r := range results[1:] {
		assert.GreaterOrEqual(t, results[0].Score, r.Score)
	}
}

func TestMemoryService_ThresholdOverride(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddMemory(ctx, AddMemoryInput{Text: "Practiced system design questions", SourceID: "a", Type: "task"})
	require.NoError(t, err)

	results, err := f.svc.SearchMemory(ctx, "grocery shopping list", SearchRequest{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.svc.SearchMemory(ctx, "grocery shopping list", SearchRequest{ScoreThreshold: ptr32(-1)})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryService_FilterRoundTrip(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	for i, typ := range []string{"journal", "task", "journal", "cv_snippet"} {
		_, err := f.svc.AddMemory(ctx, AddMemoryInput{
			Text:     fmt.Sprintf("career entry number %d about interview preparation", i),
			SourceID: fmt.Sprintf("m%d", i),
			Type:     typ,
			Tags:     []string{"Career", fmt.Sprintf("batch%d", i%2)},
		})
		require.NoError(t, err)
	}

	results, err := f.svc.SearchMemory(ctx, "career interview preparation", SearchRequest{
		Limit:          10,
		Filter:         Match(models.PayloadType, "journal").And(MatchClause{Key: models.PayloadTags, Value: "CAREER"}),
		ScoreThreshold: ptr32(0),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "journal", r.Point.Payload.Type())
		assert.Contains(t, r.Point.Payload.Tags(), "career")
	}
}

func TestMemoryService_ListingIgnoresThreshold(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddMemory(ctx, AddMemoryInput{Text: "zebra", SourceID: "z", Type: "journal", Tags: []string{"animals"}})
	require.NoError(t, err)
	_, err = f.svc.AddMemory(ctx, AddMemoryInput{Text: "quantum physics lecture", SourceID: "q", Type: "journal"})
	require.NoError(t, err)
	_, err = f.svc.AddMemory(ctx, AddMemoryInput{Text: "pay rent", SourceID: "r", Type: "task"})
	require.NoError(t, err)
	before := f.provider.Calls()

	byType, err := f.svc.FindByType(ctx, "journal", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "z"}, ids(byType))

	byTag, err := f.svc.FindByTag(ctx, "Animals", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, ids(byTag))

	// Listing never embeds.
	assert.Equal(t, before, f.provider.Calls())

	_, err = f.svc.FindByType(ctx, "", 10)
	assert.True(t, models.IsValidation(err))
	_, err = f.svc.FindByTag(ctx, " ", 10)
	assert.True(t, models.IsValidation(err))
}

func TestMemoryService_DeleteMemory(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2"} {
		_, err := f.svc.AddMemory(ctx, AddMemoryInput{Text: "to delete " + id, SourceID: id, Type: "task"})
		require.NoError(t, err)
	}

	n, err := f.svc.DeleteMemory(ctx, []string{"d1", "d2", "d2"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCount)

	_, err = f.svc.DeleteMemory(ctx, nil, "")
	assert.True(t, models.IsValidation(err))
}

func TestMemoryService_IndexText(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	chunkIDs, err := f.svc.IndexText(ctx, AddMemoryInput{
		Text:     "Led the migration to Kubernetes.\n\nMentored three junior engineers.",
		SourceID: "cv",
		Tags:     []string{"cv"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cv_chunk_0", "cv_chunk_1"}, chunkIDs)
	assert.Equal(t, 1, f.provider.Calls())

	got, err := f.gateway.Get(ctx, "orion_memory", []string{"cv_chunk_1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Mentored three junior engineers.", got[0].Payload.Text())
	assert.Equal(t, models.MemoryTypeDocument, got[0].Payload.Type())
	assert.Equal(t, "cv", got[0].Payload["parentSourceId"])
	assert.EqualValues(t, 1, got[0].Payload["chunkIndex"])
}

func TestMemoryService_AddFeedback(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	id, err := f.svc.AddFeedback(ctx, FeedbackInput{Text: "Answer was too long", Rating: 2, ModelUsed: "groq/llama3-70b-8192"})
	require.NoError(t, err)

	got, err := f.gateway.Get(ctx, "feedback_memory", []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.MemoryTypeFeedback, got[0].Payload.Type())
	assert.Equal(t, "groq/llama3-70b-8192", got[0].Payload["modelUsed"])
}

func TestBuildContextLine(t *testing.T) {
	line := BuildContextLine(models.SearchResult{Point: models.MemoryPoint{
		Payload: models.Payload{"type": "journal", "text": "one", "timestamp": "2026-01-02T10:00:00Z"},
	}})
	assert.Equal(t, "[journal] one (2026-01-02)", line)

	assert.Equal(t, "two", BuildContextLine(models.SearchResult{Point: models.MemoryPoint{Payload: models.Payload{"text": "two"}}}))
}
