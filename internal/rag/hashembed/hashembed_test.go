package hashembed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"feel", "anxi", "inte"}, Tokens("Feeling anxious about the interview!"))
	assert.Equal(t, []string{"inte", "anxi"}, Tokens("interview anxiety"))
	assert.Empty(t, Tokens("the of and"))
}

func TestVector_UnitLength(t *testing.T) {
	p := New(64)
	for _, text := range []string{"interview anxiety", "the", "a long journal entry about work"} {
		v := p.Vector(text)
		require.Len(t, v, 64)
		assert.InDelta(t, 1.0, math.Sqrt(cosine(v, v)), 1e-5, text)
	}
}

func TestVector_SharedStemsAreSimilar(t *testing.T) {
	p := New(384)
	doc := p.Vector("Feeling anxious about the interview")
	query := p.Vector("interview anxiety")
	unrelated := p.Vector("grocery list: apples, bread, cheese")

	assert.Greater(t, cosine(doc, query), 0.5)
	assert.Greater(t, cosine(doc, query), cosine(unrelated, query))
}

func TestEmbedBatch(t *testing.T) {
	p := New(32)
	vecs, err := p.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 1, p.Calls())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.EmbedBatch(ctx, []string{"three"})
	assert.ErrorIs(t, err, context.Canceled)
}
