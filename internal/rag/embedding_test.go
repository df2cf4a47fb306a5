package rag

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Orion-Core/server/internal/models"
	"Orion-Core/server/internal/rag/hashembed"
)

// fakeProvider returns hash embeddings, failing with the queued errors first.
type fakeProvider struct {
	mu      sync.Mutex
	inner   *hashembed.Provider
	errs    []error
	calls   int
	texts   [][]string
	badDims bool
}

func newFakeProvider(dim int, errs ...error) *fakeProvider {
	return &fakeProvider{inner: hashembed.New(dim), errs: errs}
}

func (p *fakeProvider) Name() string   { return "fake" }
func (p *fakeProvider) Dimension() int { return p.inner.Dimension() }

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.texts = append(p.texts, append([]string(nil), texts...))
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	bad := p.badDims
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if bad {
		return [][]float32{{1, 2}}, nil
	}
	return p.inner.EmbedBatch(ctx, texts)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestEmbeddingService_Validation(t *testing.T) {
	p := newFakeProvider(16)
	s := NewEmbeddingService(p, EmbeddingOptions{})

	_, err := s.Embed(context.Background(), nil)
	assert.True(t, models.IsValidation(err))

	_, err = s.Embed(context.Background(), []string{"ok", "   "})
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "index 1")
	assert.Equal(t, 0, p.Calls())
}

func TestEmbeddingService_OrderAndCache(t *testing.T) {
	p := newFakeProvider(16)
	s := NewEmbeddingService(p, EmbeddingOptions{})
	ctx := context.Background()

	first, err := s.Embed(ctx, []string{"alpha beta", "gamma delta"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, p.inner.Vector("alpha beta"), first[0])
	assert.Equal(t, p.inner.Vector("gamma delta"), first[1])

	// Whitespace variants hit the cache; only the new text is embedded.
	second, err := s.Embed(ctx, []string{"  alpha   beta ", "epsilon"})
	require.NoError(t, err)
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, []string{"epsilon"}, p.texts[1])
	assert.Equal(t, 3, s.GetStats().CacheSize)

	s.ClearCache()
	assert.Equal(t, 0, s.GetStats().CacheSize)
}

func TestEmbeddingService_Batching(t *testing.T) {
	p := newFakeProvider(8)
	s := NewEmbeddingService(p, EmbeddingOptions{BatchSize: 2})

	vecs, err := s.Embed(context.Background(), []string{"a1", "b2", "c3", "d4", "e5"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, 3, p.Calls())
}

func TestEmbeddingService_RetriesTransient(t *testing.T) {
	p := newFakeProvider(8, models.Transient("fake", errors.New("503")))
	s := NewEmbeddingService(p, EmbeddingOptions{MaxRetries: 2, RetryDelay: time.Millisecond})

	_, err := s.Embed(context.Background(), []string{"retry me"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Calls())
}

func TestEmbeddingService_NoRetryOnPermanent(t *testing.T) {
	p := newFakeProvider(8, errors.New("bad request"))
	s := NewEmbeddingService(p, EmbeddingOptions{MaxRetries: 3, RetryDelay: time.Millisecond})

	_, err := s.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 1, p.Calls())
}

func TestEmbeddingService_WholeBatchFails(t *testing.T) {
	p := newFakeProvider(8, models.Transient("fake", errors.New("timeout")))
	s := NewEmbeddingService(p, EmbeddingOptions{})

	vecs, err := s.Embed(context.Background(), []string{"one", "two"})
	assert.Nil(t, vecs)
	assert.True(t, models.IsTransient(err))
	assert.Equal(t, 0, s.GetStats().CacheSize)
}

func TestEmbeddingService_DimensionMismatch(t *testing.T) {
	p := newFakeProvider(8)
	p.badDims = true
	s := NewEmbeddingService(p, EmbeddingOptions{})

	_, err := s.Embed(context.Background(), []string{"x"})
	assert.True(t, models.IsConfiguration(err))
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func (c *mapCache) GetVector(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) SetVector(_ context.Context, key string, v []float32, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
	return nil
}

func TestEmbeddingService_RemoteCache(t *testing.T) {
	remote := &mapCache{data: map[string][]float32{}}
	p := newFakeProvider(8)
	ctx := context.Background()

	_, err := NewEmbeddingService(p, EmbeddingOptions{Remote: remote}).Embed(ctx, []string{"shared"})
	require.NoError(t, err)
	assert.Len(t, remote.data, 1)

	// A second process-local service reads through the shared tier.
	_, err = NewEmbeddingService(p, EmbeddingOptions{Remote: remote}).Embed(ctx, []string{"shared"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Calls())
}

func TestEmbeddingCache_Eviction(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewEmbeddingCache(time.Minute, 2)
	c.now = func() time.Time { return now }

	c.Put("a", []float32{1})
	now = now.Add(time.Second)
	c.Put("b", []float32{2})
	now = now.Add(time.Second)
	c.Put("c", []float32{3})

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("c")
	assert.False(t, ok)
}

func TestVectorHelpers(t *testing.T) {
	n := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)

	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))

	assert.True(t, IsValidVector([]float32{0.1, -0.2}))
	assert.False(t, IsValidVector([]float32{float32(math.NaN())}))
	assert.False(t, IsValidVector([]float32{float32(math.Inf(1))}))
}

func TestTEIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float32, len(req.Inputs))
		for i := range out {
			out[i] = []float32{float32(i), 1, 0}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(srv.URL+"/", "bge", 3, time.Second)
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 1, 0}}, vecs)
	assert.Equal(t, "tei:bge", p.Name())
}

func TestTEIProvider_Errors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", status)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(srv.URL, "bge", 3, time.Second)
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"a"})
	assert.True(t, models.IsTransient(err))

	status = http.StatusUnprocessableEntity
	_, err = p.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.False(t, models.IsTransient(err))

	_, err = NewTEIProvider("", "bge", 3, 0)
	assert.True(t, models.IsConfiguration(err))
}

func TestOpenAIEmbeddingProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 2, req.Dimensions)

		// Out of order on purpose.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIEmbeddingProvider(OpenAIEmbeddingConfig{
		APIKey:    "sk-test",
		BaseURL:   srv.URL + "/v1",
		Dimension: 2,
	})
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIEmbeddingProvider_ErrorClassification(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIEmbeddingProvider(OpenAIEmbeddingConfig{APIKey: "k", BaseURL: srv.URL, Dimension: 2})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"x"})
	assert.True(t, models.IsTransient(err))

	status = http.StatusBadRequest
	_, err = p.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.False(t, models.IsTransient(err))

	_, err = NewOpenAIEmbeddingProvider(OpenAIEmbeddingConfig{Dimension: 2})
	assert.True(t, models.IsConfiguration(err))
}
