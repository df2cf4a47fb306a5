package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

type invokeFunc func(ctx context.Context, req *ChatRequest) (*Completion, error)

// fakeAdapter answers per model with scripted behaviour.
type fakeAdapter struct {
	provider string

	mu       sync.Mutex
	handlers map[string]invokeFunc
	calls    map[string]int
	requests []*ChatRequest
}

func newFakeAdapter(provider string) *fakeAdapter {
	return &fakeAdapter{
		provider: provider,
		handlers: map[string]invokeFunc{},
		calls:    map[string]int{},
	}
}

func (a *fakeAdapter) on(modelID string, fn invokeFunc) *fakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[modelID] = fn
	return a
}

func (a *fakeAdapter) Provider() string { return a.provider }

func (a *fakeAdapter) Invoke(ctx context.Context, model ModelSpec, req *ChatRequest) (*Completion, error) {
	a.mu.Lock()
	a.calls[model.ModelID]++
	a.requests = append(a.requests, req)
	fn := a.handlers[model.ModelID]
	a.mu.Unlock()

	if fn == nil {
		return &Completion{Content: "ok from " + model.ID}, nil
	}
	return fn(ctx, req)
}

func (a *fakeAdapter) Calls(modelID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[modelID]
}

func (a *fakeAdapter) LastRequest() *ChatRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return nil
	}
	return a.requests[len(a.requests)-1]
}

func reply(content string) invokeFunc {
	return func(context.Context, *ChatRequest) (*Completion, error) {
		return &Completion{Content: content}, nil
	}
}

func fail(err error) invokeFunc {
	return func(context.Context, *ChatRequest) (*Completion, error) {
		return nil, err
	}
}

func hang() invokeFunc {
	return func(ctx context.Context, _ *ChatRequest) (*Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func allCredentials(string) (string, bool) { return "test-key", true }

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		DefaultModel: "fake/primary",
		Models: []config.ModelConfig{
			{Provider: "fake", ModelID: "primary", CredentialRef: "FAKE_KEY"},
			{Provider: "fake", ModelID: "secondary", CredentialRef: "FAKE_KEY"},
			{Provider: "fake", ModelID: "tertiary", CredentialRef: "FAKE_KEY", MaxOutputTokens: 64},
		},
		Fallbacks: map[string][]string{
			"default": {"fake/secondary", "fake/tertiary"},
		},
	}
}

func newTestRegistry(t *testing.T, cfg config.LLMConfig, adapter *fakeAdapter) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), cfg,
		WithCredentialLookup(allCredentials),
		WithAdapterFactory(func(_ context.Context, pc config.ProviderConfig, _ []ModelSpec, _ *zap.Logger) (ProviderAdapter, error) {
			require.Equal(t, adapter.provider, pc.Name)
			return adapter, nil
		}),
	)
	require.NoError(t, err)
	return r
}

func candidateIDs(specs []ModelSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.ID
	}
	return out
}

func TestNewRegistry_MissingCredentialsFailFast(t *testing.T) {
	cfg := testLLMConfig()
	cfg.Models[1].CredentialRef = "SECONDARY_KEY"
	cfg.Models[2].CredentialRef = "TERTIARY_KEY"

	lookup := func(name string) (string, bool) {
		if name == "FAKE_KEY" {
			return "k", true
		}
		return "", false
	}
	factoryCalled := false
	_, err := NewRegistry(context.Background(), cfg,
		WithCredentialLookup(lookup),
		WithAdapterFactory(func(context.Context, config.ProviderConfig, []ModelSpec, *zap.Logger) (ProviderAdapter, error) {
			factoryCalled = true
			return newFakeAdapter("fake"), nil
		}),
	)
	require.Error(t, err)
	assert.True(t, models.IsConfiguration(err))
	assert.Contains(t, err.Error(), "SECONDARY_KEY")
	assert.Contains(t, err.Error(), "TERTIARY_KEY")
	assert.False(t, factoryCalled)
}

func TestNewRegistry_DefaultCredentialRef(t *testing.T) {
	var asked []string
	lookup := func(name string) (string, bool) {
		asked = append(asked, name)
		return "", false
	}
	_, err := NewRegistry(context.Background(), config.LLMConfig{
		Models: []config.ModelConfig{{Provider: "groq", ModelID: "llama3-70b-8192"}},
	}, WithCredentialLookup(lookup))
	require.Error(t, err)
	assert.Equal(t, []string{"GROQ_API_KEY"}, asked)
	assert.Contains(t, err.Error(), "GROQ_API_KEY is not set")
}

func TestNewRegistry_InvalidReferences(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.LLMConfig)
		wantErr string
	}{
		{"unknown fallback", func(c *config.LLMConfig) { c.Fallbacks["default"] = []string{"fake/ghost"} }, `unknown model "fake/ghost"`},
		{"unknown primary key", func(c *config.LLMConfig) { c.Fallbacks["fake/nope"] = nil }, `unknown model "fake/nope"`},
		{"unknown default", func(c *config.LLMConfig) { c.DefaultModel = "other/x" }, "default_model"},
		{"no models", func(c *config.LLMConfig) { c.Models = nil }, "no models configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testLLMConfig()
			tt.mutate(&cfg)
			_, err := NewRegistry(context.Background(), cfg,
				WithCredentialLookup(allCredentials),
				WithAdapterFactory(func(context.Context, config.ProviderConfig, []ModelSpec, *zap.Logger) (ProviderAdapter, error) {
					return newFakeAdapter("fake"), nil
				}))
			require.Error(t, err)
			assert.True(t, models.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRegistry_UnsupportedProvider(t *testing.T) {
	_, err := NewRegistry(context.Background(), config.LLMConfig{
		Models: []config.ModelConfig{{Provider: "acme", ModelID: "m1", CredentialRef: "K"}},
	}, WithCredentialLookup(allCredentials))
	require.Error(t, err)
	assert.True(t, models.IsConfiguration(err))
	assert.Contains(t, err.Error(), `unsupported provider "acme"`)
}

func TestRegistry_Candidates(t *testing.T) {
	cfg := testLLMConfig()
	cfg.Fallbacks["fake/secondary"] = []string{"tertiary", "fake/secondary", "primary"}
	r := newTestRegistry(t, cfg, newFakeAdapter("fake"))

	c, err := r.Candidates("")
	require.NoError(t, err)
	assert.Equal(t, []string{"fake/primary", "fake/secondary", "fake/tertiary"}, candidateIDs(c))

	// Own chain, bare aliases resolved, primary not repeated.
	c, err = r.Candidates("secondary")
	require.NoError(t, err)
	assert.Equal(t, []string{"fake/secondary", "fake/tertiary", "fake/primary"}, candidateIDs(c))

	// Default chain without duplicating the primary.
	c, err = r.Candidates("fake/tertiary")
	require.NoError(t, err)
	assert.Equal(t, []string{"fake/tertiary", "fake/secondary"}, candidateIDs(c))

	_, err = r.Candidates("fake/unknown")
	assert.True(t, models.IsValidation(err))
}

func TestRegistry_Lookup(t *testing.T) {
	r := newTestRegistry(t, testLLMConfig(), newFakeAdapter("fake"))

	m, ok := r.Model("tertiary")
	require.True(t, ok)
	assert.Equal(t, "fake/tertiary", m.ID)
	assert.Equal(t, 64, m.MaxOutputTokens)
	assert.Equal(t, "test-key", m.APIKey)

	assert.Len(t, r.Models(), 3)
	assert.Equal(t, "fake/primary", r.DefaultModel())
	assert.True(t, r.Has("fake/secondary"))
	assert.False(t, r.Has("secondary/fake"))

	a, ok := r.Adapter("fake")
	require.True(t, ok)
	assert.Equal(t, "fake", a.Provider())
	assert.Nil(t, r.Limiter("fake"))
}

func TestRegistry_Limiter(t *testing.T) {
	cfg := testLLMConfig()
	cfg.Providers = []config.ProviderConfig{{Name: "fake", RateLimitRPM: 60}}
	r := newTestRegistry(t, cfg, newFakeAdapter("fake"))

	limiter := r.Limiter("fake")
	require.NotNil(t, limiter)
	assert.InDelta(t, 1.0, float64(limiter.Limit()), 1e-9)
	assert.Equal(t, 1, limiter.Burst())
	assert.True(t, limiter.AllowN(time.Now(), 1))
}
