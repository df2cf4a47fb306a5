package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

type capturedChat struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

const chatCompletionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "deepseek/deepseek-chat",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
}`

func TestOpenAIAdapter_OpenRouter(t *testing.T) {
	var got capturedChat
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionBody))
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	spec := ModelSpec{
		ID:              "openrouter/deepseek/deepseek-chat",
		Provider:        ProviderOpenRouter,
		ModelID:         "deepseek/deepseek-chat",
		APIKey:          "or-key",
		BaseURL:         srv.URL,
		MaxOutputTokens: 100,
	}
	a, err := NewOpenAIAdapter(config.ProviderConfig{
		Name:    "openrouter",
		Referer: "http://localhost:3000",
		Title:   "Orion",
	}, []ModelSpec{spec}, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenRouter, a.Provider())

	completion, err := a.Invoke(context.Background(), spec, &ChatRequest{
		Messages:    []ChatMessage{{Role: RoleSystem, Content: "be brief"}, {Role: RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   5000,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", completion.Content)
	assert.Equal(t, "stop", completion.FinishReason)
	assert.Equal(t, 7, completion.Usage.TotalTokens)

	assert.Equal(t, "deepseek/deepseek-chat", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-6)
	assert.Len(t, got.Messages, 2)

	assert.Equal(t, "Bearer or-key", headers.Get("Authorization"))
	assert.Equal(t, "http://localhost:3000", headers.Get("HTTP-Referer"))
	assert.Equal(t, "Orion", headers.Get("X-Title"))

	assert.Equal(t, 1, logs.FilterMessage("clamping max tokens").Len())
}

func TestOpenAIAdapter_ErrorKinds(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
	}))
	defer srv.Close()

	spec := ModelSpec{ID: "groq/llama3", Provider: ProviderGroq, ModelID: "llama3", APIKey: "k", BaseURL: srv.URL}
	a, err := NewOpenAIAdapter(config.ProviderConfig{Name: "groq"}, []ModelSpec{spec}, nil)
	require.NoError(t, err)

	req := &ChatRequest{Messages: helloMessages}
	_, err = a.Invoke(context.Background(), spec, req)
	assert.Equal(t, KindRateLimited, classifyError(err))

	status = http.StatusUnauthorized
	_, err = a.Invoke(context.Background(), spec, req)
	assert.Equal(t, KindAuth, classifyError(err))

	_, err = a.Invoke(context.Background(), ModelSpec{ID: "groq/other"}, req)
	assert.True(t, models.IsConfiguration(err))
}

func TestOpenAIAdapter_AzureRequiresBase(t *testing.T) {
	_, err := NewOpenAIAdapter(config.ProviderConfig{Name: "azure"},
		[]ModelSpec{{ID: "azure/gpt-4.1", Provider: ProviderAzure, ModelID: "gpt-4.1", APIKey: "k"}}, nil)
	assert.True(t, models.IsConfiguration(err))
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]ChatMessage{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", system)
	assert.Equal(t, []ChatMessage{{Role: RoleUser, Content: "q"}}, rest)
}
