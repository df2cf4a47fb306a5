package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a chat message
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-neutral completion request. Temperature and
// MaxTokens are passed to the vendor unmodified, except that MaxTokens is
// clamped to the model's output ceiling.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Completion is the normalized vendor response
type Completion struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage represents token usage
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelSpec is one resolved entry of the model table.
type ModelSpec struct {
	ID                 string  `json:"id"`
	Provider           string  `json:"provider"`
	ModelID            string  `json:"modelId"`
	APIKey             string  `json:"-"`
	BaseURL            string  `json:"baseUrl,omitempty"`
	APIVersion         string  `json:"apiVersion,omitempty"`
	DeploymentID       string  `json:"deploymentId,omitempty"`
	ContextWindow      int     `json:"contextWindow,omitempty"`
	MaxOutputTokens    int     `json:"maxOutputTokens,omitempty"`
	InputCostPerToken  float64 `json:"inputCostPerToken,omitempty"`
	OutputCostPerToken float64 `json:"outputCostPerToken,omitempty"`
}

// ProviderAdapter is the uniform contract every vendor integration meets.
// One adapter serves every configured model of its provider.
type ProviderAdapter interface {
	Provider() string
	Invoke(ctx context.Context, model ModelSpec, req *ChatRequest) (*Completion, error)
}

// AdapterFactory builds the adapter of one provider for its models.
type AdapterFactory func(ctx context.Context, provider config.ProviderConfig, specs []ModelSpec, logger *zap.Logger) (ProviderAdapter, error)

// DefaultAdapterFactory dispatches on the provider name.
func DefaultAdapterFactory(ctx context.Context, provider config.ProviderConfig, specs []ModelSpec, logger *zap.Logger) (ProviderAdapter, error) {
	name := strings.ToLower(provider.Name)
	switch {
	case name == ProviderGemini:
		return NewGeminiAdapter(ctx, specs, logger)
	case name == ProviderAnthropic:
		return NewAnthropicAdapter(specs, logger)
	case isOpenAICompatible(name):
		return NewOpenAIAdapter(provider, specs, logger)
	default:
		return nil, models.Configurationf("engine.adapter", "unsupported provider %q", provider.Name)
	}
}

// clampMaxTokens caps requested to the model's output ceiling. Zero means
// the vendor default and is returned unchanged.
func clampMaxTokens(logger *zap.Logger, model ModelSpec, requested int) int {
	if model.MaxOutputTokens <= 0 || requested <= model.MaxOutputTokens {
		return requested
	}
	logger.Warn("clamping max tokens",
		zap.String("model", model.ID),
		zap.Int("requested", requested),
		zap.Int("limit", model.MaxOutputTokens))
	return model.MaxOutputTokens
}

// splitSystem joins system messages into one instruction and returns the
// remaining conversation. Vendors without a system role take it separately.
func splitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var system []string
	rest := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
