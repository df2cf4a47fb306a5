package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

// Provider names
const (
	ProviderOpenAI     = "openai"
	ProviderAzure      = "azure"
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
	ProviderMistral    = "mistral"
	ProviderTogether   = "together"
	ProviderDeepSeek   = "deepseek"
	ProviderZhipu      = "zhipu"
	ProviderGemini     = "gemini"
	ProviderAnthropic  = "anthropic"
)

// Default base URLs of the OpenAI-compatible providers. Azure has none; the
// resource endpoint is always configured.
var openAIBaseURLs = map[string]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderMistral:    "https://api.mistral.ai/v1",
	ProviderTogether:   "https://api.together.xyz/v1",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
	ProviderZhipu:      "https://open.bigmodel.cn/api/paas/v4",
}

const defaultHTTPTimeout = 120 * time.Second

func isOpenAICompatible(provider string) bool {
	if provider == ProviderAzure {
		return true
	}
	_, ok := openAIBaseURLs[provider]
	return ok
}

// OpenAIAdapter talks to every OpenAI-compatible chat completions API.
type OpenAIAdapter struct {
	provider string
	clients  map[string]*openai.Client
	logger   *zap.Logger
}

// NewOpenAIAdapter creates one go-openai client per model, since models of
// the same provider may use different keys or deployments.
func NewOpenAIAdapter(provider config.ProviderConfig, specs []ModelSpec, logger *zap.Logger) (*OpenAIAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := strings.ToLower(provider.Name)

	a := &OpenAIAdapter{
		provider: name,
		clients:  make(map[string]*openai.Client, len(specs)),
		logger:   logger.With(zap.String("provider", name)),
	}

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if name == ProviderOpenRouter {
		httpClient.Transport = &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": provider.Referer,
				"X-Title":      provider.Title,
			},
		}
	}

	for _, spec := range specs {
		cfg, err := openAIClientConfig(name, provider, spec)
		if err != nil {
			return nil, err
		}
		cfg.HTTPClient = httpClient
		a.clients[spec.ID] = openai.NewClientWithConfig(cfg)
	}
	return a, nil
}

func openAIClientConfig(name string, provider config.ProviderConfig, spec ModelSpec) (openai.ClientConfig, error) {
	baseURL := spec.BaseURL
	if baseURL == "" {
		baseURL = provider.BaseURL
	}

	if name == ProviderAzure {
		if baseURL == "" {
			return openai.ClientConfig{}, models.Configurationf("engine.azure", "model %s: api_base is required", spec.ID)
		}
		cfg := openai.DefaultAzureConfig(spec.APIKey, baseURL)
		if spec.APIVersion != "" {
			cfg.APIVersion = spec.APIVersion
		}
		deployment := spec.DeploymentID
		if deployment == "" {
			deployment = spec.ModelID
		}
		cfg.AzureModelMapperFunc = func(string) string { return deployment }
		return cfg, nil
	}

	if baseURL == "" {
		baseURL = openAIBaseURLs[name]
	}
	cfg := openai.DefaultConfig(spec.APIKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return cfg, nil
}

func (a *OpenAIAdapter) Provider() string { return a.provider }

// Invoke sends a chat completion request
func (a *OpenAIAdapter) Invoke(ctx context.Context, model ModelSpec, req *ChatRequest) (*Completion, error) {
	client, ok := a.clients[model.ID]
	if !ok {
		return nil, models.Configurationf("engine.openai", "model %s is not served by provider %s", model.ID, a.provider)
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model.ModelID,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   clampMaxTokens(a.logger, model, req.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", model.ID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat completion: %w", model.ID, errEmptyResponse)
	}

	choice := resp.Choices[0]
	return &Completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// headerTransport adds static headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
