package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"Orion-Core/server/internal/models"
)

// GeminiAdapter calls the Gemini API through google.golang.org/genai.
type GeminiAdapter struct {
	clients map[string]*genai.Client
	logger  *zap.Logger
}

// NewGeminiAdapter creates a genai client per model
func NewGeminiAdapter(ctx context.Context, specs []ModelSpec, logger *zap.Logger) (*GeminiAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &GeminiAdapter{
		clients: make(map[string]*genai.Client, len(specs)),
		logger:  logger.With(zap.String("provider", ProviderGemini)),
	}

	for _, spec := range specs {
		cfg := &genai.ClientConfig{
			APIKey:  spec.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if spec.BaseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: spec.BaseURL}
		}
		client, err := genai.NewClient(ctx, cfg)
		if err != nil {
			return nil, models.Configuration("engine.gemini", fmt.Errorf("model %s: %w", spec.ID, err))
		}
		a.clients[spec.ID] = client
	}
	return a, nil
}

func (a *GeminiAdapter) Provider() string { return ProviderGemini }

func (a *GeminiAdapter) Invoke(ctx context.Context, model ModelSpec, req *ChatRequest) (*Completion, error) {
	client, ok := a.clients[model.ID]
	if !ok {
		return nil, models.Configurationf("engine.gemini", "model %s is not served by provider gemini", model.ID)
	}

	system, conversation := splitSystem(req.Messages)
	contents := make([]*genai.Content, 0, len(conversation))
	for _, m := range conversation {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, "")
	}
	if maxTokens := clampMaxTokens(a.logger, model, req.MaxTokens); maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, model.ModelID, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%s generate content: %w", model.ID, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%s generate content: %w", model.ID, errEmptyResponse)
	}

	out := &Completion{
		Content:      resp.Text(),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}
