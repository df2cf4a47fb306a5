package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"Orion-Core/server/internal/models"
)

// The Messages API requires max_tokens.
const anthropicDefaultMaxTokens = 1024

// AnthropicAdapter calls the Claude Messages API.
type AnthropicAdapter struct {
	clients map[string]*anthropic.Client
	logger  *zap.Logger
}

// NewAnthropicAdapter creates an SDK client per model. SDK retries are off;
// the orchestrator owns fallback.
func NewAnthropicAdapter(specs []ModelSpec, logger *zap.Logger) (*AnthropicAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AnthropicAdapter{
		clients: make(map[string]*anthropic.Client, len(specs)),
		logger:  logger.With(zap.String("provider", ProviderAnthropic)),
	}

	for _, spec := range specs {
		opts := []option.RequestOption{
			option.WithAPIKey(spec.APIKey),
			option.WithMaxRetries(0),
		}
		if spec.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(spec.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		a.clients[spec.ID] = &client
	}
	return a, nil
}

func (a *AnthropicAdapter) Provider() string { return ProviderAnthropic }

func (a *AnthropicAdapter) Invoke(ctx context.Context, model ModelSpec, req *ChatRequest) (*Completion, error) {
	client, ok := a.clients[model.ID]
	if !ok {
		return nil, models.Configurationf("engine.anthropic", "model %s is not served by provider anthropic", model.ID)
	}

	maxTokens := clampMaxTokens(a.logger, model, req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
		if model.MaxOutputTokens > 0 && model.MaxOutputTokens < maxTokens {
			maxTokens = model.MaxOutputTokens
		}
	}

	system, conversation := splitSystem(req.Messages)
	messages := make([]anthropic.MessageParam, 0, len(conversation))
	for _, m := range conversation {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model.ModelID),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s messages: %w", model.ID, err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Completion{
		Content:      content.String(),
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
