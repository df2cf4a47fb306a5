package engine

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
	"Orion-Core/server/internal/prompts"
)

// Request types
const (
	RequestAskQuestion           = "ask_question"
	RequestJDAnalysis            = "jd_analysis"
	RequestCVComponentRephrasing = "cv_component_rephrasing"
	RequestPatternAnalysis       = "pattern_analysis"
	RequestJournalReflection     = "journal_reflection"
	RequestDraftCommunication    = "draft_communication"
	RequestOpportunityEvaluation = "opportunity_evaluation"
	RequestProfileSummary        = "profile_summary_tailoring"
	RequestOrionImprovement      = "orion_improvement"
)

// Preferred primaries of the built-in routes. A route whose model is not
// configured falls back to the registry default.
const (
	modelDeepSeekChat = "openrouter/deepseek/deepseek-chat-v3-0324:free"
	modelGeminiFlash  = "openrouter/google/gemini-2.0-flash-exp:free"
	modelGPT41        = "azure/gpt-4.1"
	modelDeepSeekR1   = "azure/DeepSeek-R1"
)

const defaultMemoryLimit = 3

// PromptInput is everything a prompt function may draw on.
type PromptInput struct {
	Context   string
	Profile   string
	Memories  []string
	Variables map[string]string
}

// PromptFunc builds the conversation for one request type. It must be
// deterministic for a given input.
type PromptFunc func(in PromptInput) ([]ChatMessage, error)

// Route binds a request type to its prompt and default parameters.
type Route struct {
	Type        string
	Temperature float64
	MaxTokens   int
	// Model is the preferred primary; ignored when not configured.
	Model     string
	Variables map[string]string
	Prompt    PromptFunc
}

// MemoryLookup returns memory texts related to query, best first.
type MemoryLookup func(ctx context.Context, query string, limit int) ([]string, error)

// GenerateOptions overrides route defaults for one call
type GenerateOptions struct {
	Temperature    *float64          `json:"temperature,omitempty"`
	MaxTokens      *int              `json:"maxTokens,omitempty"`
	Model          string            `json:"model,omitempty"`
	ProfileContext string            `json:"profileContext,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	UseMemory      bool              `json:"useMemory,omitempty"`
	MemoryLimit    int               `json:"memoryLimit,omitempty"`
	// SystemContext replaces the route's system prompt.
	SystemContext  string            `json:"systemContext,omitempty"`
}

// Router maps request types to prompts and parameters, then hands the call
// to the orchestrator. Prompt policy stays here; fallback stays there.
type Router struct {
	orchestrator *Orchestrator
	routes       map[string]Route
	memory       MemoryLookup
	logger       *zap.Logger
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithMemoryLookup enables UseMemory.
func WithMemoryLookup(fn MemoryLookup) RouterOption {
	return func(r *Router) { r.memory = fn }
}

// WithRoute adds or replaces a route.
func WithRoute(route Route) RouterOption {
	return func(r *Router) { r.routes[route.Type] = route }
}

// WithRouterLogger sets the logger
func WithRouterLogger(l *zap.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter registers the default routes, rendering prompts with templates.
func NewRouter(o *Orchestrator, templates *prompts.TemplateEngine, opts ...RouterOption) *Router {
	r := &Router{
		orchestrator: o,
		routes:       DefaultRoutes(templates),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRoutes returns the built-in routes
func DefaultRoutes(templates *prompts.TemplateEngine) map[string]Route {
	routes := []Route{
		{Type: RequestAskQuestion, Temperature: 0.7, MaxTokens: 1000, Model: modelDeepSeekChat},
		{Type: RequestJDAnalysis, Temperature: 0.3, MaxTokens: 2000, Model: modelGeminiFlash},
		{
			Type: RequestCVComponentRephrasing, Temperature: 0.4, MaxTokens: 800, Model: modelGeminiFlash,
			Variables: map[string]string{"role": "the target role"},
		},
		{Type: RequestPatternAnalysis, Temperature: 0.5, MaxTokens: 1500},
		{Type: RequestJournalReflection, Temperature: 0.7, MaxTokens: 1000, Model: modelDeepSeekChat},
		{
			Type: RequestDraftCommunication, Temperature: 0.6, MaxTokens: 800, Model: modelGPT41,
			Variables: map[string]string{"tone": "professional", "recipient": "the recipient"},
		},
		{Type: RequestOpportunityEvaluation, Temperature: 0.4, MaxTokens: 2000, Model: modelDeepSeekR1},
		{
			Type: RequestProfileSummary, Temperature: 0.5, MaxTokens: 600, Model: modelGeminiFlash,
			Variables: map[string]string{"role": "the target role"},
		},
		{Type: RequestOrionImprovement, Temperature: 0.5, MaxTokens: 1500, Model: modelGPT41},
	}

	out := make(map[string]Route, len(routes))
	for _, route := range routes {
		route.Prompt = TemplatePrompt(route.Type, templates)
		out[route.Type] = route
	}
	return out
}

// ConfiguredRoutes overlays the llm.routes block onto routes and returns one
// WithRoute option per configured type. Unknown types are a configuration
// error.
func ConfiguredRoutes(routes map[string]Route, overrides map[string]config.RouteConfig) ([]RouterOption, error) {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]RouterOption, 0, len(names))
	for _, name := range names {
		rc := overrides[name]
		route, ok := routes[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, models.Configurationf("engine.route", "llm.routes: unknown request type %q", name)
		}
		if rc.Model != "" {
			route.Model = rc.Model
		}
		if rc.Temperature != nil {
			route.Temperature = *rc.Temperature
		}
		if rc.MaxTokens > 0 {
			route.MaxTokens = rc.MaxTokens
		}
		opts = append(opts, WithRoute(route))
	}
	return opts, nil
}

// TemplatePrompt renders system, profile, memory and user blocks from the
// template engine. Missing per-type templates fall back to the generic
// system prompt and the raw context.
func TemplatePrompt(requestType string, templates *prompts.TemplateEngine) PromptFunc {
	return func(in PromptInput) ([]ChatMessage, error) {
		tctx := &prompts.TemplateContext{
			Context:  in.Context,
			Profile:  in.Profile,
			Memories: prompts.FormatMemories(in.Memories),
			Custom:   in.Variables,
		}

		systemName := prompts.SystemTemplateName(requestType)
		if !templates.Has(systemName) {
			systemName = prompts.FallbackTemplate
		}
		system, err := templates.Render(systemName, tctx)
		if err != nil {
			return nil, err
		}
		messages := []ChatMessage{{Role: RoleSystem, Content: system}}

		if strings.TrimSpace(in.Profile) != "" {
			profile, err := templates.Render(prompts.ProfileTemplate, tctx)
			if err != nil {
				return nil, err
			}
			messages = append(messages, ChatMessage{Role: RoleUser, Content: profile})
		}
		if len(in.Memories) > 0 {
			memories, err := templates.Render(prompts.MemoryTemplate, tctx)
			if err != nil {
				return nil, err
			}
			messages = append(messages, ChatMessage{Role: RoleUser, Content: memories})
		}

		user := in.Context
		if name := prompts.UserTemplateName(requestType); templates.Has(name) {
			if user, err = templates.Render(name, tctx); err != nil {
				return nil, err
			}
		}
		return append(messages, ChatMessage{Role: RoleUser, Content: user}), nil
	}
}

// Types lists the routable request types, sorted.
func (r *Router) Types() []string {
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Route returns the route of a request type.
func (r *Router) Route(requestType string) (Route, bool) {
	route, ok := r.routes[requestType]
	return route, ok
}

// Messages builds the conversation for a request type without calling any
// provider.
func (r *Router) Messages(ctx context.Context, requestType, primaryContext string, opts GenerateOptions) ([]ChatMessage, error) {
	route, ok := r.routes[requestType]
	if !ok {
		return nil, models.Validation("engine.route", "unknown request type %q", requestType)
	}
	if strings.TrimSpace(primaryContext) == "" {
		return nil, models.Validation("engine.route", "primary context is required")
	}

	vars := make(map[string]string, len(route.Variables)+len(opts.Variables))
	for k, v := range route.Variables {
		vars[k] = v
	}
	for k, v := range opts.Variables {
		vars[k] = v
	}

	in := PromptInput{
		Context:   primaryContext,
		Profile:   opts.ProfileContext,
		Variables: vars,
	}
	if opts.UseMemory && r.memory != nil {
		limit := opts.MemoryLimit
		if limit <= 0 {
			limit = defaultMemoryLimit
		}
		memories, err := r.memory(ctx, primaryContext, limit)
		if err != nil {
			// Memories enrich the prompt; generation proceeds without them.
			r.logger.Warn("memory lookup failed",
				zap.String("request_type", requestType),
				zap.Error(err))
		}
		in.Memories = memories
	}

	messages, err := route.Prompt(in)
	if err != nil || opts.SystemContext == "" {
		return messages, err
	}
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		messages[0].Content = opts.SystemContext
		return messages, nil
	}
	return append([]ChatMessage{{Role: RoleSystem, Content: opts.SystemContext}}, messages...), nil
}

// Generate routes one request through the orchestrator.
func (r *Router) Generate(ctx context.Context, requestType, primaryContext string, opts GenerateOptions) models.LLMResult {
	messages, err := r.Messages(ctx, requestType, primaryContext, opts)
	if err != nil {
		return models.Failure(err)
	}
	route := r.routes[requestType]

	temperature := route.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := route.MaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	model := opts.Model
	if model == "" && route.Model != "" {
		if r.orchestrator.Registry().Has(route.Model) {
			model = route.Model
		} else {
			r.logger.Debug("preferred model not configured, using default",
				zap.String("request_type", requestType),
				zap.String("model", route.Model))
		}
	}

	return r.orchestrator.Generate(ctx, GenerateRequest{
		RequestType: requestType,
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}
