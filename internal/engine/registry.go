package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

// defaultFallbackKey names the chain used by models without their own.
const defaultFallbackKey = "default"

// Environment variables consulted when a model has no credential_ref.
var defaultCredentialRefs = map[string]string{
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderAzure:      "AZURE_API_KEY",
	ProviderGroq:       "GROQ_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
	ProviderMistral:    "MISTRAL_API_KEY",
	ProviderTogether:   "TOGETHER_API_KEY",
	ProviderDeepSeek:   "DEEPSEEK_API_KEY",
	ProviderZhipu:      "ZHIPU_API_KEY",
	ProviderGemini:     "GEMINI_API_KEY",
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
}

// Registry is the ordered model table with its fallback chains. It is
// immutable after NewRegistry returns.
type Registry struct {
	models       []ModelSpec
	byID         map[string]ModelSpec
	aliases      map[string]string
	fallbacks    map[string][]string
	defaultModel string
	adapters     map[string]ProviderAdapter
	limiters     map[string]*rate.Limiter
}

type registryOptions struct {
	lookup  func(string) (string, bool)
	factory AdapterFactory
	logger  *zap.Logger
}

// RegistryOption configures NewRegistry
type RegistryOption func(*registryOptions)

// WithCredentialLookup replaces os.LookupEnv for credential resolution.
func WithCredentialLookup(fn func(string) (string, bool)) RegistryOption {
	return func(o *registryOptions) { o.lookup = fn }
}

// WithAdapterFactory replaces DefaultAdapterFactory.
func WithAdapterFactory(f AdapterFactory) RegistryOption {
	return func(o *registryOptions) { o.factory = f }
}

// WithRegistryLogger sets the logger handed to adapters.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(o *registryOptions) { o.logger = l }
}

// NewRegistry resolves credentials and builds one adapter per provider.
// Every missing credential and dangling fallback reference is reported in a
// single ConfigurationError.
func NewRegistry(ctx context.Context, cfg config.LLMConfig, opts ...RegistryOption) (*Registry, error) {
	o := registryOptions{
		lookup:  os.LookupEnv,
		factory: DefaultAdapterFactory,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(cfg.Models) == 0 {
		return nil, models.Configurationf("engine.registry", "no models configured")
	}

	r := &Registry{
		byID:      make(map[string]ModelSpec, len(cfg.Models)),
		aliases:   make(map[string]string, len(cfg.Models)),
		fallbacks: make(map[string][]string, len(cfg.Fallbacks)),
		adapters:  make(map[string]ProviderAdapter),
		limiters:  make(map[string]*rate.Limiter),
	}

	var problems []error
	ambiguous := map[string]bool{}
	for _, mc := range cfg.Models {
		spec, err := resolveModel(cfg, mc, o.lookup)
		if err != nil {
			problems = append(problems, err)
		}
		if _, dup := r.byID[spec.ID]; dup {
			problems = append(problems, fmt.Errorf("duplicate model %s", spec.ID))
			continue
		}
		r.models = append(r.models, spec)
		r.byID[spec.ID] = spec

		// A bare model id is an alias when exactly one provider serves it.
		if _, seen := r.aliases[spec.ModelID]; seen {
			ambiguous[spec.ModelID] = true
		}
		r.aliases[spec.ModelID] = spec.ID
	}
	for alias := range ambiguous {
		delete(r.aliases, alias)
	}

	for primary, chain := range cfg.Fallbacks {
		key := primary
		if primary != defaultFallbackKey {
			id, ok := r.resolve(primary)
			if !ok {
				problems = append(problems, fmt.Errorf("fallbacks: unknown model %q", primary))
				continue
			}
			key = id
		}
		resolved := make([]string, 0, len(chain))
		for _, alt := range chain {
			id, ok := r.resolve(alt)
			if !ok {
				problems = append(problems, fmt.Errorf("fallbacks[%s]: unknown model %q", primary, alt))
				continue
			}
			resolved = append(resolved, id)
		}
		r.fallbacks[key] = resolved
	}

	r.defaultModel = r.models[0].ID
	if cfg.DefaultModel != "" {
		id, ok := r.resolve(cfg.DefaultModel)
		if !ok {
			problems = append(problems, fmt.Errorf("default_model: unknown model %q", cfg.DefaultModel))
		}
		r.defaultModel = id
	}

	if len(problems) > 0 {
		return nil, models.Configuration("engine.registry", errors.Join(problems...))
	}

	byProvider := make(map[string][]ModelSpec)
	var order []string
	for _, spec := range r.models {
		if _, ok := byProvider[spec.Provider]; !ok {
			order = append(order, spec.Provider)
		}
		byProvider[spec.Provider] = append(byProvider[spec.Provider], spec)
	}
	for _, name := range order {
		pc, ok := cfg.Provider(name)
		if !ok {
			pc = config.ProviderConfig{Name: name}
		}
		pc.Name = name

		adapter, err := o.factory(ctx, pc, byProvider[name], o.logger)
		if err != nil {
			return nil, models.Configuration("engine.registry", fmt.Errorf("provider %s: %w", name, err))
		}
		r.adapters[name] = adapter

		if pc.RateLimitRPM > 0 {
			r.limiters[name] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(pc.RateLimitRPM)), 1)
		}
	}

	return r, nil
}

func resolveModel(cfg config.LLMConfig, mc config.ModelConfig, lookup func(string) (string, bool)) (ModelSpec, error) {
	provider := strings.ToLower(mc.Provider)
	spec := ModelSpec{
		ID:                 provider + "/" + mc.ModelID,
		Provider:           provider,
		ModelID:            mc.ModelID,
		BaseURL:            mc.APIBase,
		APIVersion:         mc.APIVersion,
		DeploymentID:       mc.DeploymentID,
		ContextWindow:      mc.ContextWindow,
		MaxOutputTokens:    mc.MaxOutputTokens,
		InputCostPerToken:  mc.InputCostPerToken,
		OutputCostPerToken: mc.OutputCostPerToken,
	}
	if spec.BaseURL == "" {
		if pc, ok := cfg.Provider(provider); ok {
			spec.BaseURL = pc.BaseURL
		}
	}

	ref := mc.CredentialRef
	if ref == "" {
		ref = defaultCredentialRefs[provider]
	}
	if ref == "" {
		return spec, fmt.Errorf("model %s: credential_ref is required for provider %s", spec.ID, provider)
	}
	key, ok := lookup(ref)
	if !ok || strings.TrimSpace(key) == "" {
		return spec, fmt.Errorf("model %s: credential %s is not set", spec.ID, ref)
	}
	spec.APIKey = key
	return spec, nil
}

// resolve accepts a canonical "provider/model" id or an unambiguous bare
// model id.
func (r *Registry) resolve(name string) (string, bool) {
	if _, ok := r.byID[name]; ok {
		return name, true
	}
	if id, ok := r.aliases[name]; ok {
		return id, true
	}
	if provider, model, ok := strings.Cut(name, "/"); ok {
		id := strings.ToLower(provider) + "/" + model
		if _, ok := r.byID[id]; ok {
			return id, true
		}
	}
	return "", false
}

// Candidates returns the primary followed by its fallback chain, or the
// default chain when it has none. Empty primary means the default model.
func (r *Registry) Candidates(primary string) ([]ModelSpec, error) {
	if primary == "" {
		primary = r.defaultModel
	}
	id, ok := r.resolve(primary)
	if !ok {
		return nil, models.Validation("engine.candidates", "unknown model %q", primary)
	}

	chain, ok := r.fallbacks[id]
	if !ok {
		chain = r.fallbacks[defaultFallbackKey]
	}

	seen := map[string]bool{id: true}
	out := []ModelSpec{r.byID[id]}
	for _, alt := range chain {
		if seen[alt] {
			continue
		}
		seen[alt] = true
		out = append(out, r.byID[alt])
	}
	return out, nil
}

// Model returns a model by canonical or bare id.
func (r *Registry) Model(name string) (ModelSpec, bool) {
	id, ok := r.resolve(name)
	if !ok {
		return ModelSpec{}, false
	}
	return r.byID[id], true
}

// Has reports whether name resolves to a configured model.
func (r *Registry) Has(name string) bool {
	_, ok := r.resolve(name)
	return ok
}

// Models returns the model table in configured order.
func (r *Registry) Models() []ModelSpec {
	return append([]ModelSpec(nil), r.models...)
}

// DefaultModel is the canonical id used when callers name no model.
func (r *Registry) DefaultModel() string { return r.defaultModel }

// Adapter returns the adapter serving provider.
func (r *Registry) Adapter(provider string) (ProviderAdapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

// Limiter returns the provider's request limiter, or nil when unlimited.
func (r *Registry) Limiter(provider string) *rate.Limiter {
	return r.limiters[provider]
}
