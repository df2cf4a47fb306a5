package interfaces

import (
	"context"

	"Orion-Core/server/internal/engine"
	"Orion-Core/server/internal/models"
	"Orion-Core/server/internal/storage"
)

// RequestRouter generates text for a named request type
type RequestRouter interface {
	Generate(ctx context.Context, requestType, primaryContext string, opts engine.GenerateOptions) models.LLMResult
	Types() []string
}

// LLMOrchestrator runs raw conversations through the fallback chain and
// probes providers
type LLMOrchestrator interface {
	Generate(ctx context.Context, req engine.GenerateRequest) models.LLMResult
	CheckProviders(ctx context.Context, modelIDs []string, onResult func(models.ProviderStatus)) []models.ProviderStatus
	Stats() engine.OrchestratorStats
	Registry() *engine.Registry
}

// HealthStore persists provider probe results
type HealthStore interface {
	SaveProviderStatuses(ctx context.Context, statuses []models.ProviderStatus) error
	LoadProviderStatuses(ctx context.Context) (*storage.HealthSnapshot, error)
	RecentProviderStatuses(ctx context.Context, limit int64) ([]models.ProviderStatus, error)
}

// GenerationLog reads the generation audit trail
type GenerationLog interface {
	RecentGenerations(ctx context.Context, requestType string, limit int) ([]models.GenerationLog, error)
}

var (
	_ RequestRouter   = (*engine.Router)(nil)
	_ LLMOrchestrator = (*engine.Orchestrator)(nil)
	_ HealthStore     = (*storage.RedisStore)(nil)
	_ GenerationLog   = (*storage.MySQLStore)(nil)
)
