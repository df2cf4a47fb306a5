package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"Orion-Core/server/internal/models"
)

const (
	defaultProbeTimeout = 20 * time.Second
	probePrompt         = "Say hello."
	probeTemperature    = 0.2
	probeMaxTokens      = 32
)

// CheckProviders probes each model directly, without fallback, so one
// outage shows up as one failed row. An empty list probes the default model
// and its fallback chain. onResult, when set, receives each status as soon
// as its probe finishes.
func (o *Orchestrator) CheckProviders(ctx context.Context, modelIDs []string, onResult func(models.ProviderStatus)) []models.ProviderStatus {
	if len(modelIDs) == 0 {
		candidates, err := o.registry.Candidates("")
		if err == nil {
			for _, c := range candidates {
				modelIDs = append(modelIDs, c.ID)
			}
		}
	}

	req := &ChatRequest{
		Messages:    []ChatMessage{{Role: RoleUser, Content: probePrompt}},
		Temperature: probeTemperature,
		MaxTokens:   probeMaxTokens,
	}

	results := make([]models.ProviderStatus, 0, len(modelIDs))
	for _, id := range modelIDs {
		if ctx.Err() != nil {
			break
		}
		status := o.probe(ctx, id, req)
		results = append(results, status)
		if onResult != nil {
			onResult(status)
		}
	}
	return results
}

func (o *Orchestrator) probe(ctx context.Context, id string, req *ChatRequest) models.ProviderStatus {
	status := models.ProviderStatus{
		Model:     id,
		Status:    models.ProbeFail,
		CheckedAt: o.now().UTC(),
	}

	model, ok := o.registry.Model(id)
	if !ok {
		status.Error = fmt.Sprintf("unknown model %q", id)
		llmProbes.WithLabelValues(unknownModelLabel, status.Status).Inc()
		return status
	}
	status.Model = model.ID
	status.Provider = model.Provider

	start := o.now()
	completion, err := o.attempt(ctx, model, req, o.probeTimeout)
	status.LatencyMs = o.now().Sub(start).Milliseconds()

	if err != nil {
		status.Error = err.Error()
		o.logger.Warn("provider probe failed",
			zap.String("model", model.ID),
			zap.String("kind", classifyError(err)),
			zap.Error(err))
	} else {
		status.Status = models.ProbeSuccess
		status.Content = completion.Content
	}
	llmProbes.WithLabelValues(model.ID, status.Status).Inc()
	return status
}
