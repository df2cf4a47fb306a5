package web

import (
	"context"
	"time"

	"go.uber.org/zap"

	"Orion-Core/server/internal/interfaces"
	"Orion-Core/server/internal/models"
)

// HealthMonitor probes the default fallback chain on a fixed interval,
// streams each result to the hub and stores the run.
type HealthMonitor struct {
	llm      interfaces.LLMOrchestrator
	store    interfaces.HealthStore
	hub      *StatusHub
	interval time.Duration
	logger   *zap.Logger
}

// NewHealthMonitor creates a monitor. store and hub may be nil.
func NewHealthMonitor(llm interfaces.LLMOrchestrator, store interfaces.HealthStore, hub *StatusHub, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		llm:      llm,
		store:    store,
		hub:      hub,
		interval: interval,
		logger:   logger.Named("health"),
	}
}

// Run blocks until ctx is done. A non-positive interval disables the loop.
func (m *HealthMonitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("periodic provider health checks disabled")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one probe pass and returns its results.
func (m *HealthMonitor) CheckOnce(ctx context.Context) []models.ProviderStatus {
	var onResult func(models.ProviderStatus)
	if m.hub != nil {
		onResult = m.hub.Broadcast
	}

	results := m.llm.CheckProviders(ctx, nil, onResult)

	failed := 0
	for _, st := range results {
		if st.Status != models.ProbeSuccess {
			failed++
		}
	}
	m.logger.Info("provider health check finished",
		zap.Int("models", len(results)),
		zap.Int("failed", failed),
	)

	if m.store != nil && len(results) > 0 {
		if err := m.store.SaveProviderStatuses(ctx, results); err != nil {
			m.logger.Warn("failed to store provider health", zap.Error(err))
		}
	}
	return results
}
