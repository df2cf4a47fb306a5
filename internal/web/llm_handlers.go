package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"Orion-Core/server/internal/engine"
	"Orion-Core/server/internal/models"
)

const (
	fallbackTemperature = 0.7
	healthCheckBudget   = 5 * time.Minute
)

// GenerateRequest is either a routed request (requestType + primaryContext)
// or a raw conversation (messages).
type GenerateRequest struct {
	RequestType    string                 `json:"requestType,omitempty"`
	PrimaryContext string                 `json:"primaryContext,omitempty"`
	Options        engine.GenerateOptions `json:"options"`

	Messages    []engine.ChatMessage `json:"messages,omitempty"`
	Model       string               `json:"model,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"maxTokens,omitempty"`
}

// CheckProvidersRequest limits a probe run to the listed models
type CheckProvidersRequest struct {
	Models []string `json:"models"`
}

// ModelInfo is the public view of a configured model
type ModelInfo struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	ModelID         string `json:"modelId"`
	ContextWindow   int    `json:"contextWindow,omitempty"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
	Default         bool   `json:"default"`
}

// Generate serves both routed and raw generation. The body is always an
// LLMResult; the status code follows the error class on failure.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var result models.LLMResult
	switch {
	case req.RequestType != "":
		if h.router == nil {
			h.writeError(w, r, models.Configurationf("web.generate", "request routing is not configured"))
			return
		}
		result = h.router.Generate(r.Context(), req.RequestType, req.PrimaryContext, req.Options)
	case len(req.Messages) > 0:
		temperature := h.temperature
		if req.Temperature != nil {
			temperature = *req.Temperature
		}
		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = h.maxTokens
		}
		result = h.llm.Generate(r.Context(), engine.GenerateRequest{
			Model:       req.Model,
			Messages:    req.Messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
	default:
		h.writeError(w, r, models.Validation("web.generate", "requestType or messages is required"))
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = statusFor(result.Err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("generation failed",
				zap.String("request_type", req.RequestType),
				zap.Int("attempts", len(result.Attempts)),
				zap.Error(result.Err),
			)
		}
	}
	writeJSON(w, status, result)
}

func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	registry := h.llm.Registry()
	def := registry.DefaultModel()

	specs := registry.Models()
	out := make([]ModelInfo, 0, len(specs))
	for _, m := range specs {
		out = append(out, ModelInfo{
			ID:              m.ID,
			Provider:        m.Provider,
			ModelID:         m.ModelID,
			ContextWindow:   m.ContextWindow,
			MaxOutputTokens: m.MaxOutputTokens,
			Default:         m.ID == def,
		})
	}

	var chain []string
	if candidates, err := registry.Candidates(""); err == nil {
		for _, c := range candidates {
			chain = append(chain, c.ID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"models":        out,
		"defaultModel":  def,
		"fallbackChain": chain,
	})
}

func (h *Handlers) ListRequestTypes(w http.ResponseWriter, r *http.Request) {
	var types []string
	if h.router != nil {
		types = h.router.Types()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"requestTypes": types,
	})
}

// CheckProviders probes each model once. Results are also pushed to
// websocket subscribers as they arrive and the run is stored when a health
// store is configured.
func (h *Handlers) CheckProviders(w http.ResponseWriter, r *http.Request) {
	var req CheckProvidersRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	for i := range req.Models {
		req.Models[i] = strings.TrimSpace(req.Models[i])
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckBudget)
	defer cancel()

	var onResult func(models.ProviderStatus)
	if h.hub != nil {
		onResult = h.hub.Broadcast
	}
	results := h.llm.CheckProviders(ctx, req.Models, onResult)

	if h.health != nil && len(results) > 0 {
		saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancelSave()
		if err := h.health.SaveProviderStatuses(saveCtx, results); err != nil {
			h.logger.Warn("failed to store provider health", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, results)
}

// LatestHealth returns the last stored probe run
func (h *Handlers) LatestHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "health store not configured",
		})
		return
	}

	snapshot, err := h.health.LoadProviderStatuses(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if snapshot == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "no health check has run yet",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"results":   snapshot.Results,
		"checkedAt": snapshot.CheckedAt,
	})
}

func (h *Handlers) HealthHistory(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "health store not configured",
		})
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.health.RecentProviderStatuses(r.Context(), int64(limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": rows,
	})
}

// HealthStream upgrades to a websocket that receives every probe result
func (h *Handlers) HealthStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Hub not initialized"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(conn)
}

func (h *Handlers) LLMStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"success":      true,
		"orchestrator": h.llm.Stats(),
	}
	if h.hub != nil {
		body["hub"] = h.hub.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// RecentGenerations lists the generation audit trail
func (h *Handlers) RecentGenerations(w http.ResponseWriter, r *http.Request) {
	if h.generations == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "generation log not configured",
		})
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.generations.RecentGenerations(r.Context(), r.URL.Query().Get("requestType"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"generations": rows,
	})
}

// ListTemplates lists the prompt template names
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "prompt templates not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"templates": h.templates.Names(),
	})
}

// ExportTemplate returns one template in the JSON form accepted by the
// prompt override directory.
func (h *Handlers) ExportTemplate(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "prompt templates not configured",
		})
		return
	}

	name := chi.URLParam(r, "name")
	if !h.templates.Has(name) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "template not found: " + name,
		})
		return
	}
	data, err := h.templates.ExportTemplate(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(data))
}
