package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"Orion-Core/server/internal/interfaces"
	"Orion-Core/server/internal/models"
	"Orion-Core/server/internal/prompts"
)

const maxBodyBytes = 1 << 20

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Deps are the services the HTTP layer serves. Health, Generations, Hub and
// Templates are optional.
type Deps struct {
	Memory      interfaces.MemoryService
	Router      interfaces.RequestRouter
	LLM         interfaces.LLMOrchestrator
	Health      interfaces.HealthStore
	Generations interfaces.GenerationLog
	Hub         *StatusHub
	Templates   *prompts.TemplateEngine
	Logger      *zap.Logger

	// Sampling defaults for raw-message generation. A nil Temperature
	// means 0.7; an explicit 0 is kept.
	Temperature *float64
	MaxTokens   int
}

type Handlers struct {
	memory      interfaces.MemoryService
	router      interfaces.RequestRouter
	llm         interfaces.LLMOrchestrator
	health      interfaces.HealthStore
	generations interfaces.GenerationLog
	hub         *StatusHub
	templates   *prompts.TemplateEngine
	logger      *zap.Logger
	temperature float64
	maxTokens   int
	started     time.Time
}

func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	temperature := fallbackTemperature
	if deps.Temperature != nil {
		temperature = *deps.Temperature
	}
	return &Handlers{
		memory:      deps.Memory,
		router:      deps.Router,
		llm:         deps.LLM,
		health:      deps.Health,
		generations: deps.Generations,
		hub:         deps.Hub,
		templates:   deps.Templates,
		logger:      logger,
		temperature: temperature,
		maxTokens:   deps.MaxTokens,
		started:     time.Now(),
	}
}

// HealthCheck reports service liveness and vector store reachability.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "ok",
		"service": "orion-core",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if h.memory != nil {
		if err := h.memory.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["vectorStore"] = err.Error()
		} else {
			body["vectorStore"] = "ok"
		}
	}
	if h.hub != nil {
		body["wsClients"] = h.hub.GetClientCount()
	}
	writeJSON(w, status, body)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func NewRouter(deps Deps) *chi.Mux {
	handlers := NewHandlers(deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(handlers.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Public routes
	r.Get("/health", handlers.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.memory != nil {
			r.Route("/memory", func(r chi.Router) {
				r.Post("/add", handlers.AddMemory)
				r.Post("/embed", handlers.Embed)
				r.Post("/index-text", handlers.IndexText)
				r.Post("/search", handlers.SearchMemory)
				r.Get("/list", handlers.ListMemories)
				r.Post("/delete", handlers.DeleteMemory)
				r.Post("/feedback", handlers.AddFeedback)
				r.Get("/stats", handlers.MemoryStats)
			})
		}

		if handlers.llm != nil {
			r.Route("/llm", func(r chi.Router) {
				r.Post("/generate", handlers.Generate)
				r.Get("/models", handlers.ListModels)
				r.Get("/request-types", handlers.ListRequestTypes)
				r.Post("/health", handlers.CheckProviders)
				r.Get("/health/latest", handlers.LatestHealth)
				r.Get("/health/history", handlers.HealthHistory)
				r.Get("/health/ws", handlers.HealthStream)
				r.Get("/stats", handlers.LLMStats)
				r.Get("/generations", handlers.RecentGenerations)
				r.Get("/templates", handlers.ListTemplates)
				r.Get("/templates/{name}", handlers.ExportTemplate)
			})
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrExhausted), models.IsTransient(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away; nginx convention
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return models.Validation("web.decode", "invalid request body: %v", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, models.Validation("web.query", "%s must be a non-negative integer", key)
	}
	return n, nil
}
