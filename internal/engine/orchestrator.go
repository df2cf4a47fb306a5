package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"Orion-Core/server/internal/models"
)

const (
	defaultAttemptTimeout = 60 * time.Second
	recordTimeout         = 5 * time.Second
)

// GenerateRequest is one orchestrator invocation. Model names the primary
// candidate; empty means the registry default.
type GenerateRequest struct {
	RequestType string        `json:"requestType,omitempty"`
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"maxTokens,omitempty"`
}

// GenerationRecorder persists an audit row per invocation.
type GenerationRecorder interface {
	RecordGeneration(ctx context.Context, entry *models.GenerationLog) error
}

// OrchestratorStats is a snapshot of the invocation counters
type OrchestratorStats struct {
	Invocations   int64 `json:"invocations"`
	Successes     int64 `json:"successes"`
	Exhausted     int64 `json:"exhausted"`
	Canceled      int64 `json:"canceled"`
	FallbacksUsed int64 `json:"fallbacksUsed"`
	Attempts      int64 `json:"attempts"`
}

// Orchestrator tries fallback candidates strictly in order until one
// returns content.
type Orchestrator struct {
	registry       *Registry
	attemptTimeout time.Duration
	probeTimeout   time.Duration
	recorder       GenerationRecorder
	logger         *zap.Logger
	now            func() time.Time

	invocations atomic.Int64
	successes   atomic.Int64
	exhausted   atomic.Int64
	canceled    atomic.Int64
	fallbacks   atomic.Int64
	attempts    atomic.Int64
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithAttemptTimeout bounds every candidate attempt.
func WithAttemptTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithProbeTimeout bounds every health probe.
func WithProbeTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithRecorder sets the audit sink.
func WithRecorder(r GenerationRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithOrchestratorLogger sets the logger
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator over registry
func NewOrchestrator(registry *Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		attemptTimeout: defaultAttemptTimeout,
		probeTimeout:   defaultProbeTimeout,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the model table the orchestrator draws from.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Generate runs the fallback loop. It never panics on provider failure and
// always returns a result; failures carry a typed Err.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) models.LLMResult {
	start := o.now()
	o.invocations.Inc()

	result, primary := o.generate(ctx, req)
	o.finish(ctx, req, primary, result, start)
	return result
}

func (o *Orchestrator) generate(ctx context.Context, req GenerateRequest) (models.LLMResult, string) {
	if len(req.Messages) == 0 {
		return models.Failure(models.Validation("engine.generate", "messages are required")), req.Model
	}
	candidates, err := o.registry.Candidates(req.Model)
	if err != nil {
		return models.Failure(err), req.Model
	}
	primary := candidates[0].ID

	chat := &ChatRequest{
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var (
		attempts []models.Attempt
		failures []models.AttemptFailure
	)
	for i, model := range candidates {
		if err := ctx.Err(); err != nil {
			return o.canceledResult(err, attempts), primary
		}

		started := o.now()
		completion, err := o.attempt(ctx, model, chat, o.attemptTimeout)
		elapsed := o.now().Sub(started)
		o.attempts.Inc()
		llmAttemptDuration.WithLabelValues(model.ID).Observe(elapsed.Seconds())

		if err == nil {
			llmAttempts.WithLabelValues(model.ID, "success").Inc()
			attempts = append(attempts, models.Attempt{
				Model:      model.ID,
				Kind:       "success",
				DurationMs: elapsed.Milliseconds(),
			})
			if i > 0 {
				o.fallbacks.Inc()
				o.logger.Info("generation served by fallback model",
					zap.String("request_type", req.RequestType),
					zap.String("primary", primary),
					zap.String("model", model.ID),
					zap.Int("attempt", i+1))
			}
			return models.LLMResult{
				Success:   true,
				Content:   completion.Content,
				ModelUsed: model.ID,
				Attempts:  attempts,
			}, primary
		}

		kind := classifyError(err)
		llmAttempts.WithLabelValues(model.ID, kind).Inc()
		attempts = append(attempts, models.Attempt{
			Model:      model.ID,
			Kind:       kind,
			Error:      err.Error(),
			DurationMs: elapsed.Milliseconds(),
		})

		// Caller went away; do not spend quota on the remaining candidates.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.canceledResult(ctxErr, attempts), primary
		}

		fields := []zap.Field{
			zap.String("request_type", req.RequestType),
			zap.String("model", model.ID),
			zap.String("kind", kind),
			zap.Int("attempt", i+1),
			zap.Int("candidates", len(candidates)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		}
		if isTransientKind(kind) {
			o.logger.Warn("provider attempt failed", append(fields, zap.Bool("retryable", true))...)
			err = models.Transient("engine."+model.ID, err)
		} else {
			o.logger.Error("provider attempt failed", append(fields, zap.Bool("retryable", false))...)
		}
		failures = append(failures, models.AttemptFailure{Model: model.ID, Kind: kind, Err: err})
	}

	exhausted := &models.ExhaustionError{Attempts: failures}
	o.logger.Error("all fallback candidates failed",
		zap.String("request_type", req.RequestType),
		zap.Strings("models", exhausted.Models()))

	result := models.Failure(exhausted)
	result.Attempts = attempts
	return result, primary
}

// attempt invokes one candidate under its own deadline. The adapter runs in
// a goroutine so an adapter that ignores ctx still cannot stall the chain.
func (o *Orchestrator) attempt(ctx context.Context, model ModelSpec, req *ChatRequest, timeout time.Duration) (*Completion, error) {
	adapter, ok := o.registry.Adapter(model.Provider)
	if !ok {
		return nil, models.Configurationf("engine.attempt", "no adapter for provider %s", model.Provider)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if limiter := o.registry.Limiter(model.Provider); limiter != nil {
		if err := limiter.Wait(attemptCtx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", errRateLimited, err)
		}
	}

	type outcome struct {
		completion *Completion
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		c, err := adapter.Invoke(attemptCtx, model, req)
		done <- outcome{c, err}
	}()

	select {
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.completion == nil || strings.TrimSpace(out.completion.Content) == "" {
			return nil, errEmptyResponse
		}
		return out.completion, nil
	}
}

func (o *Orchestrator) canceledResult(err error, attempts []models.Attempt) models.LLMResult {
	o.logger.Info("generation canceled by caller", zap.Int("attempts", len(attempts)), zap.Error(err))
	result := models.Failure(fmt.Errorf("generation canceled after %d attempts: %w", len(attempts), err))
	result.Attempts = attempts
	return result
}

func (o *Orchestrator) finish(ctx context.Context, req GenerateRequest, primary string, result models.LLMResult, start time.Time) {
	outcome := "success"
	switch {
	case result.Success:
		o.successes.Inc()
	case errors.Is(result.Err, models.ErrExhausted):
		outcome = "exhausted"
		o.exhausted.Inc()
	case errors.Is(result.Err, context.Canceled), errors.Is(result.Err, context.DeadlineExceeded):
		outcome = "canceled"
		o.canceled.Inc()
	default:
		outcome = "invalid"
	}
	requestType := req.RequestType
	if requestType == "" {
		requestType = "direct"
	}
	llmGenerations.WithLabelValues(requestType, outcome).Inc()

	if o.recorder == nil {
		return
	}
	attempts, err := json.Marshal(result.Attempts)
	if err != nil {
		attempts = []byte("[]")
	}
	entry := &models.GenerationLog{
		RequestType:  requestType,
		PrimaryModel: primary,
		ModelUsed:    result.ModelUsed,
		Success:      result.Success,
		AttemptCount: len(result.Attempts),
		Attempts:     string(attempts),
		Error:        result.Error,
		DurationMs:   o.now().Sub(start).Milliseconds(),
		CreatedAt:    start,
	}

	// Audit writes survive caller cancellation.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.recorder.RecordGeneration(recCtx, entry); err != nil {
		o.logger.Warn("failed to record generation", zap.Error(err))
	}
}

// Stats returns a snapshot of the counters
func (o *Orchestrator) Stats() OrchestratorStats {
	return OrchestratorStats{
		Invocations:   o.invocations.Load(),
		Successes:     o.successes.Load(),
		Exhausted:     o.exhausted.Load(),
		Canceled:      o.canceled.Load(),
		FallbacksUsed: o.fallbacks.Load(),
		Attempts:      o.attempts.Load(),
	}
}
