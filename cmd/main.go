package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/engine"
	"Orion-Core/server/internal/logging"
	"Orion-Core/server/internal/prompts"
	"Orion-Core/server/internal/rag"
	"Orion-Core/server/internal/storage"
	"Orion-Core/server/internal/web"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := web.Deps{
		Logger:      logger,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}

	// Initialize storage connections
	var redisStore *storage.RedisStore
	if cfg.Database.Redis.Enabled {
		rs, err := storage.NewRedisStore(cfg.Database.Redis, logger.Named("redis"))
		if err != nil {
			logger.Warn("redis unavailable, continuing without shared cache and health history", zap.Error(err))
		} else {
			defer rs.Close()
			redisStore = rs
			deps.Health = rs
			logger.Info("redis connected")
		}
	}

	var recorder engine.GenerationRecorder
	if cfg.Database.MySQL.Enabled {
		mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL)
		if err != nil {
			logger.Warn("mysql unavailable, generation audit disabled", zap.Error(err))
		} else {
			defer mysqlStore.Close()
			recorder = mysqlStore
			deps.Generations = mysqlStore
			logger.Info("mysql connected")
		}
	}

	// Memory: embedder -> vector store -> memory service
	provider, err := rag.NewEmbeddingProvider(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	if c, ok := provider.(io.Closer); ok {
		defer c.Close()
	}

	embedOpts := rag.EmbeddingOptions{
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		RetryDelay: cfg.Embedding.RetryDelay,
		CacheTTL:   cfg.Embedding.CacheTTL,
		CacheSize:  cfg.Embedding.CacheSize,
		Logger:     logger.Named("embedding"),
	}
	if redisStore != nil {
		embedOpts.Remote = redisStore
	}
	embedder := rag.NewEmbeddingService(provider, embedOpts)

	backend, err := newBackend(ctx, cfg.VectorStore, logger)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	gateway := rag.NewGateway(backend, cfg.VectorStore.VectorSize,
		rag.WithVerifyWrites(cfg.VectorStore.VerifyWrites),
		rag.WithGatewayLogger(logger.Named("vectorstore")),
	)
	defer gateway.Close()

	memory := rag.NewMemoryService(embedder, gateway, cfg.Memory, logger.Named("memory"))
	initCtx, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	err = memory.Init(initCtx)
	cancelInit()
	if err != nil {
		return err
	}
	deps.Memory = memory

	// Generation: registry -> orchestrator -> router
	registry, err := engine.NewRegistry(ctx, cfg.LLM, engine.WithRegistryLogger(logger.Named("registry")))
	if err != nil {
		return err
	}

	orchOpts := []engine.OrchestratorOption{
		engine.WithAttemptTimeout(cfg.LLM.AttemptTimeout),
		engine.WithProbeTimeout(cfg.LLM.ProbeTimeout),
		engine.WithOrchestratorLogger(logger.Named("llm")),
	}
	if recorder != nil {
		orchOpts = append(orchOpts, engine.WithRecorder(recorder))
	}
	orchestrator := engine.NewOrchestrator(registry, orchOpts...)
	deps.LLM = orchestrator

	templates := prompts.NewTemplateEngine()
	if err := templates.InitializeDefaultTemplates(); err != nil {
		return fmt.Errorf("prompt templates: %w", err)
	}
	if cfg.LLM.PromptDir != "" {
		n, err := templates.LoadOverrides(cfg.LLM.PromptDir)
		if err != nil {
			return fmt.Errorf("prompt overrides: %w", err)
		}
		logger.Info("prompt overrides loaded", zap.String("dir", cfg.LLM.PromptDir), zap.Int("templates", n))
	}
	deps.Templates = templates

	routeOpts, err := engine.ConfiguredRoutes(engine.DefaultRoutes(templates), cfg.LLM.Routes)
	if err != nil {
		return err
	}
	deps.Router = engine.NewRouter(orchestrator, templates, append([]engine.RouterOption{
		engine.WithMemoryLookup(memory.RelevantTexts),
		engine.WithRouterLogger(logger.Named("router")),
	}, routeOpts...)...)

	logger.Info("generation ready",
		zap.String("default_model", registry.DefaultModel()),
		zap.Int("models", len(registry.Models())),
	)

	// Provider health stream
	hub := web.NewStatusHub(logger)
	go hub.Run(ctx)
	deps.Hub = hub

	monitor := web.NewHealthMonitor(orchestrator, deps.Health, hub, cfg.LLM.HealthInterval, logger)
	go monitor.Run(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      web.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newBackend(ctx context.Context, cfg config.VectorStoreConfig, logger *zap.Logger) (rag.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "qdrant":
		b, err := rag.NewQdrantBackend(ctx, cfg.Qdrant, logger.Named("qdrant"))
		if err != nil {
			return nil, err
		}
		return b, nil
	case "chromem":
		b, err := rag.NewChromemBackend(cfg.Chromem, logger.Named("chromem"))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported vector store backend %q", cfg.Backend)
	}
}
