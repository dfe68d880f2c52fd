package main

import (
	"context"
	"fmt"
	"time"

	"orchid/internal/capability"
	"orchid/internal/capability/builtin"
	"orchid/internal/config"
	"orchid/internal/delegate"
	"orchid/internal/engine"
	"orchid/internal/engine/ports"
	"orchid/internal/executor"
	"orchid/internal/llm"
	"orchid/internal/logging"
	"orchid/internal/memory"
	"orchid/internal/observability"
	"orchid/internal/runlog"
	"orchid/internal/server"
)

// runtime is the fully wired application: the run service plus everything it
// owns that needs shutting down.
type runtime struct {
	cfg     *config.Config
	service *engine.Service
	metrics *observability.Collector
	tracer  *observability.TracerProvider
	runLog  *runlog.FileLog
	store   *memory.Store
	logger  logging.Logger
}

// buildRuntime wires the application from configuration.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	logger := logging.NewComponentLogger("orchid")

	metrics := observability.NewCollector(logging.NewComponentLogger("metrics"))
	tracer, err := observability.NewTracerProvider(cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var store *memory.Store
	if cfg.Memory.Enabled {
		store, err = memory.New(memory.Options{PersistPath: cfg.Memory.Path},
			logging.NewComponentLogger("memory"))
		if err != nil {
			return nil, fmt.Errorf("open reflection store: %w", err)
		}
	}

	runLog, err := runlog.NewFileLog(cfg.RunLog.Dir, logging.NewComponentLogger("runlog"))
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	registry := capability.NewRegistry(logging.NewComponentLogger("registry"))
	builtinIDs, err := registerBuiltins(registry, cfg, store)
	if err != nil {
		return nil, err
	}
	if err := loadCatalogs(registry, cfg, logger); err != nil {
		return nil, err
	}
	directory, err := capability.NewDirectory(registry, builtinIDs, logging.NewComponentLogger("directory"))
	if err != nil {
		return nil, fmt.Errorf("build capability directory: %w", err)
	}

	client := llm.NewInstrumentedClient(llm.NewGateway(gatewayConfig(cfg), logging.NewComponentLogger("llm")), metrics)

	delegator := delegate.New(cfg.Delegation.MaxDepth, cfg.Delegation.Timeout,
		logging.NewComponentLogger("delegate"))
	exec := executor.New(delegator, cfg.Engine.StepTimeout, cfg.Engine.MaxParallel,
		logging.NewComponentLogger("executor"))

	var reflections ports.ReflectionStore
	if store != nil {
		reflections = store
	}
	service := engine.NewService(engine.Options{
		MaxReplans:       cfg.Engine.MaxReplans,
		MaxIterations:    cfg.Engine.MaxIterations,
		MaxHistoryTokens: cfg.Engine.MaxHistoryTokens,
		RunTimeout:       cfg.Engine.RunTimeout,
	}, engine.Dependencies{
		Directory: directory,
		Executor:  exec,
		LLM:       client,
		RunLog:    runLog,
		Memory:    reflections,
		Metrics:   metrics,
		Tracer:    tracer,
		Logger:    logging.NewComponentLogger("engine"),
		Listener:  observability.NewEventRecorder(metrics, builtin.CodeExecuteID),
	})
	delegator.Bind(service.Run)

	return &runtime{
		cfg:     cfg,
		service: service,
		metrics: metrics,
		tracer:  tracer,
		runLog:  runLog,
		store:   store,
		logger:  logger,
	}, nil
}

func registerBuiltins(registry *capability.Registry, cfg *config.Config, store *memory.Store) ([]string, error) {
	tools := []ports.Tool{
		builtin.NewCodeExecute(cfg.Sandbox, logging.NewComponentLogger("sandbox")),
		builtin.NewWebFetch(logging.NewComponentLogger("webfetch")),
	}
	if store != nil {
		tools = append(tools, builtin.NewMemorySearch(store, logging.NewComponentLogger("memsearch")))
	}

	ids := make([]string, 0, len(tools))
	for _, tool := range tools {
		if err := registry.RegisterTool(tool); err != nil {
			return nil, fmt.Errorf("register builtin %s: %w", tool.Descriptor().ID, err)
		}
		ids = append(ids, tool.Descriptor().ID)
	}
	return ids, nil
}

func loadCatalogs(registry *capability.Registry, cfg *config.Config, logger logging.Logger) error {
	if cfg.Catalog.SkillsFile != "" {
		n, err := capability.LoadSkillsFile(registry, cfg.Catalog.SkillsFile)
		if err != nil {
			return err
		}
		logger.Info("loaded %d skills from %s", n, cfg.Catalog.SkillsFile)
	}
	if cfg.Catalog.AgentsFile != "" {
		n, err := capability.LoadAgentsFile(registry, cfg.Catalog.AgentsFile)
		if err != nil {
			return err
		}
		logger.Info("loaded %d agents from %s", n, cfg.Catalog.AgentsFile)
	}
	return nil
}

func gatewayConfig(cfg *config.Config) llm.GatewayConfig {
	gateway := llm.GatewayConfig{
		Primary: llm.Options{
			BaseURL: cfg.LLM.Primary.BaseURL,
			APIKey:  cfg.LLM.Primary.APIKey,
			Model:   cfg.LLM.Primary.Model,
			Timeout: cfg.LLM.Primary.Timeout,
		},
		Retry:   cfg.LLM.Retry,
		Breaker: cfg.LLM.Breaker,
	}
	if cfg.LLM.Fallback.Model != "" {
		gateway.Fallback = &llm.Options{
			BaseURL: cfg.LLM.Fallback.BaseURL,
			APIKey:  cfg.LLM.Fallback.APIKey,
			Model:   cfg.LLM.Fallback.Model,
			Timeout: cfg.LLM.Fallback.Timeout,
		}
	}
	return gateway
}

// newServer builds the HTTP surface on top of the runtime.
func (r *runtime) newServer() *server.Server {
	return server.New(r.service, server.Options{
		Config:  r.cfg.Server,
		Metrics: r.metrics,
		Logger:  logging.NewComponentLogger("server"),
	})
}

// close releases everything the runtime owns. Called once on shutdown.
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.runLog.Close(); err != nil {
		r.logger.Warn("closing run log: %v", err)
	}
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.logger.Warn("shutting down tracer: %v", err)
	}
	if err := r.metrics.Shutdown(ctx); err != nil {
		r.logger.Warn("shutting down metrics server: %v", err)
	}
}
