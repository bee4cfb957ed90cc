package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fenwick-labs/agentengine/adapter"
	"github.com/fenwick-labs/agentengine/config"
	memctx "github.com/fenwick-labs/agentengine/context"
	"github.com/fenwick-labs/agentengine/dispatcher"
	"github.com/fenwick-labs/agentengine/lifecycle"
	"github.com/fenwick-labs/agentengine/llm"
	"github.com/fenwick-labs/agentengine/loop"
	"github.com/fenwick-labs/agentengine/memory"
	"github.com/fenwick-labs/agentengine/metrics"
	"github.com/fenwick-labs/agentengine/monitor"
	"github.com/fenwick-labs/agentengine/registry"
	"github.com/fenwick-labs/agentengine/resolver"
	"github.com/fenwick-labs/agentengine/tools"
	"github.com/fenwick-labs/agentengine/transport"
)

// ServeCmd starts the HTTP/SSE server.
type ServeCmd struct {
	Config  string `short:"c" help:"Path to config file." type:"path"`
	Metrics bool   `help:"Expose Prometheus metrics at GET /metrics."`
}

func (c *ServeCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	if missing := config.RequireAPIKeys(cfg); len(missing) > 0 {
		return fmt.Errorf("missing API key(s) for provider(s): %v", missing)
	}

	logger := newLogger(cfg.Global.Logging)

	providers, err := buildProviderRegistry(cfg)
	if err != nil {
		return err
	}

	eng := buildEngine(cfg, providers)

	var m *metrics.Metrics
	if c.Metrics {
		m = metrics.New(&metrics.Config{Enabled: true})
	}

	srv := transport.NewServer(eng.Loop, providers, m, eng.Config)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = httpServer.Close()
	}()

	logger.Info("engine server ready", "address", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildProviderRegistry resolves every configured LLM entry to a
// registered llm.Provider. Only the "mock" provider name is backed by
// a concrete implementation in this module; any other provider name
// is expected to be registered by an embedding program that links in
// its own llm.Provider (spec's domain-backend boundary — see the
// `llm` package).
func buildProviderRegistry(cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	for name, settings := range cfg.LLMs {
		switch settings.Provider {
		case "", "mock":
			if err := reg.RegisterProvider(name, llm.NewMockProvider(settings.Model)); err != nil {
				return nil, fmt.Errorf("failed to register provider %q: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("provider %q is not built into this binary; embed the engine as a library and register a concrete llm.Provider instead", settings.Provider)
		}
	}
	if _, ok := reg.Default(); !ok {
		for name := range cfg.LLMs {
			_ = reg.SetDefault(name)
			break
		}
	}
	return reg, nil
}

// engine bundles a fully wired Loop with the baseline loop.Config
// every call (HTTP or CLI) derives its per-request Config from.
type engine struct {
	Loop   *loop.Loop
	Config loop.Config
}

// buildEngine wires the full canonical tool surface (spec §4.7)
// against an in-process mock/local Action Adapter (SPEC_FULL.md's
// "CLI run command ... against a mock/local adapter"), the Context
// Manager, the Tool-Result Lifecycle, and a one-alias resource
// registry, so every module the rest of the tree implements is
// actually reachable from `engine run`/`engine serve` and not just
// from tests.
func buildEngine(cfg *config.Config, providers *llm.Registry) *engine {
	toolRegistry := registry.NewBaseRegistry[tools.Definition]()

	backend := newMockBackend()
	backendAdapter := adapter.NewCircuitBreakingAdapter(backend, adapter.CircuitBreakerConfig{
		FailureThreshold: cfg.Engine.Breaker.FailureThreshold,
		OpenDuration:     cfg.Engine.Breaker.OpenDuration,
	})

	mem := newMemoryStore()
	plans := newPlanStore()

	var provider llm.Provider
	if def, ok := providers.Default(); ok {
		provider = def
	}

	d := dispatcher.New(toolRegistry, dispatcher.Hooks{}, nil)
	mon := monitor.New(cfg.Engine.Monitor.HistoryCap, cfg.Engine.Monitor.LoopThreshold)

	_ = toolRegistry.Register(tools.NameAgentClarify, tools.NewAgentClarify())
	_ = toolRegistry.Register(tools.NameContextRead, tools.NewContextRead(mem))
	_ = toolRegistry.Register(tools.NameContextWrite, tools.NewContextWrite(mem))
	_ = toolRegistry.Register(tools.NameContextSearch, tools.NewContextSearch(mem))
	_ = toolRegistry.Register(tools.NameTaskExecute, tools.NewTaskExecute(&adapterExecutor{adapter: backendAdapter}))
	_ = toolRegistry.Register(tools.NameStateSnapshot, tools.NewStateSnapshot(&adapterSnapshotter{adapter: backendAdapter}))
	_ = toolRegistry.Register(tools.NameAgentPlan, tools.NewAgentPlan(plans))
	_ = toolRegistry.Register(tools.NameAgentDelegate, tools.NewAgentDelegate(&subLoopDelegator{
		provider:      provider,
		dispatcher:    d,
		monitor:       mon,
		maxIterations: cfg.Engine.MaxIterations,
		maxErrors:     cfg.Engine.MaxErrors,
	}))

	lc := lifecycle.NewManager(lifecycleThresholds(cfg.Engine.Lifecycle))

	ctxMgr := memctx.NewManager(memctx.ManagerOptions{
		TotalBudget: cfg.Engine.TotalTokenBudget,
		Allocate:    memory.AsContextAllocator(),
		Compress:    memory.AsContextCompressor(memory.CompressOptions{}),
	})

	resources := resolver.NewRegistry()
	_ = resources.Register("page", resolver.Definition{
		Name: "page",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			aw, err := backendAdapter.GetAwareness(ctx, adapter.AwarenessOptions{IncludeSkeleton: true})
			if err != nil {
				return "", err
			}
			return aw.Skeleton, nil
		},
	})

	l := &loop.Loop{
		Context:    ctxMgr,
		Provider:   provider,
		Dispatcher: d,
		Adapter:    backendAdapter,
		Monitor:    mon,
		Lifecycle:  lc,
	}

	cfgOut := loop.Config{
		MaxIterations:      cfg.Engine.MaxIterations,
		MaxErrors:          cfg.Engine.MaxErrors,
		CheckpointInterval: cfg.Engine.CheckpointInterval,
		MutatingTools: map[string]bool{
			tools.NameContextWrite: true,
			tools.NameTaskExecute:  true,
			tools.NameAgentPlan:    true,
		},
		ResourceRegistry: resources,
		ResolverOptions:  resolver.DefaultOptions(),
	}

	return &engine{Loop: l, Config: cfgOut}
}

// lifecycleThresholds maps the YAML-facing LifecycleSettings onto the
// lifecycle package's Thresholds shape.
func lifecycleThresholds(s config.LifecycleSettings) lifecycle.Thresholds {
	t := lifecycle.DefaultThresholds()
	if s.RecentAtTurns > 0 {
		t.RecentAt = s.RecentAtTurns
	}
	if s.ArchivedAtTurns > 0 {
		t.ArchivedAt = s.ArchivedAtTurns
	}
	if s.EvictedAtTurns > 0 {
		t.EvictedAt = s.EvictedAtTurns
	}
	if s.ImmediateMaxTokens > 0 {
		t.ImmediateMaxTokens = s.ImmediateMaxTokens
	}
	if s.RecentMaxTokens > 0 {
		t.RecentMaxTokens = s.RecentMaxTokens
	}
	if s.ArchivedMaxTokens > 0 {
		t.ArchivedMaxTokens = s.ArchivedMaxTokens
	}
	return t
}
