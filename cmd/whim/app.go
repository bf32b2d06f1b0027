package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nugget/whim-agent/internal/agent"
	"github.com/nugget/whim-agent/internal/budget"
	"github.com/nugget/whim-agent/internal/config"
	"github.com/nugget/whim-agent/internal/facts"
	"github.com/nugget/whim-agent/internal/fetch"
	"github.com/nugget/whim-agent/internal/httpkit"
	"github.com/nugget/whim-agent/internal/llm"
	"github.com/nugget/whim-agent/internal/metrics"
	"github.com/nugget/whim-agent/internal/search"
	"github.com/nugget/whim-agent/internal/tools"
)

// app is the wired set of components shared by serve and ask.
type app struct {
	metrics *metrics.Metrics
	chain   *fetch.Chain
	router  *llm.TierRouter
	loop    *agent.Loop
	facts   *facts.Store
}

// newApp builds every component from cfg. withMetrics registers
// Prometheus collectors, which only a long-running server exposes.
func newApp(cfg *config.Config, logger *slog.Logger, withMetrics bool) (*app, error) {
	a := &app{}
	if withMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.New(reg)
	}

	router, err := newRouter(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.router = router

	a.chain = newFetchChain(cfg, logger, a.metrics)
	results := tools.NewResultStore(cfg.Results.TTL, logger)

	registry := tools.NewRegistry()
	registry.Register(fetch.NewTool(a.chain))
	registry.Register(tools.NewRecallTool(results))

	if cfg.SearchConfigured() {
		registry.Register(search.NewTool(newSearch(cfg, logger)))
	} else {
		logger.Info("web search disabled (no provider configured)")
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := facts.NewStore(filepath.Join(cfg.DataDir, "facts.db"))
		if err != nil {
			return nil, fmt.Errorf("open fact store: %w", err)
		}
		a.facts = store
		facts.RegisterTools(registry, store)
	}

	mgr, err := budget.NewManager(budget.NewContextBudget(cfg.Context.TotalTokens), results, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	mgr.SetHistoryLimit(cfg.Agent.HistoryLimit)

	executor := tools.NewExecutor(registry, logger)
	executor.SetMaxParallel(cfg.Agent.MaxParallelTools)
	executor.SetMetrics(a.metrics)

	reasoner := agent.NewLLMReasoner(router, router, logger)
	reasoner.SetPrices(cfg.Prices())

	a.loop = agent.NewLoop(reasoner, executor, mgr, logger)
	a.loop.SetMetrics(a.metrics)
	if cfg.Agent.SystemPrompt != "" {
		a.loop.SetSystemPrompt(cfg.Agent.SystemPrompt)
	}

	logger.Info("agent ready",
		"tools", registry.Names(),
		"main_model", router.ModelFor(llm.TierMain),
		"pro_model", router.ModelFor(llm.TierPro),
		"context", budget.NewContextBudget(cfg.Context.TotalTokens).String(),
	)
	return a, nil
}

// Close releases the fact database.
func (a *app) Close() error {
	if a.facts != nil {
		return a.facts.Close()
	}
	return nil
}

// newRouter creates a client for each provider that a configured model
// uses and maps tiers to models.
func newRouter(cfg *config.Config, logger *slog.Logger) (*llm.TierRouter, error) {
	router := llm.NewTierRouter(nil, logger)

	added := map[string]bool{}
	for _, m := range cfg.Models.Available {
		if !added[m.Provider] {
			switch m.Provider {
			case "anthropic":
				if cfg.Anthropic.APIKey == "" {
					return nil, errors.New("anthropic.api_key is required by the configured models")
				}
				router.AddProvider(m.Provider, llm.NewAnthropicClient(llm.AnthropicConfig{
					APIKey:    cfg.Anthropic.APIKey,
					URL:       cfg.Anthropic.URL,
					MaxTokens: cfg.Anthropic.MaxTokens,
				}, logger))
			case "openai":
				router.AddProvider(m.Provider, llm.NewOpenAIClient(llm.OpenAIConfig{
					APIKey:    cfg.OpenAI.APIKey,
					BaseURL:   cfg.OpenAI.BaseURL,
					MaxTokens: cfg.OpenAI.MaxTokens,
				}, logger))
			}
			added[m.Provider] = true
		}
		router.AddModel(m.Name, m.Provider)
	}

	router.SetTier(llm.TierMain, cfg.Models.Main)
	if cfg.Models.Pro != "" {
		router.SetTier(llm.TierPro, cfg.Models.Pro)
	}
	return router, nil
}

// newFetchChain builds direct, reader and archive tiers in that order,
// skipping the ones the config disables.
func newFetchChain(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *fetch.Chain {
	directOpts := []httpkit.ClientOption{httpkit.WithMaxRedirects(cfg.Fetch.MaxRedirects)}
	if cfg.Fetch.UserAgent != "" {
		directOpts = append(directOpts, httpkit.WithUserAgent(cfg.Fetch.UserAgent))
	}
	providers := []fetch.Provider{fetch.NewDirectProvider(cfg.Fetch.DirectTimeout, directOpts...)}
	if !cfg.Fetch.Reader.Disabled {
		providers = append(providers, fetch.NewReaderProvider(fetch.ReaderConfig{
			BaseURL: cfg.Fetch.Reader.URL,
			APIKey:  cfg.Fetch.Reader.APIKey,
			RPM:     cfg.Fetch.Reader.RPM,
			Timeout: cfg.Fetch.Reader.Timeout,
		}))
	}
	if !cfg.Fetch.Archive.Disabled {
		providers = append(providers, fetch.NewArchiveProvider(fetch.ArchiveConfig{
			AvailabilityURL: cfg.Fetch.Archive.AvailabilityURL,
			SnapshotURL:     cfg.Fetch.Archive.SnapshotURL,
			Timeout:         cfg.Fetch.Archive.Timeout,
		}))
	}

	chain := fetch.NewChain(fetch.NewCache(cfg.Fetch.CacheSize, cfg.Fetch.CacheTTL), logger, providers...)
	chain.SetMetrics(m)
	return chain
}

func newSearch(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Primary, logger)
	if cfg.Search.SearXNG.URL != "" {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	if cfg.Search.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey, cfg.Search.Brave.URL))
	}
	return mgr
}

// askInput is the input for a one-shot CLI question.
func askInput(question string) agent.Input {
	return agent.Input{
		Message:        question,
		UserID:         "cli",
		ConversationID: "cli",
		UserSettings:   &agent.UserSettings{WebSearchEnabled: true},
	}
}
