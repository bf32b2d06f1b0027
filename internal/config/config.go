// Package config handles Whim configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/whim-agent/internal/agent"
	"github.com/nugget/whim-agent/internal/budget"
	"github.com/nugget/whim-agent/internal/httpkit"
	"github.com/nugget/whim-agent/internal/llm"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/whim/config.yaml, /etc/whim/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "whim", "config.yaml"))
	}

	paths = append(paths, "/etc/whim/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Whim configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
	DataDir   string          `yaml:"data_dir"`
	Agent     AgentConfig     `yaml:"agent"`
	Models    ModelsConfig    `yaml:"models"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Search    SearchConfig    `yaml:"search"`
	Context   ContextConfig   `yaml:"context"`
	Results   ResultsConfig   `yaml:"results"`

	// Pricing adds to or overrides the built-in model price table.
	Pricing map[string]llm.Price `yaml:"pricing"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AgentConfig holds the run defaults applied when a request does not
// override them.
type AgentConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Style         string  `yaml:"style"` // tool_first, balanced, direct
	CostBudget    float64 `yaml:"cost_budget"`
	ModelTier     string  `yaml:"model_tier"`
	SystemPrompt  string  `yaml:"system_prompt"`

	// MaxParallelTools bounds concurrent tool calls within one
	// iteration. Zero means unbounded.
	MaxParallelTools int `yaml:"max_parallel_tools"`

	// HistoryLimit caps how many prior conversation messages reach the
	// prompt.
	HistoryLimit int `yaml:"history_limit"`
}

// RunConfig converts the defaults into an agent.Config.
func (a AgentConfig) RunConfig() agent.Config {
	return agent.Config{
		MaxIterations: a.MaxIterations,
		Style:         agent.Style(a.Style),
		CostBudget:    a.CostBudget,
		ModelTier:     a.ModelTier,
	}
}

// ModelsConfig maps tiers to models and models to providers.
type ModelsConfig struct {
	Main      string        `yaml:"main"`
	Pro       string        `yaml:"pro"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig names one model and the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // anthropic or openai
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	URL       string `yaml:"url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// OpenAIConfig defines settings for an OpenAI-compatible endpoint.
// BaseURL may point at a local server (llama.cpp, vLLM, Ollama).
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// FetchConfig configures the page fetch chain and its cache.
type FetchConfig struct {
	DirectTimeout time.Duration `yaml:"direct_timeout"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	Reader        ReaderConfig  `yaml:"reader"`
	Archive       ArchiveConfig `yaml:"archive"`

	// UserAgent replaces the browser User-Agent of the direct tier.
	UserAgent    string `yaml:"user_agent"`
	// MaxRedirects caps redirects on direct fetches; 0 follows none.
	MaxRedirects int    `yaml:"max_redirects"`
}

// ReaderConfig configures the rendering-service tier.
type ReaderConfig struct {
	Disabled bool          `yaml:"disabled"`
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key"`
	RPM      int           `yaml:"rpm"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures the Wayback Machine tier.
type ArchiveConfig struct {
	Disabled        bool          `yaml:"disabled"`
	AvailabilityURL string        `yaml:"availability_url"`
	SnapshotURL     string        `yaml:"snapshot_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SearchConfig configures web search providers. No provider configured
// means the web_search tool is not registered.
type SearchConfig struct {
	Primary string        `yaml:"primary"`
	SearXNG SearXNGConfig `yaml:"searxng"`
	Brave   BraveConfig   `yaml:"brave"`
}

// SearXNGConfig points at a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// BraveConfig holds Brave Search API credentials.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
}

// ContextConfig sizes the model context budget.
type ContextConfig struct {
	TotalTokens int `yaml:"total_tokens"`
}

// ResultsConfig configures the temporary store for large tool outputs.
type ResultsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Load reads configuration from a YAML file. Values not present in the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
// Environment variables in the document are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	run := agent.DefaultConfig()
	return &Config{
		Listen:    ListenConfig{Port: 8080},
		LogLevel:  "info",
		LogFormat: "text",
		DataDir:   "./data",
		Agent: AgentConfig{
			MaxIterations: run.MaxIterations,
			Style:         string(run.Style),
			CostBudget:    run.CostBudget,
			ModelTier:     run.ModelTier,
			HistoryLimit:  20,
		},
		Models: ModelsConfig{
			Main: "claude-sonnet-4-20250514",
			Pro:  "claude-opus-4-20250514",
			Available: []ModelConfig{
				{Name: "claude-sonnet-4-20250514", Provider: "anthropic"},
				{Name: "claude-opus-4-20250514", Provider: "anthropic"},
			},
		},
		Fetch: FetchConfig{
			DirectTimeout: 10 * time.Second,
			CacheSize:     500,
			CacheTTL:      time.Hour,
			MaxRedirects:  httpkit.DefaultMaxRedirects,
		},
		Context: ContextConfig{TotalTokens: budget.DefaultTotalTokens},
		Results: ResultsConfig{TTL: 30 * time.Minute},
	}
}

// Validate reports every configuration problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive (got %d)", c.Agent.MaxIterations))
	}
	if c.Agent.CostBudget < 0 {
		errs = append(errs, fmt.Errorf("agent.cost_budget must not be negative (got %g)", c.Agent.CostBudget))
	}
	if _, err := agent.ParseStyle(c.Agent.Style); err != nil {
		errs = append(errs, fmt.Errorf("agent.style: %w", err))
	}

	providers := map[string]bool{}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "anthropic", "openai":
			providers[m.Provider] = true
		default:
			errs = append(errs, fmt.Errorf("models.available: %s has unknown provider %q", m.Name, m.Provider))
		}
	}
	if c.Models.Main == "" {
		errs = append(errs, errors.New("models.main is required"))
	}
	for tier, model := range map[string]string{"main": c.Models.Main, "pro": c.Models.Pro} {
		if model != "" && !slices.ContainsFunc(c.Models.Available, func(m ModelConfig) bool { return m.Name == model }) {
			errs = append(errs, fmt.Errorf("models.%s: %s is not listed in models.available", tier, model))
		}
	}
	if providers["openai"] && c.OpenAI.BaseURL == "" && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai: api_key or base_url is required when a model uses it"))
	}

	if c.Context.TotalTokens <= 0 {
		errs = append(errs, fmt.Errorf("context.total_tokens must be positive (got %d)", c.Context.TotalTokens))
	} else if err := budget.NewContextBudget(c.Context.TotalTokens).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("context.total_tokens: %w", err))
	}
	if c.Fetch.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("fetch.cache_size must not be negative (got %d)", c.Fetch.CacheSize))
	}
	if c.Fetch.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("fetch.max_redirects must not be negative (got %d)", c.Fetch.MaxRedirects))
	}
	if c.Search.Primary != "" && c.Search.Primary != "searxng" && c.Search.Primary != "brave" {
		errs = append(errs, fmt.Errorf("search.primary %q must be searxng or brave", c.Search.Primary))
	}

	return errors.Join(errs...)
}

// SearchConfigured reports whether any search provider has settings.
func (c *Config) SearchConfigured() bool {
	return c.Search.SearXNG.URL != "" || c.Search.Brave.APIKey != ""
}

// Prices returns the built-in price table with Pricing applied on top.
func (c *Config) Prices() llm.PriceTable {
	out := make(llm.PriceTable, len(llm.DefaultPrices)+len(c.Pricing))
	for k, v := range llm.DefaultPrices {
		out[k] = v
	}
	for k, v := range c.Pricing {
		out[k] = v
	}
	return out
}

// ListenAddr returns the host:port the API server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}
