package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Model tiers. Main serves everyday requests; Pro is reserved for
// users or tasks that warrant a stronger model.
const (
	TierMain = "main"
	TierPro  = "pro"
)

// TierRouter resolves a tier to a model and a model to the provider
// that serves it. It implements Client, so the agent can hold a single
// client regardless of how many providers are configured.
type TierRouter struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	tiers    map[string]string // tier → model name
	fallback Client
	logger   *slog.Logger
}

// NewTierRouter creates a router. fallback serves models that no
// provider claims; it may be nil.
func NewTierRouter(fallback Client, logger *slog.Logger) *TierRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierRouter{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		tiers:    make(map[string]string),
		fallback: fallback,
		logger:   logger.With("component", "llm_router"),
	}
}

// AddProvider registers a client under a provider name.
func (r *TierRouter) AddProvider(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// AddModel maps a model name to a provider.
func (r *TierRouter) AddModel(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model] = provider
}

// SetTier assigns the model used for a tier.
func (r *TierRouter) SetTier(tier, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[tier] = model
}

// ModelFor returns the model for tier. Unknown or empty tiers fall
// back to the main tier.
func (r *TierRouter) ModelFor(tier string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.tiers[tier]; ok {
		return m
	}
	return r.tiers[TierMain]
}

func (r *TierRouter) clientFor(model string) Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if provider, ok := r.models[model]; ok {
		if client, ok := r.clients[provider]; ok {
			return client
		}
	}
	return r.fallback
}

// Chat sends the request to the provider that serves model.
func (r *TierRouter) Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*ChatResponse, error) {
	client := r.clientFor(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.Chat(ctx, model, messages, tools)
}

// Ping checks every registered provider and the fallback.
func (r *TierRouter) Ping(ctx context.Context) error {
	r.mu.RLock()
	clients := make(map[string]Client, len(r.clients)+1)
	for name, c := range r.clients {
		clients[name] = c
	}
	if r.fallback != nil {
		clients["fallback"] = r.fallback
	}
	r.mu.RUnlock()

	if len(clients) == 0 {
		return fmt.Errorf("no providers configured")
	}
	for name, c := range clients {
		if err := c.Ping(ctx); err != nil {
			r.logger.Warn("provider unreachable", "provider", name, "error", err)
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	return nil
}
