// Package search provides the agent's web_search tool over pluggable
// backends.
//
// Each backend implements [Provider] and is registered by name. The
// [Manager] sends queries to the primary provider and falls back to
// the others, in registration order, when it fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/whim-agent/internal/tools"
)

// DefaultCount is the number of results returned when the caller does
// not ask for a specific count.
const DefaultCount = 5

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return. Providers may
	// return fewer. Zero means DefaultCount.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return o.Count
}

// Provider is implemented by search backends.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "brave").
	Name() string

	// Search executes a query.
	Search(ctx context.Context, query string, opts Options) ([]tools.SearchHit, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	primary   string
	logger    *slog.Logger
}

// NewManager creates a search manager. primary names the provider
// tried first; empty means the first one registered.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
		logger:    logger.With("component", "search"),
	}
}

// Register adds a provider.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Providers returns provider names, primary first.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.order))
	if _, ok := m.providers[m.primary]; ok {
		names = append(names, m.primary)
	}
	for _, name := range m.order {
		if name != m.primary {
			names = append(names, name)
		}
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers) > 0
}

// Search runs a query, trying each provider in turn until one
// succeeds. The error joins every provider's failure.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]tools.SearchHit, error) {
	names := m.Providers()
	if len(names) == 0 {
		return nil, errors.New("no search provider configured")
	}

	var errs []error
	for _, name := range names {
		m.mu.RLock()
		p := m.providers[name]
		m.mu.RUnlock()

		hits, err := p.Search(ctx, query, opts)
		if err == nil {
			return hits, nil
		}
		m.logger.Warn("search provider failed", "provider", name, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("web search failed: %w", errors.Join(errs...))
}

// SearchWith runs a query against one named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]tools.SearchHit, error) {
	m.mu.RLock()
	p, ok := m.providers[provider]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}
