package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/nugget/whim-agent/internal/httpkit"
	"github.com/nugget/whim-agent/internal/metrics"
)

// Provider is one tier of the fetch chain. Fetch returns a *FetchError
// for every failure it can classify; anything else is classified by
// the chain.
type Provider interface {
	Source() Source
	Fetch(ctx context.Context, rawURL string) (*PageContent, error)
}

// Chain tries its providers in a fixed order and returns the first
// page any of them produces. Concurrent requests for the same URL are
// not coalesced; once one completes, the cache serves the rest.
type Chain struct {
	cache     *Cache
	providers []Provider
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewChain builds a chain over providers, consulted in the order given.
func NewChain(cache *Cache, logger *slog.Logger, providers ...Provider) *Chain {
	if cache == nil {
		cache = NewCache(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		cache:     cache,
		providers: providers,
		logger:    logger.With("component", "fetch"),
	}
}

// SetMetrics attaches instrumentation.
func (c *Chain) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// Cache returns the chain's page cache.
func (c *Chain) Cache() *Cache { return c.cache }

// FetchPageContent returns readable content for rawURL. A cache hit
// returns the stored page without touching the network. When every
// provider fails the error is a *ChainError. Failures are never cached.
func (c *Chain) FetchPageContent(ctx context.Context, rawURL string) (*PageContent, error) {
	target := NormalizeURL(rawURL)
	if target == "" {
		return nil, errors.New("fetch: url is required")
	}
	if u, err := url.Parse(target); err != nil || u.Host == "" {
		return nil, fmt.Errorf("fetch: invalid url %q", rawURL)
	}

	page, result := c.cache.lookup(target)
	c.metrics.ObserveCache(result, c.cache.Stats().Size)
	if page != nil {
		c.logger.Debug("page served from cache", "url", target, "source", page.Metadata.Source)
		return page, nil
	}

	chainErr := &ChainError{URL: target}
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}

		start := time.Now()
		page, err := p.Fetch(ctx, target)
		elapsed := time.Since(start)

		if err != nil {
			fe := classify(p.Source(), err)
			chainErr.Failures = append(chainErr.Failures, fe)
			c.metrics.ObserveFetch(string(p.Source()), string(fe.Kind), elapsed)
			c.logger.Debug("fetch tier failed",
				"url", target,
				"source", p.Source(),
				"kind", fe.Kind,
				"status", fe.StatusCode,
				"paywall", fe.Paywall,
				"elapsed", elapsed.Round(time.Millisecond),
				"error", fe.Err,
			)
			continue
		}

		page.URL = target
		page.Metadata.Source = p.Source()
		if page.Metadata.FetchedAt.IsZero() {
			page.Metadata.FetchedAt = time.Now().UTC()
		}
		if page.Metadata.FetchDuration == 0 {
			page.Metadata.FetchDuration = elapsed
		}
		page.Metadata.ContentLength = len(page.CleanedText)

		c.cache.Set(target, page, 0)
		c.metrics.ObserveFetch(string(p.Source()), "success", elapsed)
		c.logger.Info("page fetched",
			"url", target,
			"source", page.Metadata.Source,
			"attempts", len(chainErr.Failures)+1,
			"length", page.Metadata.ContentLength,
			"elapsed", elapsed.Round(time.Millisecond),
		)
		return page, nil
	}

	c.logger.Warn("all fetch tiers failed",
		"url", target,
		"kind", chainErr.Kind(),
		"paywall", chainErr.Paywalled(),
	)
	return nil, chainErr
}

// classify turns any provider error into a *FetchError.
func classify(src Source, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = src
		}
		return fe
	}
	if httpkit.IsTimeout(err) {
		return &FetchError{Source: src, Kind: KindTimeout, Err: err}
	}
	return &FetchError{Source: src, Kind: KindHTTPError, Err: err}
}
