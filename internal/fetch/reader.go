package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/time/rate"

	"github.com/nugget/whim-agent/internal/httpkit"
)

// Reader service defaults. The service allows far more traffic to
// keyed callers.
const (
	DefaultReaderURL     = "https://r.jina.ai/"
	DefaultReaderRPM     = 20
	DefaultReaderKeyRPM  = 200
	DefaultReaderTimeout = 30 * time.Second
)

// ReaderConfig configures the reader-service tier.
type ReaderConfig struct {
	BaseURL string
	APIKey  string
	RPM     int // zero picks the default for keyed or anonymous use
	Timeout time.Duration
}

// ReaderProvider asks a rendering service to load the page in a real
// browser and return it as markdown. It reaches JavaScript-built pages
// and many sites that refuse plain HTTP clients.
type ReaderProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	md      goldmark.Markdown
}

// NewReaderProvider creates the reader tier with a request-rate limiter
// shared by every run in the process.
func NewReaderProvider(cfg ReaderConfig) *ReaderProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultReaderURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.RPM <= 0 {
		cfg.RPM = DefaultReaderRPM
		if cfg.APIKey != "" {
			cfg.RPM = DefaultReaderKeyRPM
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReaderTimeout
	}

	return &ReaderProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout)),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RPM)), max(1, cfg.RPM/10)),
		md:      goldmark.New(),
	}
}

// Source implements Provider.
func (r *ReaderProvider) Source() Source { return SourceReader }

type readerResponse struct {
	Code int `json:"code"`
	Data struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"data"`
}

// Fetch implements Provider.
func (r *ReaderProvider) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, failure(SourceReader, KindTimeout, 0, "rate limit wait: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+rawURL, nil)
	if err != nil {
		return nil, failure(SourceReader, KindHTTPError, 0, "build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if httpkit.IsTimeout(err) {
			return nil, &FetchError{Source: SourceReader, Kind: KindTimeout, Err: err}
		}
		return nil, &FetchError{Source: SourceReader, Kind: KindHTTPError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail := httpkit.ReadErrorBody(resp.Body, 512)
		kind := KindHTTPError
		// 451 is the service refusing the target domain.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusUnavailableForLegalReasons {
			kind = KindBlocked
		}
		return nil, failure(SourceReader, kind, resp.StatusCode, "%s", strings.TrimSpace(detail))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBytes))
	if err != nil {
		if httpkit.IsTimeout(err) {
			return nil, &FetchError{Source: SourceReader, Kind: KindTimeout, Err: err}
		}
		return nil, failure(SourceReader, KindParseError, resp.StatusCode, "read body: %w", err)
	}

	var rr readerResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, failure(SourceReader, KindParseError, resp.StatusCode, "decode response: %w", err)
	}
	content := strings.TrimSpace(rr.Data.Content)
	if content == "" {
		return nil, failure(SourceReader, KindParseError, resp.StatusCode, "service returned no content")
	}

	page, err := r.fromMarkdown(rr.Data.Title, content)
	if err != nil {
		return nil, err
	}
	page.Metadata.FetchedAt = start.UTC()
	page.Metadata.FetchDuration = time.Since(start)
	return page, nil
}

// fromMarkdown renders the service's markdown to HTML and flattens it
// to plain text.
func (r *ReaderProvider) fromMarkdown(title, markdown string) (*PageContent, error) {
	src := []byte(markdown)
	doc := r.md.Parser().Parse(text.NewReader(src))

	if title == "" {
		title = firstHeading(doc, src)
	}
	plain := cleanWhitespace(markdownText(doc, src))
	if plain == "" {
		return nil, failure(SourceReader, KindParseError, 0, "markdown had no text")
	}
	if blocked, paywall := detectBlock(title, plain, ""); blocked {
		return nil, &FetchError{
			Source:  SourceReader,
			Kind:    KindBlocked,
			Paywall: paywall,
			Err:     fmt.Errorf("service rendered interstitial %q", title),
		}
	}

	var rendered bytes.Buffer
	if err := r.md.Renderer().Render(&rendered, src, doc); err != nil {
		return nil, failure(SourceReader, KindParseError, 0, "render markdown: %w", err)
	}

	return &PageContent{
		Title:       title,
		RawHTML:     rendered.String(),
		CleanedText: plain,
		Metadata:    Metadata{Source: SourceReader, ContentLength: len(plain)},
	}, nil
}

func firstHeading(doc ast.Node, src []byte) string {
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if h, ok := n.(*ast.Heading); ok && entering {
			title = strings.TrimSpace(string(h.Text(src)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

// markdownText collects the visible text of a markdown document with a
// blank line between blocks. Link targets, images and raw HTML are
// dropped.
func markdownText(doc ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteString("\n\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.Image, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		default:
			if !entering && n.Type() == ast.TypeBlock {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
