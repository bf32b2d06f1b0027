package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/whim-agent/internal/httpkit"
)

// Direct tier defaults.
const (
	DefaultDirectTimeout       = 10 * time.Second
	DefaultMaxBytes      int64 = 5 * 1024 * 1024
)

// DirectProvider fetches the page from its own server, presenting
// itself as a desktop browser.
type DirectProvider struct {
	client   *http.Client
	maxBytes int64
}

// NewDirectProvider creates the direct tier. timeout bounds the whole
// request independently of the caller's context; zero uses
// DefaultDirectTimeout. opts are applied after the browser profile, so
// they can override its User-Agent or redirect cap.
func NewDirectProvider(timeout time.Duration, opts ...httpkit.ClientOption) *DirectProvider {
	if timeout <= 0 {
		timeout = DefaultDirectTimeout
	}
	base := []httpkit.ClientOption{
		httpkit.WithTimeout(timeout),
		httpkit.WithBrowserHeaders(),
	}
	return &DirectProvider{
		client:   httpkit.NewClient(append(base, opts...)...),
		maxBytes: DefaultMaxBytes,
	}
}

// Source implements Provider.
func (d *DirectProvider) Source() Source { return SourceDirect }

// Fetch implements Provider.
func (d *DirectProvider) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, failure(SourceDirect, KindHTTPError, 0, "build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if httpkit.IsTimeout(err) {
			return nil, &FetchError{Source: SourceDirect, Kind: KindTimeout, Err: err}
		}
		return nil, &FetchError{Source: SourceDirect, Kind: KindHTTPError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(SourceDirect, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes))
	if err != nil {
		if httpkit.IsTimeout(err) {
			return nil, &FetchError{Source: SourceDirect, Kind: KindTimeout, Err: err}
		}
		return nil, failure(SourceDirect, KindParseError, resp.StatusCode, "read body: %w", err)
	}

	page, err := parseBody(SourceDirect, resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}
	page.Metadata.FetchedAt = start.UTC()
	page.Metadata.FetchDuration = time.Since(start)
	return page, nil
}

// classifyStatus maps an error response to a failure kind. Bot walls
// often arrive as 503 with a challenge page, so the body is inspected
// before settling on a plain HTTP error.
func classifyStatus(src Source, resp *http.Response) *FetchError {
	switch resp.StatusCode {
	case http.StatusPaymentRequired:
		httpkit.DrainAndClose(resp.Body, 4096)
		return &FetchError{
			Source:     src,
			Kind:       KindBlocked,
			StatusCode: resp.StatusCode,
			Paywall:    true,
			Err:        fmt.Errorf("payment required"),
		}
	case http.StatusForbidden, http.StatusTooManyRequests:
		httpkit.DrainAndClose(resp.Body, 4096)
		return failure(src, KindBlocked, resp.StatusCode, "%s", http.StatusText(resp.StatusCode))
	}

	snippet := httpkit.ReadErrorBody(resp.Body, 16*1024)
	title, text := extractHTML(snippet)
	if blocked, paywall := detectBlock(title, text, snippet); blocked {
		return &FetchError{
			Source:     src,
			Kind:       KindBlocked,
			StatusCode: resp.StatusCode,
			Paywall:    paywall,
			Err:        fmt.Errorf("challenge page: %q", title),
		}
	}
	return failure(src, KindHTTPError, resp.StatusCode, "%s", http.StatusText(resp.StatusCode))
}

// parseBody turns a successful response body into a page, or explains
// why it cannot.
func parseBody(src Source, contentType string, body []byte) (*PageContent, error) {
	ct := strings.ToLower(contentType)

	var title, text, rawHTML string
	switch {
	case isHTML(ct) || (ct == "" && looksLikeHTML(body)):
		rawHTML = string(body)
		title, text = extractHTML(rawHTML)
		if blocked, paywall := detectBlock(title, text, rawHTML); blocked {
			return nil, &FetchError{
				Source:  src,
				Kind:    KindBlocked,
				Paywall: paywall,
				Err:     fmt.Errorf("content replaced by interstitial %q", title),
			}
		}
	case isTextual(ct) || ct == "":
		if !utf8.Valid(body) {
			return nil, failure(src, KindParseError, 0, "body is not valid UTF-8")
		}
		text = strings.TrimSpace(string(body))
	default:
		return nil, failure(src, KindParseError, 0, "unsupported content type %q", contentType)
	}

	if text == "" {
		return nil, failure(src, KindParseError, 0, "no readable text extracted")
	}

	return &PageContent{
		Title:       title,
		RawHTML:     rawHTML,
		CleanedText: text,
		Metadata:    Metadata{Source: src, ContentLength: len(text)},
	}, nil
}

func isHTML(ct string) bool {
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isTextual(ct string) bool {
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "xml")
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
