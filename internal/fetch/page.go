// Package fetch retrieves readable web content through an ordered chain
// of providers: the site itself, a reader service that renders and
// extracts pages, and the Internet Archive. Successful results are kept
// in a bounded, process-wide cache.
package fetch

import (
	"strings"
	"time"
)

// Source names the provider that produced a page.
type Source string

// Provider sources, in chain order.
const (
	SourceDirect  Source = "direct"
	SourceReader  Source = "reader-service"
	SourceArchive Source = "archive"
)

// Metadata describes how and when a page was obtained.
type Metadata struct {
	FetchedAt     time.Time     `json:"fetched_at"`
	FetchDuration time.Duration `json:"fetch_duration"`
	ContentLength int           `json:"content_length"`
	Source        Source        `json:"source"`

	// Set only for archive snapshots.
	ArchiveDate      *time.Time `json:"archive_date,omitempty"`
	ArchiveAgeInDays *int       `json:"archive_age_in_days,omitempty"`

	Error string `json:"error,omitempty"`
}

// PageContent is a fetched page reduced to readable text.
type PageContent struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	RawHTML     string   `json:"raw_html,omitempty"`
	CleanedText string   `json:"cleaned_text"`
	Metadata    Metadata `json:"metadata"`
}

// clone returns a deep copy. Cached pages are cloned on the way in and
// on the way out so no caller can reach the cache's own copy.
func (p *PageContent) clone() *PageContent {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Metadata.ArchiveDate != nil {
		d := *p.Metadata.ArchiveDate
		cp.Metadata.ArchiveDate = &d
	}
	if p.Metadata.ArchiveAgeInDays != nil {
		n := *p.Metadata.ArchiveAgeInDays
		cp.Metadata.ArchiveAgeInDays = &n
	}
	return &cp
}

// NormalizeURL adds an https scheme to bare hosts and trims whitespace.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw
}

// truncateRunes cuts s to at most n characters without splitting a
// multi-byte sequence.
func truncateRunes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
