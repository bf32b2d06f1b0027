package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/whim-agent/internal/httpkit"
)

// Archive endpoints.
const (
	DefaultAvailabilityURL = "https://archive.org/wayback/available"
	DefaultSnapshotURL     = "https://web.archive.org/web/"
	DefaultArchiveTimeout  = 20 * time.Second
)

// archiveTimestampLayout is the Wayback Machine's YYYYMMDDhhmmss form.
const archiveTimestampLayout = "20060102150405"

// ArchiveConfig configures the archive tier.
type ArchiveConfig struct {
	AvailabilityURL string
	SnapshotURL     string
	Timeout         time.Duration
}

// ArchiveProvider serves the most recent Wayback Machine snapshot of a
// page. It is the last resort: content may be stale, so the snapshot's
// date and age are reported with the page.
type ArchiveProvider struct {
	availabilityURL string
	snapshotURL     string
	client          *http.Client
	now             func() time.Time
}

// NewArchiveProvider creates the archive tier.
func NewArchiveProvider(cfg ArchiveConfig) *ArchiveProvider {
	if cfg.AvailabilityURL == "" {
		cfg.AvailabilityURL = DefaultAvailabilityURL
	}
	if cfg.SnapshotURL == "" {
		cfg.SnapshotURL = DefaultSnapshotURL
	}
	if !strings.HasSuffix(cfg.SnapshotURL, "/") {
		cfg.SnapshotURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultArchiveTimeout
	}
	return &ArchiveProvider{
		availabilityURL: cfg.AvailabilityURL,
		snapshotURL:     cfg.SnapshotURL,
		client: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithBrowserHeaders(),
		),
		now: time.Now,
	}
}

// Source implements Provider.
func (a *ArchiveProvider) Source() Source { return SourceArchive }

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Available bool   `json:"available"`
			Status    string `json:"status"`
			Timestamp string `json:"timestamp"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Fetch implements Provider.
func (a *ArchiveProvider) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	start := time.Now()

	ts, err := a.latestSnapshot(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	archived, err := ParseArchiveTimestamp(ts)
	if err != nil {
		return nil, failure(SourceArchive, KindParseError, 0, "%w", err)
	}

	// The id_ suffix returns the page as captured, without the
	// Wayback toolbar and rewritten links.
	snapURL := a.snapshotURL + ts + "id_/" + rawURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapURL, nil)
	if err != nil {
		return nil, failure(SourceArchive, KindHTTPError, 0, "build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classify(SourceArchive, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(SourceArchive, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBytes))
	if err != nil {
		if httpkit.IsTimeout(err) {
			return nil, &FetchError{Source: SourceArchive, Kind: KindTimeout, Err: err}
		}
		return nil, failure(SourceArchive, KindParseError, resp.StatusCode, "read body: %w", err)
	}

	page, err := parseBody(SourceArchive, resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}

	age := ArchiveAgeInDays(archived, a.now())
	page.Metadata.ArchiveDate = &archived
	page.Metadata.ArchiveAgeInDays = &age
	page.Metadata.FetchedAt = start.UTC()
	page.Metadata.FetchDuration = time.Since(start)
	return page, nil
}

// latestSnapshot asks the availability API for the snapshot closest to
// now and returns its timestamp.
func (a *ArchiveProvider) latestSnapshot(ctx context.Context, rawURL string) (string, error) {
	q := url.Values{"url": {rawURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.availabilityURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", failure(SourceArchive, KindHTTPError, 0, "build availability request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", classify(SourceArchive, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail := httpkit.ReadErrorBody(resp.Body, 512)
		return "", failure(SourceArchive, KindHTTPError, resp.StatusCode, "availability lookup: %s", strings.TrimSpace(detail))
	}

	var ar availabilityResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&ar); err != nil {
		return "", failure(SourceArchive, KindParseError, resp.StatusCode, "decode availability: %w", err)
	}

	closest := ar.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.Timestamp == "" {
		return "", failure(SourceArchive, KindHTTPError, http.StatusNotFound, "no archived snapshot")
	}
	return closest.Timestamp, nil
}

// ParseArchiveTimestamp parses a YYYYMMDDhhmmss snapshot timestamp as
// UTC.
func ParseArchiveTimestamp(ts string) (time.Time, error) {
	if len(ts) != len(archiveTimestampLayout) {
		return time.Time{}, fmt.Errorf("archive timestamp %q: want 14 digits", ts)
	}
	t, err := time.ParseInLocation(archiveTimestampLayout, ts, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("archive timestamp %q: %w", ts, err)
	}
	return t, nil
}

// ArchiveAgeInDays returns the number of whole days between the
// snapshot and now. Snapshots dated in the future count as zero days
// old.
func ArchiveAgeInDays(archived, now time.Time) int {
	days := int(math.Floor(now.Sub(archived).Hours() / 24))
	return max(days, 0)
}
