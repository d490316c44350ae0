// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
listenbrainz.go - ListenBrainz listens API reader

The reader pages forward through GET {base_url}/user/{user}/listens using
min_ts. ListenBrainz returns the listens right after min_ts, newest first, so
every page is re-ordered ascending before it is yielded.

Paging:
  - The first request uses min_ts = watermark - 1s (the API bound is exclusive)
  - The next min_ts is one second below the newest listen of the page, so
    listens sharing that second are fetched again; repeats are dropped by key.
    More same-second listens than fit in one page cannot be paged through
  - A page that adds nothing new advances min_ts past its newest listen
  - Reading stops on an empty page, after source.api.max_pages pages, past
    source.max_window, or at source.max_records records

Resilience:
  - golang.org/x/time/rate paces requests (source.api.requests_per_second)
  - HTTP 429 is retried with exponential backoff honoring Retry-After
  - A circuit breaker fails fast once the API is clearly down
  - Any other 4xx (bad token, unknown user) surfaces as SourceRejected and
    fails the run at once; it neither retries nor counts against the breaker
  - Every other failure surfaces as SourceUnavailable for the orchestrator's
    read retry
*/

//nolint:staticcheck // File documentation, not package doc
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/metrics"
	"github.com/tomtom215/listenflow/internal/models"
)

// maxErrorBodySize limits the maximum amount of response body read for error reporting
const maxErrorBodySize = 64 * 1024 // 64KB

// readBodyForError reads the response body for error reporting (max 64KB)
// Returns the body content or a placeholder message if reading fails
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// ListensPage is the listens endpoint response.
type ListensPage struct {
	Payload struct {
		Count   int      `json:"count"`
		UserID  string   `json:"user_id"`
		Listens []Listen `json:"listens"`
	} `json:"payload"`
}

// Listen is one ListenBrainz listen.
type Listen struct {
	ListenedAt    int64          `json:"listened_at"`
	UserName      string         `json:"user_name"`
	RecordingMSID string         `json:"recording_msid"`
	TrackMetadata ListenMetadata `json:"track_metadata"`
}

// ListenMetadata is the track_metadata object of a listen.
type ListenMetadata struct {
	ArtistName     string         `json:"artist_name"`
	TrackName      string         `json:"track_name"`
	ReleaseName    string         `json:"release_name"`
	AdditionalInfo map[string]any `json:"additional_info"`
	MBIDMapping    *MBIDMapping   `json:"mbid_mapping"`
}

// StatusError is a non-200 answer from the ListenBrainz API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("listens request failed with status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether the same request would be refused again:
// any 4xx except 429.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// isPermanentStatus reports whether err carries a permanent StatusError.
func isPermanentStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// MBIDMapping links a listen to MusicBrainz identifiers.
type MBIDMapping struct {
	RecordingMBID string   `json:"recording_mbid"`
	ReleaseMBID   string   `json:"release_mbid"`
	ArtistMBIDs   []string `json:"artist_mbids"`
}

// ListenBrainzClient handles communication with the ListenBrainz HTTP API.
//
// Thread Safety: Safe for concurrent use. Each request creates its own HTTP request.
type ListenBrainzClient struct {
	baseURL        string
	user           string
	token          string
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int           // Maximum retries for rate limiting
	retryBaseDelay time.Duration // Base delay for exponential backoff
}

// NewListenBrainzClient creates a client from cfg. A nil httpClient gets one
// with cfg.Timeout.
func NewListenBrainzClient(cfg *config.APISourceConfig, httpClient *http.Client) *ListenBrainzClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &ListenBrainzClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		user:           cfg.User,
		token:          cfg.Token,
		client:         httpClient,
		limiter:        rate.NewLimiter(limit, burst),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// GetListens fetches up to count listens with listened_at > minTS.
func (c *ListenBrainzClient) GetListens(ctx context.Context, minTS int64, count int) (*ListensPage, error) {
	params := url.Values{}
	params.Set("count", strconv.Itoa(count))
	params.Set("min_ts", strconv.FormatInt(minTS, 10))
	reqURL := fmt.Sprintf("%s/user/%s/listens?%s", c.baseURL, url.PathEscape(c.user), params.Encode())

	start := time.Now()
	resp, err := c.doRequestWithRateLimit(ctx, reqURL)
	metrics.SourceRequestDuration.WithLabelValues(string(models.SourceAPI)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceRequests.WithLabelValues(string(models.SourceAPI), "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.SourceRequests.WithLabelValues(string(models.SourceAPI), "error").Inc()
		body := readBodyForError(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var page ListensPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		metrics.SourceRequests.WithLabelValues(string(models.SourceAPI), "error").Inc()
		return nil, fmt.Errorf("failed to decode listens: %w", err)
	}

	metrics.SourceRequests.WithLabelValues(string(models.SourceAPI), "ok").Inc()
	return &page, nil
}

// doRequestWithRateLimit performs an HTTP request with automatic rate limit handling.
// Implements exponential backoff for HTTP 429 responses (1s, 2s, 4s, 8s, 16s).
// The context is used for cancellation during backoff waits.
func (c *ListenBrainzClient) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Token "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Rate limited (HTTP 429) - close body and retry with backoff
		_ = resp.Body.Close()
		metrics.SourceRequests.WithLabelValues(string(models.SourceAPI), "rate_limited").Inc()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))

		// Retry-After in seconds (RFC 6585)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}

		logging.Ctx(ctx).Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("ListenBrainz rate limited, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// ListenBrainzReader reads listens from the ListenBrainz API.
type ListenBrainzReader struct {
	client   listensFetcher
	cfg      *config.SourceConfig
	user     string
	pageSize int
	maxPages int
}

// NewListenBrainzReader returns a reader backed by a circuit-breaking client.
func NewListenBrainzReader(cfg *config.SourceConfig, httpClient *http.Client) *ListenBrainzReader {
	client := NewCircuitBreakerClient(NewListenBrainzClient(&cfg.API, httpClient))
	return newListenBrainzReader(cfg, client)
}

func newListenBrainzReader(cfg *config.SourceConfig, client listensFetcher) *ListenBrainzReader {
	pageSize := cfg.API.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ListenBrainzReader{
		client:   client,
		cfg:      cfg,
		user:     cfg.API.User,
		pageSize: pageSize,
		maxPages: cfg.API.MaxPages,
	}
}

// Kind implements Reader.
func (r *ListenBrainzReader) Kind() models.SourceKind { return models.SourceAPI }

// Close implements Reader.
func (r *ListenBrainzReader) Close() error { return nil }

// ReadSince implements Reader. Pages are fetched lazily as the iterator is drained.
func (r *ListenBrainzReader) ReadSince(ctx context.Context, since *time.Time) (Iterator, error) {
	minTS := int64(0)
	if since != nil {
		minTS = since.Unix() - 1
	}
	return &listenIterator{
		reader: r,
		window: NewWindow(since, r.cfg),
		minTS:  minTS,
		seen:   make(map[string]struct{}),
	}, nil
}

type listenIterator struct {
	reader  *ListenBrainzReader
	window  Window
	minTS   int64
	pages   int
	yielded int
	buf     []models.RawRecord
	seen    map[string]struct{}
	done    bool
}

func (it *listenIterator) Next(ctx context.Context) (models.RawRecord, error) {
	if it.window.Full(it.yielded) {
		return models.RawRecord{}, io.EOF
	}
	for len(it.buf) == 0 {
		if it.done {
			return models.RawRecord{}, io.EOF
		}
		if err := it.fetchPage(ctx); err != nil {
			return models.RawRecord{}, err
		}
	}
	rec := it.buf[0]
	it.buf = it.buf[1:]
	it.yielded++
	return rec, nil
}

func (it *listenIterator) Close() error {
	it.done = true
	it.buf = nil
	return nil
}

func (it *listenIterator) fetchPage(ctx context.Context) error {
	r := it.reader
	if r.maxPages > 0 && it.pages >= r.maxPages {
		logging.Ctx(ctx).Info().Int("pages", it.pages).Msg("ListenBrainz page limit reached; remaining listens wait for the next run")
		it.done = true
		return nil
	}

	page, err := r.client.GetListens(ctx, it.minTS, r.pageSize)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isPermanentStatus(err) {
			return models.SourceRejected("fetch_listens", err)
		}
		return models.SourceUnavailable("fetch_listens", err)
	}
	it.pages++

	listens := page.Payload.Listens
	if len(listens) == 0 {
		it.done = true
		return nil
	}

	// Newest first on the wire.
	sort.SliceStable(listens, func(i, j int) bool {
		return listens[i].ListenedAt < listens[j].ListenedAt
	})

	newest := listens[len(listens)-1].ListenedAt
	fresh := 0
	for i, l := range listens {
		at := time.Unix(l.ListenedAt, 0).UTC()
		it.window.Observe(at)
		if !it.window.Contains(at) {
			if until := it.window.Until(); until != nil && at.After(*until) {
				it.done = true
				break
			}
			continue
		}

		key := fmt.Sprintf("%d|%s|%s|%s", l.ListenedAt, l.RecordingMSID, l.TrackMetadata.TrackName, l.TrackMetadata.ArtistName)
		if _, dup := it.seen[key]; dup {
			continue
		}
		it.seen[key] = struct{}{}
		fresh++

		origin := fmt.Sprintf("api:%s:page%d:%d", r.user, it.pages, i)
		it.buf = append(it.buf, listenRecord(l, r.user, origin))
	}

	if fresh == 0 {
		it.minTS = newest
	} else {
		it.minTS = newest - 1
	}
	return nil
}

// listenRecord flattens a listen into loosely typed fields.
func listenRecord(l Listen, user, origin string) models.RawRecord {
	meta := l.TrackMetadata
	info := meta.AdditionalInfo

	userName := l.UserName
	if userName == "" {
		userName = user
	}

	fields := map[string]any{
		"user":           userName,
		"track":          meta.TrackName,
		"artist":         meta.ArtistName,
		"played_at":      l.ListenedAt,
		"recording_msid": l.RecordingMSID,
	}
	if meta.ReleaseName != "" {
		fields["album"] = meta.ReleaseName
	}
	if m := meta.MBIDMapping; m != nil {
		if m.RecordingMBID != "" {
			fields["recording_mbid"] = m.RecordingMBID
		}
		// The first credited artist is the one the track row belongs to.
		if len(m.ArtistMBIDs) > 0 && m.ArtistMBIDs[0] != "" {
			fields["artist_mbid"] = m.ArtistMBIDs[0]
		}
	}

	// The API reports whole listens, so played time is the track length.
	switch {
	case info["duration_ms"] != nil:
		fields["duration_ms"] = info["duration_ms"]
		fields["played_ms"] = info["duration_ms"]
	case info["duration"] != nil:
		fields["duration_sec"] = info["duration"]
		fields["played_sec"] = info["duration"]
	default:
		fields["played_sec"] = 0
	}

	for _, key := range []string{"listening_from", "submission_client", "origin_url", "music_service"} {
		if v, ok := info[key]; ok && v != nil {
			fields[key] = v
		}
	}
	for _, key := range []string{"listening_country", "origin_country"} {
		if v, ok := info[key]; ok && v != nil {
			fields["country"] = v
			break
		}
	}

	return models.RawRecord{Fields: fields, Source: models.SourceAPI, Origin: origin}
}
