// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/metrics"
	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/normalize"
)

const (
	sourceLabel = "musicbrainz"
	breakerName = "musicbrainz-api"
)

// ArtistProfile is what MusicBrainz reports for one artist. Either field is
// nil when MusicBrainz has no usable value.
type ArtistProfile struct {
	Genre   *string
	Country *string
}

type mbCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type mbArtist struct {
	Country string `json:"country"`
	Area    *struct {
		ISOCodes []string `json:"iso-3166-1-codes"`
	} `json:"area"`
	Genres []mbCount `json:"genres"`
	Tags   []mbCount `json:"tags"`
}

// profile picks the most voted genre, falling back to the most voted tag,
// and the artist country, falling back to the area code.
func (a *mbArtist) profile() *ArtistProfile {
	p := &ArtistProfile{}
	if g := topVoted(a.Genres); g != "" {
		p.Genre = &g
	} else if tag := topVoted(a.Tags); tag != "" {
		p.Genre = &tag
	}

	code := a.Country
	if code == "" && a.Area != nil && len(a.Area.ISOCodes) > 0 {
		code = a.Area.ISOCodes[0]
	}
	if c := normalize.NormalizeCountry(code); c != models.UnknownCountry {
		p.Country = &c
	}
	return p
}

// topVoted returns the name with the highest count; the first one wins ties.
func topVoted(items []mbCount) string {
	best, bestCount := "", -1
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name != "" && it.Count > bestCount {
			best, bestCount = name, it.Count
		}
	}
	return best
}

// MusicBrainzClient looks up artists on the MusicBrainz web service.
//
// Thread Safety: Safe for concurrent use.
type MusicBrainzClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	cb        *gobreaker.CircuitBreaker[*ArtistProfile]
}

// NewMusicBrainzClient creates a client from cfg. A nil httpClient gets one
// with cfg.Timeout. The circuit opens after five consecutive failures.
func NewMusicBrainzClient(cfg *config.EnrichConfig, httpClient *http.Client) *MusicBrainzClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*ArtistProfile](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &MusicBrainzClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    httpClient,
		limiter:   rate.NewLimiter(limit, 1),
		cb:        cb,
	}
}

// Artist fetches the profile of the artist with the given MBID. An MBID
// MusicBrainz does not know yields an empty profile, not an error.
func (c *MusicBrainzClient) Artist(ctx context.Context, mbid string) (*ArtistProfile, error) {
	p, err := c.cb.Execute(func() (*ArtistProfile, error) {
		return c.fetchArtist(ctx, mbid)
	})
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	}
	return p, err
}

// State returns the breaker state name.
func (c *MusicBrainzClient) State() string {
	return c.cb.State().String()
}

func (c *MusicBrainzClient) fetchArtist(ctx context.Context, mbid string) (*ArtistProfile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("fmt", "json")
	params.Set("inc", "genres+tags")
	reqURL := fmt.Sprintf("%s/artist/%s?%s", c.baseURL, url.PathEscape(mbid), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.SourceRequestDuration.WithLabelValues(sourceLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceRequests.WithLabelValues(sourceLabel, "error").Inc()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		// Unknown or malformed MBID: the answer will not change.
		metrics.SourceRequests.WithLabelValues(sourceLabel, "not_found").Inc()
		return &ArtistProfile{}, nil
	default:
		metrics.SourceRequests.WithLabelValues(sourceLabel, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("artist request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var artist mbArtist
	if err := json.NewDecoder(resp.Body).Decode(&artist); err != nil {
		metrics.SourceRequests.WithLabelValues(sourceLabel, "error").Inc()
		return nil, fmt.Errorf("failed to decode artist: %w", err)
	}
	metrics.SourceRequests.WithLabelValues(sourceLabel, "ok").Inc()
	return artist.profile(), nil
}
