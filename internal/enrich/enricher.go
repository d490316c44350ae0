// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package enrich fills artist genre and country from MusicBrainz.
//
// Enrichment runs after a completed ingestion run, outside any batch
// transaction. It only writes columns that are still NULL, so an artist
// profile loaded from a source always wins over the lookup. A failed lookup
// leaves the artist pending for the next run; it never fails ingestion.
package enrich

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/metrics"
	"github.com/tomtom215/listenflow/internal/models"
)

// Store lists artists awaiting a lookup and records the answers.
type Store interface {
	ArtistsToEnrich(ctx context.Context, limit int) ([]models.Artist, error)
	SetArtistProfile(ctx context.Context, artistID int64, genre, country *string) error
}

// ArtistLookup resolves an MBID to a profile.
type ArtistLookup interface {
	Artist(ctx context.Context, mbid string) (*ArtistProfile, error)
}

// Result counts the outcomes of one Enrich call.
type Result struct {
	Enriched int `json:"enriched"`
	Failed   int `json:"failed"`
}

// Enricher looks up pending artists, at most maxArtists per call.
type Enricher struct {
	store      Store
	lookup     ArtistLookup
	maxArtists int
}

// New returns an Enricher.
func New(store Store, lookup ArtistLookup, maxArtists int) *Enricher {
	if maxArtists < 1 {
		maxArtists = 100
	}
	return &Enricher{store: store, lookup: lookup, maxArtists: maxArtists}
}

// Enrich looks up pending artists and stores what MusicBrainz reports.
// Lookup failures are counted and skipped; an open circuit stops the pass
// early. The error is non-nil only for storage failures or cancellation.
func (e *Enricher) Enrich(ctx context.Context) (Result, error) {
	var res Result

	artists, err := e.store.ArtistsToEnrich(ctx, e.maxArtists)
	if err != nil {
		return res, err
	}
	if len(artists) == 0 {
		return res, nil
	}

	log := logging.Ctx(ctx)
	for _, a := range artists {
		if a.MBID == nil {
			continue
		}

		profile, err := e.lookup.Artist(ctx, *a.MBID)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			metrics.ArtistsEnriched.WithLabelValues("failed").Inc()
			if errors.Is(err, gobreaker.ErrOpenState) {
				log.Warn().Int("remaining", len(artists)-res.Enriched-res.Failed).Msg("MusicBrainz circuit open, stopping enrichment")
				break
			}
			log.Warn().Err(err).Str("artist", a.ArtistName).Str("artist_mbid", *a.MBID).Msg("MusicBrainz artist lookup failed")
			continue
		}

		if err := e.store.SetArtistProfile(ctx, a.ArtistID, profile.Genre, profile.Country); err != nil {
			return res, err
		}
		res.Enriched++
		metrics.ArtistsEnriched.WithLabelValues("enriched").Inc()
	}

	log.Info().Int("enriched", res.Enriched).Int("failed", res.Failed).Msg("Artist enrichment finished")
	return res, nil
}
