// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/listenflow/internal/models"
)

type storedProfile struct {
	genre, country string
}

type memStore struct {
	pending  []models.Artist
	limit    int
	profiles map[int64]storedProfile
	setErr   error
}

func (m *memStore) ArtistsToEnrich(_ context.Context, limit int) ([]models.Artist, error) {
	m.limit = limit
	if len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

func (m *memStore) SetArtistProfile(_ context.Context, id int64, genre, country *string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.profiles == nil {
		m.profiles = make(map[int64]storedProfile)
	}
	m.profiles[id] = storedProfile{genre: deref(genre), country: deref(country)}
	return nil
}

// scriptedLookup answers per MBID; an MBID without an answer fails.
type scriptedLookup struct {
	answers map[string]*ArtistProfile
	errs    map[string]error
	calls   []string
}

func (s *scriptedLookup) Artist(_ context.Context, mbid string) (*ArtistProfile, error) {
	s.calls = append(s.calls, mbid)
	if err, ok := s.errs[mbid]; ok {
		return nil, err
	}
	if p, ok := s.answers[mbid]; ok {
		return p, nil
	}
	return nil, errors.New("artist request failed with status 503")
}

func artist(id int64, name, mbid string) models.Artist {
	return models.Artist{ArtistID: id, ArtistName: name, MBID: &mbid}
}

func str(s string) *string { return &s }

func TestEnrichStoresProfilesAndSkipsFailures(t *testing.T) {
	store := &memStore{pending: []models.Artist{
		artist(1, "Nova", "mbid-nova"),
		artist(2, "Ghost", "mbid-ghost"),
		artist(3, "Echo", "mbid-echo"),
	}}
	lookup := &scriptedLookup{answers: map[string]*ArtistProfile{
		"mbid-nova": {Genre: str("electronic"), Country: str("SE")},
		"mbid-echo": {},
	}}

	res, err := New(store, lookup, 10).Enrich(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Enriched != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 enriched and 1 failed", res)
	}
	if got := store.profiles[1]; got != (storedProfile{"electronic", "SE"}) {
		t.Errorf("Nova profile = %+v", got)
	}
	if _, ok := store.profiles[2]; ok {
		t.Error("a failed lookup must leave the artist pending")
	}
	if _, ok := store.profiles[3]; !ok {
		t.Error("an empty answer still marks the artist as looked up")
	}
	if store.limit != 10 {
		t.Errorf("limit = %d, want 10", store.limit)
	}
}

func TestEnrichStopsWhenCircuitOpens(t *testing.T) {
	store := &memStore{pending: []models.Artist{
		artist(1, "Nova", "mbid-nova"),
		artist(2, "Ghost", "mbid-ghost"),
		artist(3, "Echo", "mbid-echo"),
	}}
	lookup := &scriptedLookup{
		answers: map[string]*ArtistProfile{"mbid-nova": {Genre: str("pop")}},
		errs:    map[string]error{"mbid-ghost": gobreaker.ErrOpenState},
	}

	res, err := New(store, lookup, 10).Enrich(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(lookup.calls) != 2 {
		t.Errorf("lookups = %v, want to stop after the open circuit", lookup.calls)
	}
	if res.Enriched != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestEnrichStorageFailureIsReturned(t *testing.T) {
	store := &memStore{
		pending: []models.Artist{artist(1, "Nova", "mbid-nova")},
		setErr:  models.Persistence("set_artist_profile", errors.New("IO Error"), true),
	}
	lookup := &scriptedLookup{answers: map[string]*ArtistProfile{"mbid-nova": {}}}

	if _, err := New(store, lookup, 10).Enrich(context.Background()); !errors.Is(err, models.ErrPersistence) {
		t.Errorf("error = %v, want PersistenceError", err)
	}
}

func TestEnrichCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &memStore{pending: []models.Artist{artist(1, "Nova", "mbid-nova")}}
	lookup := &scriptedLookup{errs: map[string]error{"mbid-nova": context.Canceled}}

	if _, err := New(store, lookup, 10).Enrich(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestEnrichRespectsMaxArtists(t *testing.T) {
	store := &memStore{pending: []models.Artist{
		artist(1, "Nova", "mbid-nova"),
		artist(2, "Echo", "mbid-echo"),
	}}
	lookup := &scriptedLookup{answers: map[string]*ArtistProfile{"mbid-nova": {}, "mbid-echo": {}}}

	res, err := New(store, lookup, 1).Enrich(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Enriched != 1 || len(lookup.calls) != 1 {
		t.Errorf("result = %+v after %d lookups, want one", res, len(lookup.calls))
	}
}
