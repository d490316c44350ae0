// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/database"
	"github.com/tomtom215/listenflow/internal/enrich"
	"github.com/tomtom215/listenflow/internal/persist"
	"github.com/tomtom215/listenflow/internal/source"
)

const (
	novaMBID = "b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d"
	echoMBID = "a74b1b7f-71a5-4011-9441-d0b5e4122711"
)

type countingEnricher struct {
	calls atomic.Int32
	res   enrich.Result
	err   error
}

func (c *countingEnricher) Enrich(context.Context) (enrich.Result, error) {
	c.calls.Add(1)
	return c.res, c.err
}

func newEnrichingPipeline(t *testing.T, db *database.DB, reader source.Reader, e Enricher) *Orchestrator {
	t.Helper()
	orch, err := New(ingestConfig(), Deps{
		Watermarks:  db,
		Reader:      reader,
		Coordinator: persist.NewCoordinator(persist.NewDuckDBStore(db), time.Minute),
		Enricher:    e,
	})
	if err != nil {
		t.Fatal(err)
	}
	return orch
}

func TestRunEnrichesArtistsAfterCommit(t *testing.T) {
	db := setupTestDB(t)

	mb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/artist/") {
		case novaMBID:
			_, _ = w.Write([]byte(`{"country": "SE", "genres": [{"name": "electronic", "count": 4}]}`))
		case echoMBID:
			http.Error(w, "slow down", http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer mb.Close()

	records := listens(4)
	for i := range records {
		if records[i].Fields["artist"] == "A0" {
			records[i].Fields["artist_mbid"] = novaMBID
		} else {
			records[i].Fields["artist_mbid"] = echoMBID
		}
	}

	client := enrich.NewMusicBrainzClient(&config.EnrichConfig{
		BaseURL:           mb.URL,
		UserAgent:         "listenflow-test/0.1",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		MaxArtists:        10,
	}, mb.Client())
	orch := newEnrichingPipeline(t, db, newFakeReader(records), enrich.New(db, client, 10))

	s, err := orch.Run(context.Background(), RunOptions{})
	mustComplete(t, s, err)
	if s.Enrichment == nil || s.Enrichment.Enriched != 1 || s.Enrichment.Failed != 1 {
		t.Fatalf("enrichment = %+v, want 1 enriched and 1 failed", s.Enrichment)
	}

	a0, err := db.GetArtist(context.Background(), "A0")
	if err != nil || a0 == nil {
		t.Fatalf("GetArtist(A0) = %v, %v", a0, err)
	}
	if a0.MBID == nil || *a0.MBID != novaMBID {
		t.Errorf("A0 mbid = %v", a0.MBID)
	}
	if a0.GenrePrimary == nil || *a0.GenrePrimary != "electronic" || a0.Country == nil || *a0.Country != "SE" {
		t.Errorf("A0 = %+v, want electronic/SE", a0)
	}

	// The failed lookup stays pending for the next run.
	pending, err := db.ArtistsToEnrich(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ArtistName != "A1" {
		t.Errorf("pending = %+v, want only A1", pending)
	}
}

func TestRunSkipsEnrichmentOnDryRunAndFailure(t *testing.T) {
	db := setupTestDB(t)

	e := &countingEnricher{}
	orch := newEnrichingPipeline(t, db, newFakeReader(listens(3)), e)
	s, err := orch.Run(context.Background(), RunOptions{DryRun: true})
	mustComplete(t, s, err)
	if e.calls.Load() != 0 || s.Enrichment != nil {
		t.Errorf("dry run enriched: calls %d, summary %+v", e.calls.Load(), s.Enrichment)
	}

	failing := newFakeReader(listens(3))
	failing.failAt = 0
	failing.failReads = 100
	orch = newEnrichingPipeline(t, db, failing, e)
	if _, err := orch.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("expected the read to fail")
	}
	if e.calls.Load() != 0 {
		t.Errorf("failed run enriched %d times", e.calls.Load())
	}
}

func TestRunEnrichmentErrorKeepsRunCompleted(t *testing.T) {
	db := setupTestDB(t)

	e := &countingEnricher{res: enrich.Result{Enriched: 2}, err: errors.New("IO Error: disk full")}
	orch := newEnrichingPipeline(t, db, newFakeReader(listens(3)), e)

	s, err := orch.Run(context.Background(), RunOptions{})
	mustComplete(t, s, err)
	if e.calls.Load() != 1 {
		t.Errorf("enricher calls = %d, want 1", e.calls.Load())
	}
	if s.Enrichment == nil || s.Enrichment.Enriched != 2 {
		t.Errorf("enrichment = %+v", s.Enrichment)
	}
	if s.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", s.Inserted)
	}
}
