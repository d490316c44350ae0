// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package main

import (
	"fmt"
	"net/http"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/database"
	"github.com/tomtom215/listenflow/internal/enrich"
	"github.com/tomtom215/listenflow/internal/history"
	"github.com/tomtom215/listenflow/internal/ingest"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/persist"
	"github.com/tomtom215/listenflow/internal/source"
)

// pipeline owns every resource one process needs to run ingestion.
type pipeline struct {
	db      *database.DB
	reader  source.Reader
	history *history.Store
	orch    *ingest.Orchestrator
}

// openPipeline wires storage, source, history, enrichment and the
// orchestrator from cfg.
// On error everything opened so far is closed.
func openPipeline(cfg *config.Config) (*pipeline, error) {
	p := &pipeline{}
	if err := p.open(cfg); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) open(cfg *config.Config) error {
	var err error
	if p.db, err = database.New(&cfg.Database); err != nil {
		return err
	}
	logging.Info().Str("db_path", p.db.Path()).Msg("Database initialized")

	p.reader, err = source.New(&cfg.Source, source.Dependencies{
		DB:         p.db.Conn(),
		HTTPClient: &http.Client{Timeout: cfg.Source.API.Timeout},
	})
	if err != nil {
		return fmt.Errorf("create %s source: %w", cfg.Source.Kind, err)
	}

	deps := ingest.Deps{
		Watermarks:  p.db,
		Reader:      p.reader,
		Coordinator: persist.NewCoordinator(persist.NewDuckDBStore(p.db), cfg.Database.CommitTimeout),
	}

	if cfg.History.Enabled {
		if p.history, err = history.Open(&cfg.History); err != nil {
			return err
		}
		// Only a non-nil store goes into the interface.
		deps.History = p.history
	}

	if cfg.Enrich.Enabled {
		client := enrich.NewMusicBrainzClient(&cfg.Enrich, nil)
		deps.Enricher = enrich.New(p.db, client, cfg.Enrich.MaxArtists)
		logging.Info().Str("musicbrainz_url", cfg.Enrich.BaseURL).Int("max_artists", cfg.Enrich.MaxArtists).Msg("Artist enrichment enabled")
	}

	p.orch, err = ingest.New(&cfg.Ingest, deps)
	return err
}

// Close releases everything in reverse order of opening.
func (p *pipeline) Close() {
	if p.reader != nil {
		if err := p.reader.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing source")
		}
	}
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing run history")
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}
}
