// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSchema creates sequences and tables. Statements are idempotent.
func (db *DB) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range schemaQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

func schemaQueries() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS artist_id_seq START 1`,
		`CREATE SEQUENCE IF NOT EXISTS track_id_seq START 1`,

		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT,
			country TEXT NOT NULL,
			subscription_tier TEXT NOT NULL,
			signup_date TIMESTAMP NOT NULL,
			last_active TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS artists (
			artist_id BIGINT PRIMARY KEY DEFAULT nextval('artist_id_seq'),
			artist_name TEXT NOT NULL UNIQUE,
			artist_mbid TEXT,
			genre_primary TEXT,
			country TEXT,
			verified BOOLEAN NOT NULL DEFAULT false,
			monthly_listeners BIGINT,
			enriched_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS tracks (
			track_id BIGINT PRIMARY KEY DEFAULT nextval('track_id_seq'),
			track_name TEXT NOT NULL,
			artist_id BIGINT NOT NULL REFERENCES artists(artist_id),
			album TEXT,
			genre TEXT,
			duration_sec INTEGER,
			explicit BOOLEAN NOT NULL DEFAULT false,
			popularity_score INTEGER,
			UNIQUE (track_name, artist_id)
		)`,

		// The natural triple is the primary key of the fact table. play_id is
		// derived from it and carried for downstream joins.
		`CREATE TABLE IF NOT EXISTS plays (
			play_id UUID NOT NULL,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			track_id BIGINT NOT NULL REFERENCES tracks(track_id),
			played_at TIMESTAMP NOT NULL,
			played_sec INTEGER NOT NULL,
			completion_rate DOUBLE,
			clamped BOOLEAN NOT NULL DEFAULT false,
			device_type TEXT NOT NULL,
			country TEXT NOT NULL,
			skip_reason TEXT,
			liked BOOLEAN NOT NULL DEFAULT false,
			added_to_playlist BOOLEAN NOT NULL DEFAULT false,
			source TEXT NOT NULL,
			ingested_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, track_id, played_at)
		)`,
	}
}
