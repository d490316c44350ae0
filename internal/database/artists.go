// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/listenflow/internal/models"
)

// ArtistsToEnrich returns up to limit artists that carry a MusicBrainz id
// and have not been looked up yet, oldest first.
func (db *DB) ArtistsToEnrich(ctx context.Context, limit int) ([]models.Artist, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT artist_id, artist_name, artist_mbid
		FROM artists
		WHERE artist_mbid IS NOT NULL AND enriched_at IS NULL
		ORDER BY artist_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list artists to enrich: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.Artist
	for rows.Next() {
		var (
			a    models.Artist
			mbid string
		)
		if err := rows.Scan(&a.ArtistID, &a.ArtistName, &mbid); err != nil {
			return nil, fmt.Errorf("scan artist: %w", err)
		}
		a.MBID = &mbid
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetArtistProfile fills genre_primary and country where they are still
// NULL and stamps enriched_at. Values already stored are never replaced.
func (db *DB) SetArtistProfile(ctx context.Context, artistID int64, genre, country *string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		UPDATE artists
		SET genre_primary = COALESCE(genre_primary, ?),
		    country = COALESCE(country, ?),
		    enriched_at = ?
		WHERE artist_id = ?`,
		nullable(genre), nullable(country), time.Now().UTC(), artistID,
	)
	if err != nil {
		return persistenceError("set_artist_profile", err)
	}
	return nil
}

// GetArtist returns the stored artist row for name, or nil when absent.
func (db *DB) GetArtist(ctx context.Context, name string) (*models.Artist, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		a        models.Artist
		mbid     sql.NullString
		genre    sql.NullString
		country  sql.NullString
		listener sql.NullInt64
		enriched sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT artist_id, artist_name, artist_mbid, genre_primary, country, verified, monthly_listeners, enriched_at
		FROM artists WHERE artist_name = ?`, name,
	).Scan(&a.ArtistID, &a.ArtistName, &mbid, &genre, &country, &a.Verified, &listener, &enriched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artist %s: %w", name, err)
	}
	if mbid.Valid {
		a.MBID = &mbid.String
	}
	if genre.Valid {
		a.GenrePrimary = &genre.String
	}
	if country.Valid {
		a.Country = &country.String
	}
	if listener.Valid {
		a.MonthlyListeners = &listener.Int64
	}
	if enriched.Valid {
		t := enriched.Time.UTC()
		a.EnrichedAt = &t
	}
	return &a, nil
}
