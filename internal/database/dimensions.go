// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tomtom215/listenflow/internal/models"
)

// InsertOrGetUser inserts u unless a user with the same user_id exists.
// Existing rows are never updated. created reports whether u was inserted.
func (t *Tx) InsertOrGetUser(ctx context.Context, u *models.User) (created bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (user_id, username, email, country, subscription_tier, signup_date, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		u.UserID, u.Username, nullable(u.Email), u.Country, u.SubscriptionTier,
		u.SignupDate.UTC(), u.LastActive.UTC(),
	)
	if err != nil {
		return false, persistenceError("insert_user", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistenceError("insert_user", err)
	}
	return affected == 1, nil
}

// InsertOrGetArtist returns the artist_id for a.ArtistName, inserting a new
// row when the name is unseen.
func (t *Tx) InsertOrGetArtist(ctx context.Context, a *models.Artist) (id int64, created bool, err error) {
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO artists (artist_name, artist_mbid, genre_primary, country, verified, monthly_listeners)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (artist_name) DO NOTHING
		RETURNING artist_id`,
		a.ArtistName, nullable(a.MBID), nullable(a.GenrePrimary), nullable(a.Country), a.Verified, nullable(a.MonthlyListeners),
	).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, persistenceError("insert_artist", err)
	}

	id, found, err := t.LookupArtist(ctx, a.ArtistName)
	if err != nil {
		return 0, false, err
	}
	if !found {
		// Conflict reported but the row is not visible: another writer holds it.
		return 0, false, persistenceError("insert_artist", errors.New("transaction conflict: artist row not visible"))
	}
	return id, false, nil
}

// InsertOrGetTrack returns the stored track for (tr.TrackName, tr.ArtistID),
// inserting tr when the pair is unseen. The returned track carries the
// stored attributes, which may differ from tr for an existing row.
func (t *Tx) InsertOrGetTrack(ctx context.Context, tr *models.Track) (stored models.Track, created bool, err error) {
	var id int64
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO tracks (track_name, artist_id, album, genre, duration_sec, explicit, popularity_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (track_name, artist_id) DO NOTHING
		RETURNING track_id`,
		tr.TrackName, tr.ArtistID, nullable(tr.Album), nullable(tr.Genre),
		nullable(tr.DurationSec), tr.Explicit, nullable(tr.PopularityScore),
	).Scan(&id)
	switch {
	case err == nil:
		stored = *tr
		stored.TrackID = id
		return stored, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.Track{}, false, persistenceError("insert_track", err)
	}

	existing, err := t.LookupTrack(ctx, tr.TrackName, tr.ArtistID)
	if err != nil {
		return models.Track{}, false, err
	}
	if existing == nil {
		return models.Track{}, false, persistenceError("insert_track", errors.New("transaction conflict: track row not visible"))
	}
	return *existing, false, nil
}

// LookupUser reports whether userID exists.
func (t *Tx) LookupUser(ctx context.Context, userID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, persistenceError("lookup_user", err)
	}
	return n > 0, nil
}

// LookupArtist returns the artist_id for name.
func (t *Tx) LookupArtist(ctx context.Context, name string) (id int64, found bool, err error) {
	err = t.tx.QueryRowContext(ctx, `SELECT artist_id FROM artists WHERE artist_name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, persistenceError("lookup_artist", err)
	}
	return id, true, nil
}

// LookupTrack returns the stored track for (name, artistID), or nil.
func (t *Tx) LookupTrack(ctx context.Context, name string, artistID int64) (*models.Track, error) {
	var (
		tr         models.Track
		album      sql.NullString
		genre      sql.NullString
		duration   sql.NullInt64
		popularity sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT track_id, track_name, artist_id, album, genre, duration_sec, explicit, popularity_score
		FROM tracks WHERE track_name = ? AND artist_id = ?`,
		name, artistID,
	).Scan(&tr.TrackID, &tr.TrackName, &tr.ArtistID, &album, &genre, &duration, &tr.Explicit, &popularity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("lookup_track", err)
	}
	if album.Valid {
		tr.Album = &album.String
	}
	if genre.Valid {
		tr.Genre = &genre.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		tr.DurationSec = &d
	}
	if popularity.Valid {
		p := int(popularity.Int64)
		tr.PopularityScore = &p
	}
	return &tr, nil
}
