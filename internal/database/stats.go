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

// Counts holds table row counts for the health command.
type Counts struct {
	Users   int64 `json:"users"`
	Artists int64 `json:"artists"`
	Tracks  int64 `json:"tracks"`
	Plays   int64 `json:"plays"`
}

// Counts returns the row count of every table in one round trip.
func (db *DB) Counts(ctx context.Context) (Counts, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var c Counts
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM artists),
			(SELECT COUNT(*) FROM tracks),
			(SELECT COUNT(*) FROM plays)`,
	).Scan(&c.Users, &c.Artists, &c.Tracks, &c.Plays)
	if err != nil {
		return Counts{}, storageError("counts", err)
	}
	return c, nil
}

// GetUser returns the stored user row, or nil when absent.
func (db *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		u     models.User
		email sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, username, email, country, subscription_tier, signup_date, last_active
		FROM users WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.Username, &email, &u.Country, &u.SubscriptionTier, &u.SignupDate, &u.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	u.SignupDate = u.SignupDate.UTC()
	u.LastActive = u.LastActive.UTC()
	return &u, nil
}

// CountArtistsByName returns how many artist rows carry name. The UNIQUE
// constraint keeps this at zero or one.
func (db *DB) CountArtistsByName(ctx context.Context, name string) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM artists WHERE artist_name = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count artists: %w", err)
	}
	return n, nil
}

// PlayRow is a denormalized play used by tests and the history report.
type PlayRow struct {
	PlayID         string
	UserID         string
	TrackName      string
	ArtistName     string
	PlayedAt       time.Time
	PlayedSec      int
	CompletionRate *float64
	Clamped        bool
	DeviceType     string
	Country        string
	Source         string
}

// ListPlays returns plays ordered by played_at, joined to their dimensions.
func (db *DB) ListPlays(ctx context.Context, limit int) ([]PlayRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT p.play_id::VARCHAR, p.user_id, t.track_name, a.artist_name, p.played_at,
		       p.played_sec, p.completion_rate, p.clamped, p.device_type, p.country, p.source
		FROM plays p
		JOIN tracks t ON t.track_id = p.track_id
		JOIN artists a ON a.artist_id = t.artist_id
		ORDER BY p.played_at, p.user_id, t.track_name
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list plays: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []PlayRow
	for rows.Next() {
		var (
			r    PlayRow
			rate sql.NullFloat64
		)
		if err := rows.Scan(&r.PlayID, &r.UserID, &r.TrackName, &r.ArtistName, &r.PlayedAt,
			&r.PlayedSec, &rate, &r.Clamped, &r.DeviceType, &r.Country, &r.Source); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		if rate.Valid {
			v := rate.Float64
			r.CompletionRate = &v
		}
		r.PlayedAt = r.PlayedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
