// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"time"

	"github.com/tomtom215/listenflow/internal/models"
)

// InsertPlay writes one fact row. A row with the same
// (user_id, track_id, played_at) is left untouched and inserted is false.
func (t *Tx) InsertPlay(ctx context.Context, p *models.Play) (inserted bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO plays (
			play_id, user_id, track_id, played_at, played_sec, completion_rate, clamped,
			device_type, country, skip_reason, liked, added_to_playlist, source, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, track_id, played_at) DO NOTHING`,
		p.PlayID, p.UserID, p.TrackID, p.PlayedAt.UTC(), p.PlayedSec, nullable(p.CompletionRate), p.Clamped,
		p.DeviceType, p.Country, nullable(p.SkipReason), p.Liked, p.AddedToPlaylist,
		string(p.Source), p.IngestedAt.UTC(),
	)
	if err != nil {
		return false, persistenceError("insert_play", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistenceError("insert_play", err)
	}
	return affected == 1, nil
}

// PlayExists reports whether the natural key is already stored.
func (t *Tx) PlayExists(ctx context.Context, userID string, trackID int64, playedAt time.Time) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plays WHERE user_id = ? AND track_id = ? AND played_at = ?`,
		userID, trackID, playedAt.UTC(),
	).Scan(&n)
	if err != nil {
		return false, persistenceError("lookup_play", err)
	}
	return n > 0, nil
}
