// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/tomtom215/listenflow/internal/metrics"
)

// MaxPlayedAt returns the greatest played_at in the plays table, or nil when
// the table is empty. Failures are returned as StorageUnavailable.
func (db *DB) MaxPlayedAt(ctx context.Context) (*time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveQuery("max_played_at", time.Now())

	var maxTS sql.NullTime
	if err := db.conn.QueryRowContext(ctx, `SELECT MAX(played_at) FROM plays`).Scan(&maxTS); err != nil {
		return nil, storageError("max_played_at", err)
	}
	if !maxTS.Valid {
		return nil, nil
	}
	ts := maxTS.Time.UTC()
	return &ts, nil
}
