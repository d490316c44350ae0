// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Package database provides the DuckDB star-schema store for Listenflow.

Schema:
  - users: one row per user_id, attributes fixed at first sight
  - artists: surrogate artist_id from artist_id_seq, unique artist_name
  - tracks: surrogate track_id from track_id_seq, unique (track_name, artist_id)
  - plays: one row per (user_id, track_id, played_at), referencing all three

Dimension rows are append-only. The InsertOrGet* methods insert with an
explicit ON CONFLICT target and fall back to a lookup when the row already
exists, so two writers racing on the same natural key both end up with the
same surrogate key. A race that surfaces as a DuckDB transaction conflict is
returned as a retryable PersistenceError and the whole batch is retried.

All batch writes go through Tx. A Tx that is neither committed nor rolled
back by its caller is rolled back by Close, so a failed batch never leaves a
partial write behind.

The watermark (MaxPlayedAt) is always derived from the plays table and is
never stored separately.

Timestamps use TIMESTAMP (UTC wall clock, no time zone) so that no ICU
extension is needed. All values written by this package are UTC.
*/
package database
