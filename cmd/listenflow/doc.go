// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Command listenflow ingests music listening events into a DuckDB star schema.

Every run derives its starting point from MAX(played_at) in the plays table,
reads newer records from the configured source, and commits them batch by
batch. Re-running any run, failed or not, is always safe.

# Commands

	listenflow run [--dry-run] [--full-resync]   one ingestion pass
	listenflow health                            storage reachability
	listenflow config                            effective configuration
	listenflow history [--limit N]               recorded run summaries
	listenflow serve                             scheduled runs plus HTTP API
	listenflow simulate [--count N]              publish simulated listens to NATS

run prints the run summary as JSON on stdout and exits 1 when the run ends
Failed. The summary carries the rejected count and the last good watermark,
so an operator knows how much is safely stored. Logs go to stderr.

# Configuration

Configuration is loaded via Koanf v2 (highest priority wins):

	Priority: Environment variables > Config file > Defaults

The file is --config, CONFIG_PATH, ./config.yaml or
/etc/listenflow/config.yaml, in that order.

	DUCKDB_PATH=./listenflow.duckdb
	SOURCE_KIND=file                  # file, api, stream
	SOURCE_FILE_PATH=./listens.csv    # csv, json, jsonl, parquet
	LISTENBRAINZ_USER=someone         # api source
	INGEST_BATCH_SIZE=1000
	HISTORY_ENABLED=true
	LOG_LEVEL=info
	LOG_FORMAT=json                   # json, console

# Signal Handling

SIGINT and SIGTERM cancel the run context. The batch in flight runs to commit
or rollback; the run then fails as cancelled and exits 1. In serve mode the
supervisor tree shuts down within its shutdown timeout.

# Concurrency

DuckDB allows one writing process per database file. Overlapping runs inside
one serve process are safe; a second process against the same file fails to
open it.
*/
package main
