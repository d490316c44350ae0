// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Package source reads raw listening records from upstream systems.

Every upstream is a Reader: ReadSince(ctx, since) returns an Iterator over
loosely typed records at or after the watermark, in ascending event time.
No schema is enforced here; the normalize package does that.

# Variants

  - FileReader: CSV (header row), JSON array and JSON Lines exports
  - ParquetReader: Parquet exports read through DuckDB read_parquet
  - ListenBrainzReader: the ListenBrainz listens API, paged forward by min_ts
  - StreamReader: a Watermill topic, either an in-process persistent channel
    fed by the Simulator or a NATS JetStream stream

New picks the variant from config.SourceConfig.

# Errors

Transport and whole-file parse failures are returned as SourceUnavailable
PipelineErrors. A single undecodable record is not an error: it is yielded
with RawRecord.Err set and rejected by the normalizer.

# Ordering

Batch files and streams are read fully, filtered with Window.Apply and sorted
by event time. The API reader re-orders each newest-first page and yields
pages lazily. Records without a parsable event time are yielded first so
they reach the rejection report.
*/
package source
