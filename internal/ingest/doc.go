// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Package ingest drives one ingestion pass from watermark to committed plays.

A run walks a small state machine:

	Idle -> FetchingCursor -> Reading -> Normalizing -> Resolving -> Persisting
	                             ^                                       |
	                             +---------------- next batch -----------+
	Reading -> Completed         (source exhausted)
	any non-terminal -> Failed

The source is consumed in batches of ingest.batch_size records. Each batch is
one transaction through the persist package, so a failure never leaves half a
batch behind and batches committed before a failure stay valid.

# Failure handling

  - Rejected records and unresolvable events are counted in the rejection
    report and never stop a batch.
  - A PersistenceError retries the batch with exponential backoff up to
    ingest.retry_attempts, then fails the run.
  - A SourceUnavailable error re-derives the watermark and re-opens the source,
    up to ingest.read_attempts reads.
  - SourceRejected (the source refused the request, e.g. a bad token) fails
    the run at once.
  - StorageUnavailable while fetching the cursor fails the run at once.

An optional Enricher runs after a completed, non-dry run. Its errors are
logged and never change the outcome.

Cancellation is checked between batches. A batch that has started runs to
commit or rollback, bounded by database.commit_timeout.

# Summary

Every run returns a Summary with totals, the last committed watermark and,
for failed runs, the point of failure. No state survives between runs other
than what is stored, so re-running a failed run is always safe.
*/
package ingest
