// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Package models defines the data structures shared by every pipeline stage.

Records move through the pipeline in three shapes:

  - RawRecord: a loosely typed field map exactly as a source produced it
  - CanonicalEvent: the validated, unit-converted shape produced by the normalizer
  - ResolvedEvent: a canonical event with User, Artist and Track keys attached

The dimension rows (User, Artist, Track) and the Play fact mirror the star
schema persisted by the database package.

Errors are classified with PipelineError. Per-record outcomes (rejections and
idempotent skips) are values collected in a RejectionReport and never abort a
batch.
*/
package models
