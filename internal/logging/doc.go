// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package logging provides the zerolog-based logger used across Listenflow.
//
// A single global logger is configured once from main:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Int("batch", n).Msg("Batch committed")
//
// Pipeline code that runs inside an ingestion run logs through the context so
// every event carries the run ID:
//
//	ctx = logging.ContextWithRunID(ctx, runID)
//	logging.Ctx(ctx).Info().Msg("Run started")
//
// Libraries that expect other logger types are bridged rather than
// configured separately: NewSlogLogger for suture and NewWatermillLogger for
// Watermill publishers and subscribers.
//
// Always terminate event chains with Msg or Send, otherwise nothing is written.
package logging
