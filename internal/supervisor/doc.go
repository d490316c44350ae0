// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Package supervisor runs `listenflow serve` under a suture v4 tree.

	RootSupervisor ("listenflow")
	├── IngestSupervisor ("ingest-layer")
	│   └── IngestService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Each layer counts failures on its own, so a restart storm in one never
backs off the other.

# Configuration

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,              // failures before backoff
	    FailureDecay:     30.0,             // seconds for failures to decay
	    FailureBackoff:   15 * time.Second, // backoff duration
	    ShutdownTimeout:  10 * time.Second, // per-service stop timeout
	}

Zero fields take the values above. ShutdownTimeout has to cover one batch
commit, since a batch that has started is never abandoned.

# Logging

Suture events go through sutureslog into the zerolog-backed slog.Logger from
logging.NewSlogLogger.

# What Is NOT Supervised

DuckDB and BadgerDB are embedded and owned by the serve command. One-shot
`listenflow run` invocations never start a tree.
*/
package supervisor
