// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Package services adapts listenflow components to suture.Service.

  - HTTPServerService turns ListenAndServe/Shutdown into Serve.
  - IngestService runs the orchestrator on an interval and on Trigger.

Return values follow suture's rules:

	nil         -> stopped cleanly, not restarted
	error       -> crashed, restarted with backoff
	ctx.Err()   -> shutdown requested

Every service implements fmt.Stringer so suture events name it.

A failed ingestion run is not a crash. IngestService logs it and waits for
the next tick; only a broken HTTP listener makes suture restart a service.
*/
package services
