// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

/*
Package api is the operator HTTP surface of `listenflow serve`.

Routing uses chi. Every JSON response shares one envelope:

	{"status":"success","data":{...},"metadata":{"timestamp":"...","query_time_ms":1}}
	{"status":"error","data":null,"metadata":{...},"error":{"code":"NOT_FOUND","message":"Run not found"}}

/metrics is the promhttp handler over the default registry, which carries
the collectors of internal/metrics.

The API is read-mostly. The only write is POST /runs, which queues a run on
the scheduler and is rate limited per client IP with httprate. There is no
authentication; bind server.listen_addr to a trusted interface.
*/
package api
