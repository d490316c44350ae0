// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package testinfra provides containers for integration tests.
//
// Container helpers build with the integration tag and need Docker. The
// embedded JetStream server builds with the nats tag and needs neither:
//
//	go test -tags integration ./internal/source/...
//	go test -tags nats ./internal/source/...
//
// # NATS Container
//
// NATSContainer runs a real NATS server with JetStream so the stream source
// can be exercised end to end against the same transport used in
// production:
//
//	func TestStreamOverNATS(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    nats, err := testinfra.NewNATSContainer(ctx, testinfra.WithTestLogger(t))
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, nats.Container)
//
//	    cfg.Source.Stream.Transport = "nats"
//	    cfg.Source.Stream.URL = nats.URL
//	    // ...
//	}
//
// Tests skip when Docker is unavailable. The first run pulls the image.
//
// # Embedded NATS
//
// NewEmbeddedNATS starts nats-server in-process on a random port and returns
// its client URL. Shutdown is registered with t.Cleanup.
package testinfra
