// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

//go:build integration

package source

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/testinfra"
)

// TestStreamReaderNATS publishes simulated listens to JetStream and reads
// them back through the nats transport.
func TestStreamReaderNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	nats, err := testinfra.NewNATSContainer(ctx, testinfra.WithTestLogger(t))
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, nats.Container)

	cfg := streamConfig()
	cfg.Stream.Transport = TransportNATS
	cfg.Stream.URL = nats.URL
	cfg.Stream.IdleTimeout = 3 * time.Second

	sim, err := NewSimulator(cfg.Stream.Simulate)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := NewNATSPublisher(&cfg.Stream, logging.NewWatermillLogger("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	// Publishing twice must not duplicate: message IDs are deterministic.
	for i := 0; i < 2; i++ {
		n, err := sim.Publish(ctx, pub, cfg.Stream.Topic)
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if n != cfg.Stream.Simulate.Count {
			t.Fatalf("published %d, want %d", n, cfg.Stream.Simulate.Count)
		}
	}

	r, err := NewStreamReader(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	records := readAll(t, r, nil)
	if len(records) != cfg.Stream.Simulate.Count {
		t.Fatalf("read %d records, want %d", len(records), cfg.Stream.Simulate.Count)
	}
	assertAscending(t, records)

	start, _ := cfg.Stream.Simulate.StartTime()
	since := start.Add(30 * time.Minute)
	if again := readAll(t, r, &since); len(again) != 10 {
		t.Errorf("read since %v returned %d records, want 10", since, len(again))
	}
}
