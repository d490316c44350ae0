// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

//go:build nats

package testinfra

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// NewEmbeddedNATS starts an in-process NATS server with JetStream on a random
// port and returns its client URL. The server is shut down by t.Cleanup.
func NewEmbeddedNATS(t *testing.T) string {
	t.Helper()

	opts := &server.Options{
		ServerName: "listenflow-test",
		Host:       "127.0.0.1",
		Port:       server.RANDOM_PORT,
		JetStream:  true,
		StoreDir:   t.TempDir(),
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready within timeout")
	}

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns.ClientURL()
}
