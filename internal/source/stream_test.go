// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/normalize"
)

func streamConfig() *config.SourceConfig {
	cfg := testSourceConfig()
	cfg.Kind = "stream"
	return cfg
}

func TestStreamReaderMemoryTransport(t *testing.T) {
	t.Parallel()

	r, err := NewStreamReader(streamConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	records := readAll(t, r, nil)
	if len(records) != 40 {
		t.Fatalf("got %d records, want 40", len(records))
	}
	assertAscending(t, records)
	for i, rec := range records {
		if rec.Source != models.SourceStream || rec.Err != "" {
			t.Fatalf("record %d = %+v", i, rec)
		}
		if _, rej := normalize.Normalize(rec); rej != nil {
			t.Fatalf("record %d rejected: %+v", i, rej)
		}
	}

	// The channel is persistent, so a second read replays the topic and the
	// watermark does the filtering.
	start, _ := streamConfig().Stream.Simulate.StartTime()
	since := start.Add(30 * time.Minute)
	again := readAll(t, r, &since)
	if len(again) != 10 {
		t.Fatalf("second read returned %d records, want 10", len(again))
	}
	first, _ := normalize.EventTime(again[0])
	if !first.Equal(since) {
		t.Errorf("first record at %v, want %v", first, since)
	}
}

func TestSimulatorDeterministic(t *testing.T) {
	t.Parallel()

	cfg := streamConfig().Stream.Simulate
	a, err := NewSimulator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewSimulator(cfg)

	la, lb := a.Listens(), b.Listens()
	if len(la) != cfg.Count || len(lb) != cfg.Count {
		t.Fatalf("listens = %d and %d, want %d", len(la), len(lb), cfg.Count)
	}
	for i := range la {
		if la[i].ID != lb[i].ID {
			t.Fatalf("listen %d id %s != %s", i, la[i].ID, lb[i].ID)
		}
		for k, v := range la[i].Fields {
			if lb[i].Fields[k] != v {
				t.Fatalf("listen %d field %s: %v != %v", i, k, v, lb[i].Fields[k])
			}
		}
	}

	cfg.Seed++
	c, _ := NewSimulator(cfg)
	if c.Listens()[0].ID == la[0].ID {
		t.Error("a different seed produced the same message ids")
	}

	cfg.Users = 0
	if _, err := NewSimulator(cfg); err == nil {
		t.Error("expected an error for zero users")
	}
}

func TestSubscriberReaderUndecodablePayload(t *testing.T) {
	t.Parallel()

	cfg := streamConfig()
	ch := NewMemoryPubSub(logging.NewWatermillLogger("test"))
	r := NewSubscriberReader(cfg, ch)
	defer r.Close()

	good := message.NewMessage("m-1", []byte(`{"user":"U1","track":"T1","artist":"A1","played_at":"2025-01-01T00:00:00Z","played_sec":60}`))
	bad := message.NewMessage("m-2", []byte(`{"user":`))
	if err := ch.Publish(cfg.Stream.Topic, good, bad); err != nil {
		t.Fatal(err)
	}

	records := readAll(t, r, nil)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Err == "" || records[0].Origin != "listens:m-2" {
		t.Errorf("bad payload record = %+v", records[0])
	}
	if _, rej := normalize.Normalize(records[1]); rej != nil {
		t.Errorf("good payload rejected: %+v", rej)
	}
}

func TestStreamReaderCancelled(t *testing.T) {
	t.Parallel()

	cfg := streamConfig()
	cfg.Stream.IdleTimeout = time.Minute
	r := NewSubscriberReader(cfg, NewMemoryPubSub(logging.NewWatermillLogger("test")))
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.ReadSince(ctx, nil); err == nil {
		t.Error("expected the context error")
	}
}
