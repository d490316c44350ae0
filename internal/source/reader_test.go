// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/models"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rec(playedAt any) models.RawRecord {
	return models.RawRecord{Fields: map[string]any{"user": "U1", "played_at": playedAt}, Source: models.SourceFile}
}

func playedAts(t *testing.T, records []models.RawRecord) []any {
	t.Helper()
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r.Fields["played_at"]
	}
	return out
}

func testSourceConfig() *config.SourceConfig {
	return &config.SourceConfig{
		Kind: "file",
		API: config.APISourceConfig{
			PageSize:          2,
			Timeout:           5 * time.Second,
			RequestsPerSecond: 1000,
			Burst:             10,
			MaxRetries:        2,
			RetryBaseDelay:    time.Millisecond,
		},
		Stream: config.StreamSourceConfig{
			Transport:   "memory",
			Topic:       "listens",
			IdleTimeout: 200 * time.Millisecond,
			Simulate: config.SimulateConfig{
				Count:           40,
				Seed:            7,
				Users:           3,
				Artists:         4,
				TracksPerArtist: 3,
				Spacing:         time.Minute,
			},
		},
	}
}

func TestWindowApply(t *testing.T) {
	t.Parallel()

	records := []models.RawRecord{
		rec("2025-01-01T00:03:00Z"),
		rec("2025-01-01T00:01:00Z"),
		rec("not a time"),
		rec("2025-01-01T00:00:00Z"),
		rec("2025-01-01T05:00:00Z"),
		rec("2025-01-01T00:02:00Z"),
	}
	since := at("2025-01-01T00:01:00Z")
	gapSince := at("2025-01-01T00:03:00Z")

	tests := []struct {
		name   string
		window Window
		want   []any
	}{
		{
			name:   "unbounded sorts ascending, unknown last",
			window: Window{},
			want:   []any{"2025-01-01T00:00:00Z", "2025-01-01T00:01:00Z", "2025-01-01T00:02:00Z", "2025-01-01T00:03:00Z", "2025-01-01T05:00:00Z", "not a time"},
		},
		{
			name:   "since is inclusive",
			window: Window{Since: &since},
			want:   []any{"2025-01-01T00:01:00Z", "2025-01-01T00:02:00Z", "2025-01-01T00:03:00Z", "2025-01-01T05:00:00Z", "not a time"},
		},
		{
			name:   "max window counts from the first event after since",
			window: Window{Since: &since, MaxWindow: time.Minute},
			want:   []any{"2025-01-01T00:01:00Z", "2025-01-01T00:02:00Z", "2025-01-01T00:03:00Z", "not a time"},
		},
		{
			name:   "max window crosses a longer gap",
			window: Window{Since: &gapSince, MaxWindow: time.Hour},
			want:   []any{"2025-01-01T00:03:00Z", "2025-01-01T05:00:00Z", "not a time"},
		},
		{
			name:   "max records keeps the oldest timestamped records",
			window: Window{Since: &since, MaxRecords: 2},
			want:   []any{"2025-01-01T00:01:00Z", "2025-01-01T00:02:00Z", "not a time"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := playedAts(t, tt.window.Apply(records))
			if len(got) != len(tt.want) {
				t.Fatalf("Apply = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Apply[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWindowUntimedRecordsDoNotTakeCap(t *testing.T) {
	t.Parallel()

	records := []models.RawRecord{
		rec("not-a-time"),
		rec("not-a-time"),
		rec("2025-01-01T00:00:00Z"),
		rec("2025-01-01T00:01:00Z"),
		rec("2025-01-01T00:02:00Z"),
	}
	got := playedAts(t, Window{MaxRecords: 2}.Apply(records))
	want := []any{"2025-01-01T00:00:00Z", "2025-01-01T00:01:00Z", "not-a-time", "not-a-time"}
	if len(got) != len(want) {
		t.Fatalf("Apply = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("Apply[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWindowUntil(t *testing.T) {
	t.Parallel()

	since := at("2025-01-01T00:00:00Z")
	if (Window{MaxWindow: time.Hour}).Until() != nil {
		t.Error("a window without Since must be unbounded")
	}

	w := Window{Since: &since, MaxWindow: time.Hour}
	if w.Until() != nil {
		t.Error("Until must stay open before an event after Since is observed")
	}
	w.Observe(since)
	if w.Until() != nil {
		t.Error("the boundary event itself must not anchor the window")
	}
	first := since.Add(3 * time.Hour)
	w.Observe(first)
	w.Observe(first.Add(time.Minute))
	if until := w.Until(); until == nil || !until.Equal(first.Add(time.Hour)) {
		t.Errorf("Until = %v, want %v", until, first.Add(time.Hour))
	}
}

func TestSliceIterator(t *testing.T) {
	t.Parallel()

	it := newSliceIterator([]models.RawRecord{rec("a"), rec("b")})
	got, err := Collect(context.Background(), it)
	if err != nil || len(got) != 2 {
		t.Fatalf("Collect = %d records, %v", len(got), err)
	}
	if _, err := it.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next after drain = %v, want io.EOF", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newSliceIterator([]models.RawRecord{rec("a")}).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next on cancelled ctx = %v", err)
	}
}

func TestNewSelectsVariant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.SourceConfig)
		want   models.SourceKind
		check  func(Reader) bool
		err    bool
	}{
		{
			name:   "csv by extension",
			mutate: func(c *config.SourceConfig) { c.File.Path = "listens.csv" },
			want:   models.SourceFile,
			check:  func(r Reader) bool { _, ok := r.(*FileReader); return ok },
		},
		{
			name:   "parquet by extension",
			mutate: func(c *config.SourceConfig) { c.File.Path = "listens.parquet" },
			want:   models.SourceFile,
			check:  func(r Reader) bool { _, ok := r.(*ParquetReader); return ok },
		},
		{
			name:   "unknown extension",
			mutate: func(c *config.SourceConfig) { c.File.Path = "listens.xml" },
			err:    true,
		},
		{
			name: "api",
			mutate: func(c *config.SourceConfig) {
				c.Kind = "api"
				c.API.BaseURL = "http://127.0.0.1:1"
				c.API.User = "rob"
			},
			want:  models.SourceAPI,
			check: func(r Reader) bool { _, ok := r.(*ListenBrainzReader); return ok },
		},
		{
			name:   "memory stream",
			mutate: func(c *config.SourceConfig) { c.Kind = "stream" },
			want:   models.SourceStream,
			check:  func(r Reader) bool { _, ok := r.(*StreamReader); return ok },
		},
		{
			name:   "unknown kind",
			mutate: func(c *config.SourceConfig) { c.Kind = "ftp" },
			err:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testSourceConfig()
			tt.mutate(cfg)
			r, err := New(cfg, Dependencies{})
			if tt.err {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer r.Close()
			if r.Kind() != tt.want || !tt.check(r) {
				t.Errorf("New returned %T (%s)", r, r.Kind())
			}
		})
	}
}
