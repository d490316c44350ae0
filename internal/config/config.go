// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package config loads Listenflow configuration with Koanf v2.
//
// Sources are layered, highest priority last:
//
//  1. Built-in defaults (defaultConfig)
//  2. YAML file (config.yaml, /etc/listenflow/config.yaml, CONFIG_PATH or --config)
//  3. Environment variables (see envMappings)
//
// Load validates the result before returning it.
package config

import (
	"fmt"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database" json:"database"`
	Source   SourceConfig   `koanf:"source" json:"source"`
	Ingest   IngestConfig   `koanf:"ingest" json:"ingest"`
	Enrich   EnrichConfig   `koanf:"enrich" json:"enrich"`
	History  HistoryConfig  `koanf:"history" json:"history"`
	Server   ServerConfig   `koanf:"server" json:"server"`
	Logging  LoggingConfig  `koanf:"logging" json:"logging"`
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path" json:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory" json:"max_memory" validate:"required"`
	Threads   int    `koanf:"threads" json:"threads" validate:"gte=0"`

	// QueryTimeout bounds the watermark query and health checks.
	QueryTimeout time.Duration `koanf:"query_timeout" json:"query_timeout" validate:"gt=0"`

	// CommitTimeout bounds one batch transaction from begin to commit.
	CommitTimeout time.Duration `koanf:"commit_timeout" json:"commit_timeout" validate:"gt=0"`
}

// SourceConfig selects and configures the upstream reader.
type SourceConfig struct {
	Kind string `koanf:"kind" json:"kind" validate:"oneof=file api stream"`

	// MaxWindow caps how far past the watermark one run reads. Zero means unbounded.
	MaxWindow time.Duration `koanf:"max_window" json:"max_window" validate:"gte=0"`

	// MaxRecords caps the records returned by one read. Zero means unbounded.
	MaxRecords int `koanf:"max_records" json:"max_records" validate:"gte=0"`

	File   FileSourceConfig   `koanf:"file" json:"file"`
	API    APISourceConfig    `koanf:"api" json:"api"`
	Stream StreamSourceConfig `koanf:"stream" json:"stream"`
}

// FileSourceConfig configures batch file ingestion.
type FileSourceConfig struct {
	Path string `koanf:"path" json:"path"`

	// Format is csv, json, jsonl or parquet. Empty infers from the extension.
	Format string `koanf:"format" json:"format" validate:"omitempty,oneof=csv json jsonl parquet"`
}

// APISourceConfig configures the ListenBrainz listens API reader.
type APISourceConfig struct {
	BaseURL           string        `koanf:"base_url" json:"base_url"`
	User              string        `koanf:"user" json:"user"`
	Token             string        `koanf:"token" json:"token"`
	PageSize          int           `koanf:"page_size" json:"page_size" validate:"gte=1,lte=1000"`
	MaxPages          int           `koanf:"max_pages" json:"max_pages" validate:"gte=0"`
	Timeout           time.Duration `koanf:"timeout" json:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" json:"burst" validate:"gte=1"`
	MaxRetries        int           `koanf:"max_retries" json:"max_retries" validate:"gte=0"`
	RetryBaseDelay    time.Duration `koanf:"retry_base_delay" json:"retry_base_delay" validate:"gte=0"`
}

// StreamSourceConfig configures the Watermill-based stream reader.
type StreamSourceConfig struct {
	// Transport is memory (in-process simulated stream) or nats (JetStream).
	Transport string `koanf:"transport" json:"transport" validate:"oneof=memory nats"`
	Topic     string `koanf:"topic" json:"topic" validate:"required"`
	URL       string `koanf:"url" json:"url"`

	// IdleTimeout ends a read when no message arrives for this long.
	IdleTimeout time.Duration `koanf:"idle_timeout" json:"idle_timeout" validate:"gt=0"`

	Simulate SimulateConfig `koanf:"simulate" json:"simulate"`
}

// SimulateConfig drives the deterministic listen generator.
type SimulateConfig struct {
	Count           int           `koanf:"count" json:"count" validate:"gte=0"`
	Seed            int64         `koanf:"seed" json:"seed"`
	Users           int           `koanf:"users" json:"users" validate:"gte=1"`
	Artists         int           `koanf:"artists" json:"artists" validate:"gte=1"`
	TracksPerArtist int           `koanf:"tracks_per_artist" json:"tracks_per_artist" validate:"gte=1"`
	Start           string        `koanf:"start" json:"start"`
	Spacing         time.Duration `koanf:"spacing" json:"spacing" validate:"gt=0"`
}

// IngestConfig configures the orchestrator.
type IngestConfig struct {
	BatchSize     int           `koanf:"batch_size" json:"batch_size" validate:"gte=1,lte=100000"`
	RetryAttempts int           `koanf:"retry_attempts" json:"retry_attempts" validate:"gte=1"`
	RetryDelay    time.Duration `koanf:"retry_delay" json:"retry_delay" validate:"gte=0"`

	// ReadAttempts bounds whole-read retries after SourceUnavailable.
	ReadAttempts int `koanf:"read_attempts" json:"read_attempts" validate:"gte=1"`

	// InitialSince is the RFC 3339 lower bound used when the store is empty
	// or FullResync is set. Empty means all history.
	InitialSince string `koanf:"initial_since" json:"initial_since"`
	FullResync   bool   `koanf:"full_resync" json:"full_resync"`

	RejectionSamples int `koanf:"rejection_samples" json:"rejection_samples" validate:"gte=0"`
}

// EnrichConfig configures the optional MusicBrainz artist lookup that runs
// after a completed ingestion run.
type EnrichConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	BaseURL string `koanf:"base_url" json:"base_url"`

	// UserAgent identifies the application to MusicBrainz, which rejects
	// anonymous clients.
	UserAgent string `koanf:"user_agent" json:"user_agent"`

	Timeout           time.Duration `koanf:"timeout" json:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" json:"requests_per_second" validate:"gt=0"`

	// MaxArtists bounds the lookups made after one run.
	MaxArtists int `koanf:"max_artists" json:"max_artists" validate:"gte=1"`
}

// HistoryConfig configures the BadgerDB run-history store.
type HistoryConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	Path    string `koanf:"path" json:"path"`
	Retain  int    `koanf:"retain" json:"retain" validate:"gte=1"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	ListenAddr string        `koanf:"listen_addr" json:"listen_addr" validate:"required"`
	Interval   time.Duration `koanf:"interval" json:"interval" validate:"gt=0"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller" json:"caller"`
}

// InitialSinceTime parses Ingest.InitialSince. The zero time means all history.
func (c *IngestConfig) InitialSinceTime() (time.Time, error) {
	if c.InitialSince == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.InitialSince)
	if err != nil {
		return time.Time{}, fmt.Errorf("initial_since %q is not RFC 3339: %w", c.InitialSince, err)
	}
	return t.UTC(), nil
}

// StartTime parses Simulate.Start, defaulting to 2025-01-01T00:00:00Z.
func (c *SimulateConfig) StartTime() (time.Time, error) {
	if c.Start == "" {
		return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("simulate start %q is not RFC 3339: %w", c.Start, err)
	}
	return t.UTC(), nil
}

// Redacted returns a copy with secrets masked, for the config command.
func (c *Config) Redacted() Config {
	out := *c
	if out.Source.API.Token != "" {
		out.Source.API.Token = "********"
	}
	return out
}
