// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/listenflow/config.yaml",
	"/etc/listenflow/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "/data/listenflow.duckdb",
			MaxMemory:     "1GB",
			Threads:       0, // runtime.NumCPU()
			QueryTimeout:  30 * time.Second,
			CommitTimeout: 2 * time.Minute,
		},
		Source: SourceConfig{
			Kind:       "file",
			MaxWindow:  0,
			MaxRecords: 0,
			File: FileSourceConfig{
				Path:   "listens.csv",
				Format: "",
			},
			API: APISourceConfig{
				BaseURL:           "https://api.listenbrainz.org/1",
				PageSize:          100,
				MaxPages:          50,
				Timeout:           30 * time.Second,
				RequestsPerSecond: 1,
				Burst:             1,
				MaxRetries:        5,
				RetryBaseDelay:    time.Second,
			},
			Stream: StreamSourceConfig{
				Transport:   "memory",
				Topic:       "listens",
				URL:         "nats://127.0.0.1:4222",
				IdleTimeout: 2 * time.Second,
				Simulate: SimulateConfig{
					Count:           500,
					Seed:            42,
					Users:           20,
					Artists:         30,
					TracksPerArtist: 8,
					Spacing:         3 * time.Minute,
				},
			},
		},
		Ingest: IngestConfig{
			BatchSize:        1000,
			RetryAttempts:    3,
			RetryDelay:       time.Second,
			ReadAttempts:     3,
			InitialSince:     "",
			FullResync:       false,
			RejectionSamples: 100,
		},
		Enrich: EnrichConfig{
			Enabled:           false,
			BaseURL:           "https://musicbrainz.org/ws/2",
			UserAgent:         "listenflow/1.0 ( https://github.com/tomtom215/listenflow )",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 1,
			MaxArtists:        100,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "/data/history",
			Retain:  500,
		},
		Server: ServerConfig{
			ListenAddr: ":9464",
			Interval:   15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment. An explicit path wins over CONFIG_PATH and the default paths;
// a missing explicit path is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// SOURCE_KIND -> source.kind, LISTENBRAINZ_USER -> source.api.user
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Variables not listed are ignored.
var envMappings = map[string]string{
	// Database
	"duckdb_path":       "database.path",
	"db_path":           "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",
	"db_query_timeout":  "database.query_timeout",
	"db_commit_timeout": "database.commit_timeout",

	// Source selection
	"source_kind":        "source.kind",
	"source_max_window":  "source.max_window",
	"source_max_records": "source.max_records",
	"source_file_path":   "source.file.path",
	"source_file_format": "source.file.format",

	// ListenBrainz
	"listenbrainz_url":                 "source.api.base_url",
	"listenbrainz_user":                "source.api.user",
	"listenbrainz_token":               "source.api.token",
	"listenbrainz_page_size":           "source.api.page_size",
	"listenbrainz_max_pages":           "source.api.max_pages",
	"listenbrainz_timeout":             "source.api.timeout",
	"listenbrainz_requests_per_second": "source.api.requests_per_second",
	"listenbrainz_max_retries":         "source.api.max_retries",

	// Stream
	"stream_transport":    "source.stream.transport",
	"stream_topic":        "source.stream.topic",
	"stream_url":          "source.stream.url",
	"nats_url":            "source.stream.url",
	"stream_idle_timeout": "source.stream.idle_timeout",
	"simulate_count":      "source.stream.simulate.count",
	"simulate_seed":       "source.stream.simulate.seed",
	"simulate_start":      "source.stream.simulate.start",

	// Ingest
	"batch_size":            "ingest.batch_size",
	"ingest_batch_size":     "ingest.batch_size",
	"ingest_retry_attempts": "ingest.retry_attempts",
	"ingest_retry_delay":    "ingest.retry_delay",
	"ingest_read_attempts":  "ingest.read_attempts",
	"ingest_initial_since":  "ingest.initial_since",
	"full_resync":           "ingest.full_resync",

	// Enrichment
	"enrich_enabled":         "enrich.enabled",
	"enrich_max_artists":     "enrich.max_artists",
	"musicbrainz_url":        "enrich.base_url",
	"musicbrainz_user_agent": "enrich.user_agent",

	// History
	"history_enabled": "history.enabled",
	"history_path":    "history.path",
	"history_retain":  "history.retain",

	// Serve mode
	"listen_addr":     "server.listen_addr",
	"server_interval": "server.interval",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
