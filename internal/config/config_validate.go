// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/validation"
)

// Validate checks field-level rules first, then cross-field rules per section.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateSource(); err != nil {
		return err
	}

	if err := c.validateIngest(); err != nil {
		return err
	}

	if err := c.validateEnrich(); err != nil {
		return err
	}

	if err := c.validateHistory(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateSource() error {
	switch c.Source.Kind {
	case "file":
		return c.validateFileSource()
	case "api":
		return c.validateAPISource()
	case "stream":
		return c.validateStreamSource()
	default:
		return fmt.Errorf("source.kind must be one of file, api, stream (got %q)", c.Source.Kind)
	}
}

func (c *Config) validateFileSource() error {
	if c.Source.File.Path == "" {
		return fmt.Errorf("source.file.path is required when source.kind is file")
	}
	if c.Source.File.Format == "" {
		if _, err := FileFormatFromPath(c.Source.File.Path); err != nil {
			return err
		}
	}
	return nil
}

// FileFormatFromPath infers a batch file format from its extension.
func FileFormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv", nil
	case ".json":
		return "json", nil
	case ".jsonl", ".ndjson":
		return "jsonl", nil
	case ".parquet":
		return "parquet", nil
	default:
		return "", fmt.Errorf("cannot infer source.file.format from %q; set it explicitly", path)
	}
}

func (c *Config) validateAPISource() error {
	api := c.Source.API
	if api.User == "" {
		return fmt.Errorf("source.api.user is required when source.kind is api")
	}
	u, err := url.Parse(api.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.api.base_url must be an absolute URL (got %q)", api.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source.api.base_url must use http or https (got %q)", u.Scheme)
	}
	return nil
}

func (c *Config) validateStreamSource() error {
	s := c.Source.Stream
	if s.Transport == "nats" && s.URL == "" {
		return fmt.Errorf("source.stream.url is required for the nats transport")
	}
	if _, err := s.Simulate.StartTime(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateIngest() error {
	if _, err := c.Ingest.InitialSinceTime(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEnrich() error {
	if !c.Enrich.Enabled {
		return nil
	}
	u, err := url.Parse(c.Enrich.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("enrich.base_url must be an http(s) URL (got %q)", c.Enrich.BaseURL)
	}
	if strings.TrimSpace(c.Enrich.UserAgent) == "" {
		return fmt.Errorf("enrich.user_agent is required when enrichment is enabled")
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	return nil
}
