// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/database"
)

// healthReport is printed by the health command.
type healthReport struct {
	Status    string           `json:"status"`
	Path      string           `json:"path"`
	Error     string           `json:"error,omitempty"`
	Watermark *time.Time       `json:"watermark,omitempty"`
	Counts    *database.Counts `json:"counts,omitempty"`
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that storage is reachable",
		Long: `Health opens the DuckDB file read-only, pings it and reports row counts
and the watermark. It never reads the source and never creates the file or
its schema. A missing database file is reported as unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := checkStorage(cmd.Context(), &c.cfg.Database)
			if err := printJSON(c.stdout, report); err != nil {
				return err
			}
			if report.Status != "healthy" {
				return errRunFailed
			}
			return nil
		},
	}
}

func checkStorage(ctx context.Context, cfg *config.DatabaseConfig) healthReport {
	report := healthReport{Status: "unavailable", Path: cfg.Path}

	// A file store is opened read-only: health never creates the file or
	// runs schema DDL. An in-memory store has nothing to protect.
	var (
		db  *database.DB
		err error
	)
	if cfg.Path == ":memory:" {
		db, err = database.New(cfg)
	} else {
		db, err = database.OpenReadOnly(cfg)
	}
	if err != nil {
		report.Error = err.Error()
		return report
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(ctx); err != nil {
		report.Error = err.Error()
		return report
	}
	report.Status = "healthy"

	if counts, err := db.Counts(ctx); err == nil {
		report.Counts = &counts
	}
	if wm, err := db.MaxPlayedAt(ctx); err == nil {
		report.Watermark = wm
	}
	return report
}
