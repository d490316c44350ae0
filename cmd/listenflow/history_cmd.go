// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tomtom215/listenflow/internal/history"
	"github.com/tomtom215/listenflow/internal/ingest"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded run summaries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.cfg.History.Enabled {
				return errors.New("run history is disabled (history.enabled=false)")
			}
			store, err := history.Open(&c.cfg.History)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*ingest.Summary{}
			}
			return printJSON(c.stdout, runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to list (0 for all)")
	return cmd
}
