// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/listenflow/internal/ingest"
)

func newRunCmd(c *cli) *cobra.Command {
	var opts ingest.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass from the stored watermark",
		Long: `Run reads every record at or after MAX(played_at), commits new plays in
batches and prints the run summary as JSON. It exits 1 when the run fails;
batches committed before the failure stay stored and a re-run is safe.

With --dry-run records go through normalization and dimension resolution
inside a transaction that is always rolled back, and the summary reports
what a real run would have inserted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openPipeline(c.cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			sum, runErr := p.orch.Run(cmd.Context(), opts)
			if err := printJSON(c.stdout, sum); err != nil {
				return err
			}
			if runErr != nil {
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "resolve and report without persisting")
	cmd.Flags().BoolVar(&opts.FullResync, "full-resync", false, "ignore the watermark and re-read from ingest.initial_since")
	return cmd
}
