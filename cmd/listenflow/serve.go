// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/listenflow/internal/api"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/supervisor"
	"github.com/tomtom215/listenflow/internal/supervisor/services"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion on server.interval and serve /healthz, /metrics and /runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openPipeline(c.cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
			if err != nil {
				return err
			}

			scheduler := services.NewIngestService(p.orch, c.cfg.Server.Interval)
			tree.AddIngestService(scheduler)

			var runs api.RunHistory
			if p.history != nil {
				runs = p.history
			}
			server := &http.Server{
				Addr:              c.cfg.Server.ListenAddr,
				Handler:           api.NewRouter(api.NewHandler(p.db, runs, scheduler), api.DefaultRouterConfig()),
				ReadHeaderTimeout: 10 * time.Second,
			}
			tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

			logging.Info().
				Str("listen_addr", c.cfg.Server.ListenAddr).
				Dur("interval", c.cfg.Server.Interval).
				Str("source", c.cfg.Source.Kind).
				Msg("Starting listenflow serve")

			err = tree.Serve(cmd.Context())
			if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
				logging.Warn().Int("count", len(report)).Msg("Services did not stop within the shutdown timeout")
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logging.Info().Msg("listenflow serve stopped")
			return nil
		},
	}
}
