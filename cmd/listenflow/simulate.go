// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/source"
)

func newSimulateCmd(c *cli) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish simulated listens to the NATS JetStream topic",
		Long: `Simulate publishes source.stream.simulate.count generated listens to
source.stream.topic. Message IDs are deterministic, so publishing the same
seed twice is deduplicated by JetStream. Use it to feed a stream source
with source.stream.transport=nats.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			streamCfg := c.cfg.Source.Stream
			if streamCfg.URL == "" {
				return errors.New("source.stream.url is required to publish to NATS")
			}
			if cmd.Flags().Changed("count") {
				streamCfg.Simulate.Count = count
			}

			sim, err := source.NewSimulator(streamCfg.Simulate)
			if err != nil {
				return err
			}
			pub, err := source.NewNATSPublisher(&streamCfg, logging.NewWatermillLogger("simulate"))
			if err != nil {
				return err
			}
			defer func() { _ = pub.Close() }()

			n, err := sim.Publish(cmd.Context(), pub, streamCfg.Topic)
			logging.Info().Int("published", n).Str("topic", streamCfg.Topic).Msg("Published simulated listens")
			if err != nil {
				return err
			}
			return printJSON(c.stdout, map[string]interface{}{"published": n, "topic": streamCfg.Topic})
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "listens to publish (default source.stream.simulate.count)")
	return cmd
}
