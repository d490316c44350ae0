// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package services

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/listenflow/internal/ingest"
	"github.com/tomtom215/listenflow/internal/logging"
)

// Runner runs one ingestion pass. Satisfied by *ingest.Orchestrator.
type Runner interface {
	Run(ctx context.Context, opts ingest.RunOptions) (*ingest.Summary, error)
}

// IngestService runs ingestion on a fixed interval and on demand.
//
// The first run starts as soon as the service is served. A failed run is
// logged and the next tick tries again, so a flaky source never makes suture
// restart the scheduler. Runs never overlap.
type IngestService struct {
	runner   Runner
	interval time.Duration
	trigger  chan struct{}
	name     string

	mu   sync.RWMutex
	last *ingest.Summary
}

// NewIngestService creates a scheduler for runner. A non-positive interval
// means 5m.
func NewIngestService(runner Runner, interval time.Duration) *IngestService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &IngestService{
		runner:   runner,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		name:     "ingest-scheduler",
	}
}

// Trigger asks for a run as soon as the current one (if any) ends. It
// returns false when a triggered run is already pending.
func (s *IngestService) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Last returns the summary of the most recent run, or nil before the first.
func (s *IngestService) Last() *ingest.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	return s.last.Copy()
}

// Serve implements suture.Service.
func (s *IngestService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx, "interval")
		case <-s.trigger:
			s.runOnce(ctx, "trigger")
		}
	}
}

func (s *IngestService) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	sum, err := s.runner.Run(ctx, ingest.RunOptions{})
	if sum != nil {
		s.mu.Lock()
		s.last = sum
		s.mu.Unlock()
	}
	runID := ""
	if sum != nil {
		runID = sum.RunID
	}
	if err != nil {
		logging.Warn().Err(err).Str("reason", reason).Str("run_id", runID).Msg("Scheduled ingestion run failed")
		return
	}
	logging.Debug().Str("reason", reason).Str("run_id", runID).Msg("Scheduled ingestion run completed")
}

// String names the service in suture events.
func (s *IngestService) String() string {
	return s.name
}
