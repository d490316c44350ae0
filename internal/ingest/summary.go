// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package ingest

import (
	"time"

	"github.com/tomtom215/listenflow/internal/enrich"
	"github.com/tomtom215/listenflow/internal/models"
	"github.com/tomtom215/listenflow/internal/persist"
)

// Summary holds the totals and outcome of one run.
type Summary struct {
	RunID      string            `json:"run_id"`
	Source     models.SourceKind `json:"source"`
	DryRun     bool              `json:"dry_run"`
	FullResync bool              `json:"full_resync"`
	State      State             `json:"state"`

	StartTime time.Time `json:"start_time"`

	// EndTime is zero while the run is in progress.
	EndTime time.Time `json:"end_time"`

	// StartWatermark is MAX(played_at) when the run began.
	StartWatermark *time.Time `json:"start_watermark,omitempty"`

	// Since is the inclusive lower bound of the last read attempt.
	Since *time.Time `json:"since,omitempty"`

	// LastGoodWatermark is the newest played_at known to be committed: the
	// start watermark advanced by each committed batch. A dry run never
	// advances it.
	LastGoodWatermark *time.Time `json:"last_good_watermark,omitempty"`

	// Read counts raw records, including those rejected later.
	Read     int64 `json:"read"`
	Inserted int64 `json:"inserted"`
	Skipped  int64 `json:"skipped"`
	Rejected int64 `json:"rejected"`
	Clamped  int64 `json:"clamped"`

	UsersCreated   int64 `json:"users_created"`
	ArtistsCreated int64 `json:"artists_created"`
	TracksCreated  int64 `json:"tracks_created"`

	Batches      int `json:"batches"`
	BatchRetries int `json:"batch_retries"`
	ReadAttempts int `json:"read_attempts"`

	Rejections *models.RejectionReport `json:"rejections"`

	// Enrichment is set when artist enrichment ran after the run.
	Enrichment *enrich.Result `json:"enrichment,omitempty"`

	// Failure is set when State is Failed.
	Failure *FailurePoint `json:"failure,omitempty"`
}

// FailurePoint records where a run stopped.
type FailurePoint struct {
	State State `json:"state"`

	// Batch is the 1-based batch being processed, 0 before the first batch.
	Batch int `json:"batch"`

	Kind      models.ErrorKind `json:"kind,omitempty"`
	Error     string           `json:"error"`
	Cancelled bool             `json:"cancelled"`
}

// Duration returns the elapsed time of the run.
func (s *Summary) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// RecordsPerSecond returns the read rate.
func (s *Summary) RecordsPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(s.Read) / duration
}

// Failed reports whether the run ended in the Failed state.
func (s *Summary) Failed() bool {
	return s.State == StateFailed
}

func (s *Summary) addBatch(res *persist.BatchResult) {
	s.Batches++
	s.Inserted += int64(res.Inserted)
	s.Skipped += int64(res.Skipped)
	s.Rejected += int64(res.Rejected)
	s.Clamped += int64(res.Clamped)
	s.UsersCreated += int64(res.UsersCreated)
	s.ArtistsCreated += int64(res.ArtistsCreated)
	s.TracksCreated += int64(res.TracksCreated)

	for _, rej := range res.Rejections {
		s.Rejections.Add(rej)
	}

	if !res.DryRun && res.MaxPlayedAt != nil {
		if s.LastGoodWatermark == nil || res.MaxPlayedAt.After(*s.LastGoodWatermark) {
			at := *res.MaxPlayedAt
			s.LastGoodWatermark = &at
		}
	}
}

// Copy returns a deep enough copy for handing out while a run continues.
func (s *Summary) Copy() *Summary {
	out := *s
	if s.Rejections != nil {
		rep := *s.Rejections
		rep.ByReason = make(map[string]int, len(s.Rejections.ByReason))
		for k, v := range s.Rejections.ByReason {
			rep.ByReason[k] = v
		}
		rep.Samples = append([]models.Rejection(nil), s.Rejections.Samples...)
		out.Rejections = &rep
	}
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	if s.Enrichment != nil {
		e := *s.Enrichment
		out.Enrichment = &e
	}
	return &out
}
